package service

import (
	"context"
	"errors"
	"testing"

	"appraisal-review-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpusCase(id string) models.Case {
	return models.Case{
		CaseID:       id,
		DocID:        "doc1",
		ReportType:   models.ReportTypeShezhi,
		District:     "D1",
		Address:      "124 Changan Ave",
		Usage:        "residential",
		Area:         124,
		Price:        25200,
		BuildYear:    intPtr(2014),
		CurrentFloor: intPtr(7),
		HasEmbedding: true,
	}
}

func subjectQuery() SimilarityQuery {
	return SimilarityQuery{
		ReportType:   models.ReportTypeShezhi,
		District:     "D1",
		Area:         floatPtr(120),
		Price:        floatPtr(25000),
		BuildYear:    intPtr(2015),
		CurrentFloor: intPtr(8),
	}
}

func TestStructuredScoreHandComputed(t *testing.T) {
	// district 1.0, area 1-4/50=0.92, price 1-200/10000=0.98,
	// floor 1-1/20=0.95, build year 1-1/10=0.90; usage and address
	// are absent from the query and contribute 0
	c := corpusCase("B")
	score := StructuredScore(subjectQuery(), &c)

	expected := 0.25*1.0 + 0.20*0.92 + 0.15*0.98 + 0.10*0.95 + 0.10*0.90
	assert.InDelta(t, expected, score, 1e-6)
	assert.InDelta(t, 0.766, score, 1e-6)
}

func TestStructuredScoreBounds(t *testing.T) {
	queries := []SimilarityQuery{
		subjectQuery(),
		{},
		{District: "D9", Area: floatPtr(9999), Price: floatPtr(1)},
		{Usage: "residential", Address: "124 Changan Ave"},
	}
	c := corpusCase("B")
	for _, q := range queries {
		score := StructuredScore(q, &c)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestStructuredScoreMissingFieldContributesZero(t *testing.T) {
	c := corpusCase("B")
	q := subjectQuery()

	full := StructuredScore(q, &c)
	q.Area = nil
	withoutArea := StructuredScore(q, &c)

	assert.InDelta(t, full-0.20*0.92, withoutArea, 1e-9)
}

func TestSearchStructuredModeIgnoresVector(t *testing.T) {
	store := newFakeCaseStore(corpusCase("B"))
	store.searchErr = errors.New("index down")
	engine := NewSimilarityEngine(store, &fakeEmbedder{err: errors.New("embedder down")})

	q := subjectQuery()
	q.Mode = ModeStructured
	matches, degraded, err := engine.Search(context.Background(), q)

	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.766, matches[0].Score, 1e-6)
}

func TestSearchSemanticModeUsesVectorScore(t *testing.T) {
	store := newFakeCaseStore(corpusCase("B"))
	store.neighbors = []models.CaseNeighbor{{CaseID: "B", Score: 0.83}}
	engine := NewSimilarityEngine(store, &fakeEmbedder{})

	q := subjectQuery()
	q.Mode = ModeSemantic
	matches, degraded, err := engine.Search(context.Background(), q)

	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.83, matches[0].Score, 1e-9)
}

func TestSearchSemanticModeFailsWithoutVector(t *testing.T) {
	store := newFakeCaseStore(corpusCase("B"))
	engine := NewSimilarityEngine(store, &fakeEmbedder{err: errors.New("embedder down")})

	q := subjectQuery()
	q.Mode = ModeSemantic
	_, _, err := engine.Search(context.Background(), q)

	assert.Error(t, err)
}

func TestSearchHybridBlend(t *testing.T) {
	store := newFakeCaseStore(corpusCase("B"))
	store.neighbors = []models.CaseNeighbor{{CaseID: "B", Score: 0.80}}
	engine := NewSimilarityEngine(store, &fakeEmbedder{})

	q := subjectQuery()
	q.Mode = ModeHybrid
	matches, degraded, err := engine.Search(context.Background(), q)

	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.6*0.80+0.4*0.766, matches[0].Score, 1e-6)
}

func TestSearchHybridDegradesToStructured(t *testing.T) {
	store := newFakeCaseStore(corpusCase("B"))
	engine := NewSimilarityEngine(store, &fakeEmbedder{err: errors.New("embedder down")})

	matches, degraded, err := engine.Search(context.Background(), SimilarityQuery{
		ReportType: models.ReportTypeShezhi,
		District:   "D1",
		Area:       floatPtr(120),
		Mode:       ModeHybrid,
	})

	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, matches, 1)
	// Structured-only score after the vector signal fell away
	assert.InDelta(t, 0.25+0.20*0.92, matches[0].Score, 1e-6)
}

func TestSearchTieBreaksByCaseID(t *testing.T) {
	a := corpusCase("a")
	b := corpusCase("b")
	store := newFakeCaseStore(a, b)
	engine := NewSimilarityEngine(store, nil)

	q := subjectQuery()
	q.Mode = ModeStructured
	matches, _, err := engine.Search(context.Background(), q)

	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Case.CaseID)
	assert.Equal(t, "b", matches[1].Case.CaseID)
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	engine := NewSimilarityEngine(newFakeCaseStore(), nil)

	_, _, err := engine.Search(context.Background(), SimilarityQuery{Mode: "fuzzy"})

	assert.ErrorIs(t, err, ErrInvalidSearchMode)
}

func TestSearchRejectsWeightOutOfRange(t *testing.T) {
	engine := NewSimilarityEngine(newFakeCaseStore(), nil)

	_, _, err := engine.Search(context.Background(), SimilarityQuery{
		Mode:         ModeHybrid,
		VectorWeight: floatPtr(1.5),
	})

	assert.ErrorIs(t, err, ErrInvalidSearchMode)
}

func TestSearchIncludesVectorOnlyHits(t *testing.T) {
	// Case in a different district falls out of the structured pool but
	// arrives through the vector index
	other := corpusCase("far")
	other.District = "D7"
	store := newFakeCaseStore(other)
	store.neighbors = []models.CaseNeighbor{{CaseID: "far", Score: 0.9}}
	engine := NewSimilarityEngine(store, &fakeEmbedder{})

	q := subjectQuery()
	q.Mode = ModeHybrid
	q.Constraints = models.CaseQuery{District: "D1"}
	matches, _, err := engine.Search(context.Background(), q)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "far", matches[0].Case.CaseID)
}
