package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"appraisal-review-backend/models"
)

// SearchMode selects how candidates are scored
type SearchMode string

const (
	// ModeStructured scores on structured fields only
	ModeStructured SearchMode = "structured"
	// ModeSemantic scores on embedding similarity only
	ModeSemantic SearchMode = "semantic"
	// ModeHybrid blends both signals
	ModeHybrid SearchMode = "hybrid"
)

// defaultVectorWeight is the embedding share of a hybrid score
const defaultVectorWeight = 0.6

// Structured similarity weights. They sum to 1; a field missing on
// either side contributes 0 without shrinking the denominator, so
// sparse candidates are penalized rather than inflated.
const (
	weightDistrict  = 0.25
	weightArea      = 0.20
	weightUsage     = 0.15
	weightPrice     = 0.15
	weightFloor     = 0.10
	weightBuildYear = 0.10
	weightAddress   = 0.05
)

// Difference scales for numeric fields: a gap of one full scale drives
// that field's contribution to zero
const (
	scaleArea      = 50.0
	scalePrice     = 10000.0
	scaleFloor     = 20.0
	scaleBuildYear = 10.0
)

var ErrInvalidSearchMode = errors.New("invalid search mode")

// SimilarityQuery describes the subject a search runs against. Pointer
// fields are optional; hard constraints ride in Constraints and are
// applied before scoring.
type SimilarityQuery struct {
	ReportType   models.ReportType
	District     string
	Address      string
	Usage        string
	Area         *float64
	Price        *float64
	BuildYear    *int
	CurrentFloor *int

	Mode         SearchMode
	VectorWeight *float64
	Limit        int
	Constraints  models.CaseQuery
}

// caseFinder is the corpus surface the similarity engine needs
type caseFinder interface {
	Query(ctx context.Context, q models.CaseQuery) ([]models.Case, error)
	GetCasesByIDs(ctx context.Context, caseIDs []string) ([]models.Case, error)
	SearchByEmbedding(ctx context.Context, embedding []float64, k int, q models.CaseQuery) ([]models.CaseNeighbor, error)
}

// SimilarityEngine scores corpus cases against a query subject using a
// blend of embedding similarity and structured field similarity
type SimilarityEngine struct {
	cases    caseFinder
	embedder Embedder
}

// NewSimilarityEngine creates a new similarity engine
func NewSimilarityEngine(cases caseFinder, embedder Embedder) *SimilarityEngine {
	return &SimilarityEngine{cases: cases, embedder: embedder}
}

// Search returns the top matches for the query, best first. The second
// return reports whether the result is degraded: the vector signal was
// requested but unavailable, so scores fell back to structured only.
func (e *SimilarityEngine) Search(ctx context.Context, q SimilarityQuery) ([]models.SimilarCase, bool, error) {
	vectorWeight, err := resolveVectorWeight(q)
	if err != nil {
		return nil, false, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	constraints := q.Constraints
	constraints.ReportType = q.ReportType
	// Pull a wider pool than requested so scoring has room to reorder
	constraints.Limit = limit * 5
	if constraints.Limit < 50 {
		constraints.Limit = 50
	}

	degraded := false
	vectorScores := make(map[string]float64)
	if vectorWeight > 0 {
		neighbors, err := e.vectorNeighbors(ctx, q, constraints)
		if err != nil {
			if vectorWeight >= 1 {
				// Pure semantic mode has nothing to fall back to
				return nil, false, err
			}
			degraded = true
			vectorWeight = 0
		} else {
			for _, n := range neighbors {
				vectorScores[n.CaseID] = n.Score
			}
		}
	}

	candidates, err := e.candidatePool(ctx, constraints, vectorScores)
	if err != nil {
		return nil, false, err
	}

	type scored struct {
		c          models.Case
		score      float64
		structured float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		structured := StructuredScore(q, &c)
		score := vectorWeight*vectorScores[c.CaseID] + (1-vectorWeight)*structured
		results = append(results, scored{c: c, score: score, structured: structured})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].structured != results[j].structured {
			return results[i].structured > results[j].structured
		}
		return results[i].c.CaseID < results[j].c.CaseID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]models.SimilarCase, 0, len(results))
	for _, r := range results {
		out = append(out, models.SimilarCase{Case: r.c, Score: r.score})
	}
	return out, degraded, nil
}

func resolveVectorWeight(q SimilarityQuery) (float64, error) {
	switch q.Mode {
	case ModeStructured:
		return 0, nil
	case ModeSemantic:
		return 1, nil
	case ModeHybrid, "":
		if q.VectorWeight != nil {
			w := *q.VectorWeight
			if w < 0 || w > 1 {
				return 0, fmt.Errorf("%w: vector weight %.2f outside [0,1]", ErrInvalidSearchMode, w)
			}
			return w, nil
		}
		return defaultVectorWeight, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSearchMode, q.Mode)
	}
}

func (e *SimilarityEngine) vectorNeighbors(ctx context.Context, q SimilarityQuery, constraints models.CaseQuery) ([]models.CaseNeighbor, error) {
	if e.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}

	subject := models.ReportSubject{
		Address:      q.Address,
		District:     q.District,
		Usage:        q.Usage,
		BuildingArea: q.Area,
		UnitPrice:    q.Price,
	}
	embedding, err := e.embedder.Embed(ctx, BuildSubjectText(&subject), "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}

	return e.cases.SearchByEmbedding(ctx, embedding, constraints.Limit, constraints)
}

// candidatePool merges the structured constraint pool with any vector
// hits the constraint query missed, so semantic-only matches still get
// structured scores
func (e *SimilarityEngine) candidatePool(ctx context.Context, constraints models.CaseQuery, vectorScores map[string]float64) ([]models.Case, error) {
	candidates, err := e.cases.Query(ctx, constraints)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.CaseID] = true
	}

	var missing []string
	for caseID := range vectorScores {
		if !seen[caseID] {
			missing = append(missing, caseID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		extra, err := e.cases.GetCasesByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, extra...)
	}

	return candidates, nil
}

// StructuredScore computes the field-level similarity between a query
// subject and a corpus case, in [0,1]
func StructuredScore(q SimilarityQuery, c *models.Case) float64 {
	score := 0.0

	if q.District != "" && c.District != "" && q.District == c.District {
		score += weightDistrict
	}
	if q.Usage != "" && c.Usage != "" && q.Usage == c.Usage {
		score += weightUsage
	}
	if q.Area != nil && *q.Area > 0 && c.Area > 0 {
		score += weightArea * numericSimilarity(*q.Area, c.Area, scaleArea)
	}
	if q.Price != nil && *q.Price > 0 && c.Price > 0 {
		score += weightPrice * numericSimilarity(*q.Price, c.Price, scalePrice)
	}
	if q.CurrentFloor != nil && c.CurrentFloor != nil {
		score += weightFloor * numericSimilarity(float64(*q.CurrentFloor), float64(*c.CurrentFloor), scaleFloor)
	}
	if q.BuildYear != nil && c.BuildYear != nil {
		score += weightBuildYear * numericSimilarity(float64(*q.BuildYear), float64(*c.BuildYear), scaleBuildYear)
	}
	if q.Address != "" && c.Address != "" {
		score += weightAddress * keywordOverlap(q.Address, c.Address)
	}

	return score
}

// numericSimilarity maps an absolute difference onto [0,1]: equal
// values score 1, a gap of one scale or more scores 0
func numericSimilarity(a, b, scale float64) float64 {
	d := 1 - math.Abs(a-b)/scale
	if d < 0 {
		return 0
	}
	return d
}

// keywordOverlap is the Jaccard similarity of the address token sets
func keywordOverlap(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == ',' || r == '-' || r == '#' || r == '/' || r == '.'
	}) {
		tokens[f] = true
	}
	return tokens
}
