package service

import (
	"strings"
	"testing"

	"appraisal-review-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemanticIssuesPlainArray(t *testing.T) {
	issues, err := parseSemanticIssues(`[
		{"type": "contradiction", "severity": "major", "description": "stated floor conflicts with case 1", "suggestion": "recheck floor", "case_id": "c1"}
	]`)

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "contradiction", issues[0].Type)
	assert.Equal(t, models.SemanticMajor, issues[0].Severity)
	assert.Equal(t, "c1", issues[0].CaseID)
}

func TestParseSemanticIssuesStripsFences(t *testing.T) {
	issues, err := parseSemanticIssues("```json\n[{\"severity\": \"critical\", \"description\": \"conclusion has no supporting reasoning\"}]\n```")

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, models.SemanticCritical, issues[0].Severity)
}

func TestParseSemanticIssuesExtractsArrayFromProse(t *testing.T) {
	issues, err := parseSemanticIssues(`Here are the issues I found:
[{"severity": "minor", "description": "unit mismatch in the area table"}]
Let me know if you need anything else.`)

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "unit mismatch in the area table", issues[0].Description)
}

func TestParseSemanticIssuesNormalizes(t *testing.T) {
	issues, err := parseSemanticIssues(`[
		{"severity": "catastrophic", "description": "made-up severity"},
		{"severity": "major", "description": ""},
		{"description": "no type given"}
	]`)

	require.NoError(t, err)
	require.Len(t, issues, 2)
	// Unknown severity downgrades to minor, empty descriptions are dropped
	assert.Equal(t, models.SemanticMinor, issues[0].Severity)
	assert.Equal(t, "consistency", issues[1].Type)
}

func TestParseSemanticIssuesEmptyArray(t *testing.T) {
	issues, err := parseSemanticIssues("[]")

	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestParseSemanticIssuesRejectsGarbage(t *testing.T) {
	_, err := parseSemanticIssues("the report looks fine to me")
	assert.Error(t, err)
}

func TestBuildReviewPromptIncludesCasesAndText(t *testing.T) {
	report := &models.ExtractedReport{
		ReportType: models.ReportTypeShezhi,
		Subject: models.ReportSubject{
			Address:   "120 Changan Ave",
			District:  "D1",
			UnitPrice: floatPtr(25000),
		},
		Cases: []models.ExtractedCase{
			{CaseID: "c1", Address: "124 Changan Ave", Area: floatPtr(124), UnitPrice: floatPtr(25200)},
		},
		ReviewText: "the subject enjoys superior access to transit",
	}

	prompt := buildReviewPrompt(report)

	assert.Contains(t, prompt, "shezhi")
	assert.Contains(t, prompt, "124 Changan Ave")
	assert.Contains(t, prompt, "the subject enjoys superior access to transit")
	assert.Contains(t, prompt, "JSON array")
}

func TestBuildReviewPromptTruncatesLongText(t *testing.T) {
	report := &models.ExtractedReport{
		ReportType: models.ReportTypeShezhi,
		ReviewText: strings.Repeat("x", maxReviewTextLen+500),
	}

	prompt := buildReviewPrompt(report)

	assert.LessOrEqual(t, strings.Count(prompt, "x"), maxReviewTextLen)
}
