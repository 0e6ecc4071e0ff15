package service

import (
	"testing"

	"appraisal-review-backend/models"

	"github.com/stretchr/testify/assert"
)

func TestAggregateRiskLevels(t *testing.T) {
	tests := []struct {
		name   string
		result models.ReviewResult
		want   models.RiskLevel
	}{
		{
			name:   "no findings",
			result: models.ReviewResult{},
			want:   models.RiskLow,
		},
		{
			name: "info issue stays low",
			result: models.ReviewResult{
				ValidationIssues: []models.ValidationIssue{{Level: models.IssueLevelInfo}},
			},
			want: models.RiskLow,
		},
		{
			name: "validation warning",
			result: models.ReviewResult{
				ValidationIssues: []models.ValidationIssue{{Level: models.IssueLevelWarning}},
			},
			want: models.RiskMedium,
		},
		{
			name: "validation error",
			result: models.ReviewResult{
				ValidationIssues: []models.ValidationIssue{{Level: models.IssueLevelError}},
			},
			want: models.RiskHigh,
		},
		{
			name: "abnormal comparison",
			result: models.ReviewResult{
				Comparisons: []models.ComparisonResult{{IsAbnormal: true}},
			},
			want: models.RiskMedium,
		},
		{
			name: "severe comparison",
			result: models.ReviewResult{
				Comparisons: []models.ComparisonResult{{IsAbnormal: true, Severe: true}},
			},
			want: models.RiskHigh,
		},
		{
			name: "insufficient comparison carries no risk",
			result: models.ReviewResult{
				Comparisons: []models.ComparisonResult{{Insufficient: true}},
			},
			want: models.RiskLow,
		},
		{
			name: "major semantic issue",
			result: models.ReviewResult{
				SemanticIssues: []models.SemanticIssue{{Severity: models.SemanticMajor}},
			},
			want: models.RiskMedium,
		},
		{
			name: "critical semantic issue",
			result: models.ReviewResult{
				SemanticIssues: []models.SemanticIssue{{Severity: models.SemanticCritical}},
			},
			want: models.RiskHigh,
		},
		{
			name: "minor semantic issue stays low",
			result: models.ReviewResult{
				SemanticIssues: []models.SemanticIssue{{Severity: models.SemanticMinor}},
			},
			want: models.RiskLow,
		},
	}

	agg := NewAggregator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg.Aggregate(&tt.result)
			assert.Equal(t, tt.want, tt.result.OverallRisk)
		})
	}
}

func TestAggregateRiskNeverLowers(t *testing.T) {
	agg := NewAggregator()
	result := models.ReviewResult{
		ValidationIssues: []models.ValidationIssue{{Level: models.IssueLevelError}},
	}
	agg.Aggregate(&result)
	assert.Equal(t, models.RiskHigh, result.OverallRisk)

	// Piling on lower-severity findings keeps the verdict at high
	result.SemanticIssues = []models.SemanticIssue{{Severity: models.SemanticMinor}}
	result.Comparisons = []models.ComparisonResult{{IsAbnormal: true}}
	agg.Aggregate(&result)
	assert.Equal(t, models.RiskHigh, result.OverallRisk)
}

func TestAggregateRecommendations(t *testing.T) {
	agg := NewAggregator()
	result := models.ReviewResult{
		ValidationIssues: []models.ValidationIssue{
			{Level: models.IssueLevelError, Suggestion: "fill in the district"},
			{Level: models.IssueLevelWarning, Suggestion: "fill in the district"},
			{Level: models.IssueLevelWarning},
		},
		Comparisons: []models.ComparisonResult{
			{Item: "unit_price", IsAbnormal: true},
			{Item: "area"},
		},
		SemanticIssues: []models.SemanticIssue{
			{Severity: models.SemanticMajor, Suggestion: "reconcile the stated usage"},
		},
	}

	agg.Aggregate(&result)

	assert.Equal(t, []string{
		"fill in the district",
		"verify unit_price against recent comparable transactions",
		"reconcile the stated usage",
	}, result.Recommendations)
}

func TestAggregateSummary(t *testing.T) {
	agg := NewAggregator()
	result := models.ReviewResult{
		ValidationIssues: []models.ValidationIssue{
			{Level: models.IssueLevelError},
			{Level: models.IssueLevelWarning},
		},
		Comparisons: []models.ComparisonResult{
			{Item: "unit_price", IsAbnormal: true},
			{Item: "area", Insufficient: true},
		},
		Degraded: true,
	}

	agg.Aggregate(&result)

	assert.Contains(t, result.Summary, "overall risk high")
	assert.Contains(t, result.Summary, "1 validation errors")
	assert.Contains(t, result.Summary, "1 abnormal comparisons")
	assert.Contains(t, result.Summary, "insufficient data")
	assert.Contains(t, result.Summary, "degraded")
}
