package service

import (
	"fmt"
	"strings"

	"appraisal-review-backend/models"
)

// Aggregator merges the findings of every review stream into one
// verdict. Risk is the maximum over streams, so adding a stream can
// only raise the overall risk, never lower it.
type Aggregator struct{}

// NewAggregator creates a new aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate computes the overall risk, recommendations, and summary for
// an assembled result. The result's finding slices must already be
// populated; Aggregate fills OverallRisk, Recommendations, and Summary
// in place.
func (a *Aggregator) Aggregate(result *models.ReviewResult) {
	risk := models.RiskLow

	for _, issue := range result.ValidationIssues {
		switch issue.Level {
		case models.IssueLevelError:
			risk = risk.Max(models.RiskHigh)
		case models.IssueLevelWarning:
			risk = risk.Max(models.RiskMedium)
		}
	}

	for _, cmp := range result.Comparisons {
		if !cmp.IsAbnormal {
			continue
		}
		if cmp.Severe {
			risk = risk.Max(models.RiskHigh)
		} else {
			risk = risk.Max(models.RiskMedium)
		}
	}

	for _, issue := range result.SemanticIssues {
		switch issue.Severity {
		case models.SemanticCritical:
			risk = risk.Max(models.RiskHigh)
		case models.SemanticMajor:
			risk = risk.Max(models.RiskMedium)
		}
	}

	result.OverallRisk = risk
	result.Recommendations = a.recommendations(result)
	result.Summary = a.summarize(result)
}

// recommendations collects actionable suggestions in stream order:
// validation, comparison, semantic. Duplicates are dropped, first
// occurrence wins.
func (a *Aggregator) recommendations(result *models.ReviewResult) []string {
	recs := make([]string, 0)
	seen := make(map[string]bool)
	add := func(rec string) {
		if rec == "" || seen[rec] {
			return
		}
		seen[rec] = true
		recs = append(recs, rec)
	}

	for _, issue := range result.ValidationIssues {
		add(issue.Suggestion)
	}
	for _, cmp := range result.Comparisons {
		if cmp.IsAbnormal {
			add(fmt.Sprintf("verify %s against recent comparable transactions", cmp.Item))
		}
	}
	for _, issue := range result.SemanticIssues {
		add(issue.Suggestion)
	}

	return recs
}

func (a *Aggregator) summarize(result *models.ReviewResult) string {
	errors, warnings := 0, 0
	for _, issue := range result.ValidationIssues {
		switch issue.Level {
		case models.IssueLevelError:
			errors++
		case models.IssueLevelWarning:
			warnings++
		}
	}

	abnormal := 0
	insufficient := 0
	for _, cmp := range result.Comparisons {
		if cmp.IsAbnormal {
			abnormal++
		}
		if cmp.Insufficient {
			insufficient++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "overall risk %s: %d validation errors, %d warnings", result.OverallRisk, errors, warnings)
	if abnormal > 0 {
		fmt.Fprintf(&b, ", %d abnormal comparisons", abnormal)
	}
	if insufficient > 0 {
		fmt.Fprintf(&b, ", %d comparisons with insufficient data", insufficient)
	}
	if n := len(result.SemanticIssues); n > 0 {
		fmt.Fprintf(&b, ", %d semantic issues", n)
	}
	if result.Degraded {
		b.WriteString(" (degraded: semantic signals unavailable)")
	}
	return b.String()
}
