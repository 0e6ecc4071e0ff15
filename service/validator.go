package service

import (
	"fmt"
	"math"
	"sort"

	"appraisal-review-backend/models"
)

// Formula check tolerance: relative first, with an absolute floor so
// small totals do not fail on rounding noise
const (
	formulaRelTolerance = 0.01
	formulaAbsTolerance = 10.0
)

// Correction coefficients outside this range indicate an implausible
// adjustment between a comparable and the subject
const (
	correctionMin = 0.7
	correctionMax = 1.3
)

// Unit price plausibility bands per report type, in yuan per square
// meter (rent per month for zujin)
const (
	salePriceFloor = 1000.0
	salePriceCeil  = 200000.0
	rentPriceFloor = 50.0
	rentPriceCeil  = 2000.0
)

// minComparableCases is the fewest comparables a report can cite before
// the comparison basis itself is flagged
const minComparableCases = 3

// RuleValidator runs deterministic document checks: completeness,
// arithmetic back-checks, and reasonability bands. It never calls
// external services and always runs all checks, accumulating findings
// rather than stopping at the first.
type RuleValidator struct{}

// NewRuleValidator creates a new rule validator
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

// Validate runs every rule pass over the extracted report. Findings come
// back in a fixed order: completeness, then formulas, then
// reasonability, each in document order.
func (v *RuleValidator) Validate(report *models.ExtractedReport) ([]models.ValidationIssue, []models.FormulaCheck) {
	issues := make([]models.ValidationIssue, 0)

	issues = append(issues, v.checkCompleteness(report)...)
	checks, formulaIssues := v.checkFormulas(report)
	issues = append(issues, formulaIssues...)
	issues = append(issues, v.checkReasonability(report)...)

	return issues, checks
}

// checkCompleteness verifies the subject and each case carry the fields
// later stages depend on
func (v *RuleValidator) checkCompleteness(report *models.ExtractedReport) []models.ValidationIssue {
	issues := make([]models.ValidationIssue, 0)

	if report.Subject.Address == "" {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelError,
			Category:    models.CategoryCompleteness,
			Description: "subject property address is missing",
			Suggestion:  "fill in the appraised property address",
		})
	}
	if report.Subject.District == "" {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelWarning,
			Category:    models.CategoryCompleteness,
			Description: "subject district is missing, location checks will be weaker",
			Suggestion:  "fill in the district of the appraised property",
		})
	}
	if report.Subject.BuildingArea == nil || *report.Subject.BuildingArea <= 0 {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelError,
			Category:    models.CategoryCompleteness,
			Description: "subject building area is missing or not positive",
			Suggestion:  "fill in the building area of the appraised property",
		})
	}
	if report.Subject.UnitPrice == nil || *report.Subject.UnitPrice <= 0 {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelError,
			Category:    models.CategoryCompleteness,
			Description: "subject unit price conclusion is missing",
			Suggestion:  "fill in the appraised unit price",
		})
	}

	if len(report.Cases) == 0 {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelError,
			Category:    models.CategoryCompleteness,
			Description: "report cites no comparable cases",
			Suggestion:  "add comparable transaction cases",
		})
		return issues
	}
	if len(report.Cases) < minComparableCases {
		issues = append(issues, models.ValidationIssue{
			Level:       models.IssueLevelWarning,
			Category:    models.CategoryCompleteness,
			Description: fmt.Sprintf("report cites only %d comparable cases, fewer than %d", len(report.Cases), minComparableCases),
			Suggestion:  fmt.Sprintf("cite at least %d comparable cases", minComparableCases),
		})
	}

	for _, c := range report.Cases {
		label := caseLabel(c)
		if c.Address == "" {
			issues = append(issues, models.ValidationIssue{
				Level:       models.IssueLevelWarning,
				Category:    models.CategoryCompleteness,
				Description: fmt.Sprintf("case %s is missing an address", label),
			})
		}
		if c.Area == nil || *c.Area <= 0 {
			issues = append(issues, models.ValidationIssue{
				Level:       models.IssueLevelWarning,
				Category:    models.CategoryCompleteness,
				Description: fmt.Sprintf("case %s is missing a building area", label),
			})
		}
		if c.UnitPrice == nil || *c.UnitPrice <= 0 {
			issues = append(issues, models.ValidationIssue{
				Level:       models.IssueLevelWarning,
				Category:    models.CategoryCompleteness,
				Description: fmt.Sprintf("case %s is missing a unit price", label),
			})
		}
	}

	return issues
}

// checkFormulas back-checks total = unit price x area for every case
// that carries all three numbers. Cases missing any operand are skipped,
// not failed.
func (v *RuleValidator) checkFormulas(report *models.ExtractedReport) ([]models.FormulaCheck, []models.ValidationIssue) {
	checks := make([]models.FormulaCheck, 0)
	issues := make([]models.ValidationIssue, 0)

	for _, c := range report.Cases {
		if c.UnitPrice == nil || c.Area == nil || c.ActualTotal == nil {
			continue
		}

		expected := *c.UnitPrice * *c.Area
		actual := *c.ActualTotal
		diff := math.Abs(expected - actual)
		tolerance := math.Max(math.Abs(expected)*formulaRelTolerance, formulaAbsTolerance)

		check := models.FormulaCheck{
			CaseID:     c.CaseID,
			Formula:    "total = unit_price * area",
			Expected:   expected,
			Actual:     actual,
			Difference: diff,
			IsValid:    diff <= tolerance,
		}
		checks = append(checks, check)

		if !check.IsValid {
			issues = append(issues, models.ValidationIssue{
				Level:    models.IssueLevelWarning,
				Category: models.CategoryFormula,
				Description: fmt.Sprintf("case %s total %.2f does not match unit_price * area = %.2f (difference %.2f)",
					caseLabel(c), actual, expected, diff),
				Suggestion: "recheck the unit price, area, and total of this case",
			})
		}
	}

	return checks, issues
}

// checkReasonability flags implausible correction coefficients and unit
// prices outside the band for the report type
func (v *RuleValidator) checkReasonability(report *models.ExtractedReport) []models.ValidationIssue {
	issues := make([]models.ValidationIssue, 0)

	priceFloor, priceCeil := salePriceFloor, salePriceCeil
	if report.ReportType == models.ReportTypeZujin {
		priceFloor, priceCeil = rentPriceFloor, rentPriceCeil
	}

	if report.Subject.UnitPrice != nil && *report.Subject.UnitPrice > 0 {
		p := *report.Subject.UnitPrice
		if p < priceFloor || p > priceCeil {
			issues = append(issues, models.ValidationIssue{
				Level:    models.IssueLevelWarning,
				Category: models.CategoryReasonability,
				Description: fmt.Sprintf("subject unit price %.2f is outside the plausible band [%.0f, %.0f] for %s reports",
					p, priceFloor, priceCeil, report.ReportType),
				Suggestion: "verify the appraised unit price and its unit of measure",
			})
		}
	}

	for _, c := range report.Cases {
		label := caseLabel(c)

		if c.UnitPrice != nil && *c.UnitPrice > 0 {
			p := *c.UnitPrice
			if p < priceFloor || p > priceCeil {
				issues = append(issues, models.ValidationIssue{
					Level:    models.IssueLevelWarning,
					Category: models.CategoryReasonability,
					Description: fmt.Sprintf("case %s unit price %.2f is outside the plausible band [%.0f, %.0f]",
						label, p, priceFloor, priceCeil),
				})
			}
		}

		names := make([]string, 0, len(c.Corrections))
		for name := range c.Corrections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			coeff := c.Corrections[name]
			if coeff < correctionMin || coeff > correctionMax {
				issues = append(issues, models.ValidationIssue{
					Level:    models.IssueLevelWarning,
					Category: models.CategoryReasonability,
					Description: fmt.Sprintf("case %s correction %q = %.3f is outside [%.1f, %.1f]",
						label, name, coeff, correctionMin, correctionMax),
					Suggestion: "recheck the correction coefficient derivation",
				})
			}
		}
	}

	return issues
}

func caseLabel(c models.ExtractedCase) string {
	if c.CaseID != "" {
		return c.CaseID
	}
	if c.Address != "" {
		return c.Address
	}
	return "(unidentified)"
}
