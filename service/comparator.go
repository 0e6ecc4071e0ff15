package service

import (
	"fmt"

	"appraisal-review-backend/models"
)

// defaultComparisonMargin widens the neighborhood band before testing a
// value, so the corpus extremes do not flag ordinary variation
const defaultComparisonMargin = 0.05

// KBComparator places a report's numeric conclusions against the range
// observed in the matched corpus neighborhood. An empty or undersized
// neighborhood yields an insufficient-data result, never an abnormal
// one.
type KBComparator struct {
	margin   float64
	minCases int
}

// KBComparatorOption is a functional option for KBComparator
type KBComparatorOption func(*KBComparator)

// ComparatorWithMargin overrides the band margin
func ComparatorWithMargin(margin float64) KBComparatorOption {
	return func(c *KBComparator) {
		c.margin = margin
	}
}

// ComparatorWithMinCases overrides the minimum neighborhood size
func ComparatorWithMinCases(n int) KBComparatorOption {
	return func(c *KBComparator) {
		c.minCases = n
	}
}

// NewKBComparator creates a comparator with the default 5% margin
func NewKBComparator(opts ...KBComparatorOption) *KBComparator {
	c := &KBComparator{
		margin:   defaultComparisonMargin,
		minCases: minComparableCases,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare tests the subject's unit price and area against the
// neighborhood. Results come back in a fixed order: unit price first,
// then area.
func (c *KBComparator) Compare(subject *models.ReportSubject, neighborhood []models.Case) []models.ComparisonResult {
	results := make([]models.ComparisonResult, 0, 2)

	if subject.UnitPrice != nil && *subject.UnitPrice > 0 {
		prices := make([]float64, 0, len(neighborhood))
		for _, n := range neighborhood {
			if n.Price > 0 {
				prices = append(prices, n.Price)
			}
		}
		results = append(results, c.compareValue("unit_price", *subject.UnitPrice, prices))
	}

	if subject.BuildingArea != nil && *subject.BuildingArea > 0 {
		areas := make([]float64, 0, len(neighborhood))
		for _, n := range neighborhood {
			if n.Area > 0 {
				areas = append(areas, n.Area)
			}
		}
		results = append(results, c.compareValue("area", *subject.BuildingArea, areas))
	}

	return results
}

// compareValue tests one value against the margin-adjusted sample range.
// Beyond twice the margin the finding is marked severe.
func (c *KBComparator) compareValue(item string, value float64, samples []float64) models.ComparisonResult {
	if len(samples) < c.minCases {
		return models.ComparisonResult{
			Item:         item,
			CurrentValue: value,
			Insufficient: true,
			Description:  fmt.Sprintf("insufficient data: only %d comparable samples for %s", len(samples), item),
		}
	}

	rawMin, rawMax := samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < rawMin {
			rawMin = s
		}
		if s > rawMax {
			rawMax = s
		}
	}

	kbMin := rawMin * (1 - c.margin)
	kbMax := rawMax * (1 + c.margin)
	severeMin := rawMin * (1 - 2*c.margin)
	severeMax := rawMax * (1 + 2*c.margin)

	result := models.ComparisonResult{
		Item:         item,
		CurrentValue: value,
		KBMin:        kbMin,
		KBMax:        kbMax,
	}

	switch {
	case value < kbMin:
		result.IsAbnormal = true
		result.Severe = value < severeMin
		result.Description = fmt.Sprintf("%s %.2f is below the comparable range [%.2f, %.2f]", item, value, kbMin, kbMax)
	case value > kbMax:
		result.IsAbnormal = true
		result.Severe = value > severeMax
		result.Description = fmt.Sprintf("%s %.2f is above the comparable range [%.2f, %.2f]", item, value, kbMin, kbMax)
	default:
		result.Description = fmt.Sprintf("%s %.2f is within the comparable range [%.2f, %.2f]", item, value, kbMin, kbMax)
	}

	return result
}
