package service

import (
	"testing"

	"appraisal-review-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neighborhoodWithPrices(prices ...float64) []models.Case {
	cases := make([]models.Case, 0, len(prices))
	for _, p := range prices {
		cases = append(cases, models.Case{
			ReportType: models.ReportTypeShezhi,
			District:   "D1",
			Area:       110,
			Price:      p,
		})
	}
	return cases
}

func priceResult(t *testing.T, results []models.ComparisonResult) models.ComparisonResult {
	t.Helper()
	for _, r := range results {
		if r.Item == "unit_price" {
			return r
		}
	}
	t.Fatal("no unit_price comparison in results")
	return models.ComparisonResult{}
}

func TestCompareFlagsSevereOutlier(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{UnitPrice: floatPtr(35000)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 22000, 24000))

	r := priceResult(t, results)
	assert.True(t, r.IsAbnormal)
	assert.True(t, r.Severe)
	assert.False(t, r.Insufficient)
	assert.InDelta(t, 19000, r.KBMin, 1e-9)
	assert.InDelta(t, 25200, r.KBMax, 1e-9)
}

func TestCompareAbnormalButNotSevere(t *testing.T) {
	c := NewKBComparator()
	// Above kb_max 25200 but below the severe cutoff 26400
	subject := &models.ReportSubject{UnitPrice: floatPtr(25500)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 22000, 24000))

	r := priceResult(t, results)
	assert.True(t, r.IsAbnormal)
	assert.False(t, r.Severe)
}

func TestCompareInRangeValue(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{UnitPrice: floatPtr(21000)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 22000, 24000))

	r := priceResult(t, results)
	assert.False(t, r.IsAbnormal)
	assert.False(t, r.Severe)
	assert.Contains(t, r.Description, "within")
}

func TestCompareBelowRange(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{UnitPrice: floatPtr(17000)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 22000, 24000))

	r := priceResult(t, results)
	assert.True(t, r.IsAbnormal)
	assert.True(t, r.Severe)
	assert.Contains(t, r.Description, "below")
}

func TestCompareUndersizedNeighborhoodIsInsufficient(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{UnitPrice: floatPtr(35000)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 22000))

	r := priceResult(t, results)
	assert.True(t, r.Insufficient)
	assert.False(t, r.IsAbnormal)
	assert.False(t, r.Severe)
}

func TestCompareEmptyNeighborhood(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{
		UnitPrice:    floatPtr(35000),
		BuildingArea: floatPtr(120),
	}

	results := c.Compare(subject, nil)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Insufficient)
		assert.False(t, r.IsAbnormal)
	}
}

func TestCompareSkipsZeroPriceNeighbors(t *testing.T) {
	c := NewKBComparator()
	subject := &models.ReportSubject{UnitPrice: floatPtr(21000)}
	neighborhood := neighborhoodWithPrices(20000, 22000, 24000)
	neighborhood = append(neighborhood, models.Case{District: "D1", Area: 95})

	results := c.Compare(subject, neighborhood)

	r := priceResult(t, results)
	// The zero-price case must not drag kb_min down to 0
	assert.InDelta(t, 19000, r.KBMin, 1e-9)
	assert.False(t, r.IsAbnormal)
}

func TestCompareOrderAndMissingSubjectFields(t *testing.T) {
	c := NewKBComparator()
	neighborhood := neighborhoodWithPrices(20000, 22000, 24000)

	both := c.Compare(&models.ReportSubject{
		UnitPrice:    floatPtr(21000),
		BuildingArea: floatPtr(112),
	}, neighborhood)
	require.Len(t, both, 2)
	assert.Equal(t, "unit_price", both[0].Item)
	assert.Equal(t, "area", both[1].Item)

	priceOnly := c.Compare(&models.ReportSubject{UnitPrice: floatPtr(21000)}, neighborhood)
	require.Len(t, priceOnly, 1)
	assert.Equal(t, "unit_price", priceOnly[0].Item)

	neither := c.Compare(&models.ReportSubject{}, neighborhood)
	assert.Empty(t, neither)
}

func TestCompareCustomMargin(t *testing.T) {
	c := NewKBComparator(ComparatorWithMargin(0.10), ComparatorWithMinCases(2))
	subject := &models.ReportSubject{UnitPrice: floatPtr(26000)}

	results := c.Compare(subject, neighborhoodWithPrices(20000, 24000))

	r := priceResult(t, results)
	// 10% margin stretches kb_max to 26400, so 26000 passes
	assert.False(t, r.Insufficient)
	assert.False(t, r.IsAbnormal)
}
