// Package exposure groups valued positions into allocation breakdowns.
package exposure

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/valuation"
)

// Aggregator builds the exposure facet.
type Aggregator struct {
	topN int
}

// NewAggregator creates an Aggregator listing topN holdings.
func NewAggregator(topN int) *Aggregator {
	if topN <= 0 {
		topN = 10
	}
	return &Aggregator{topN: topN}
}

// Aggregate groups the resolved positions of a valuation by every dimension.
// Group values sum exactly to the valuation total.
func (a *Aggregator) Aggregate(res *valuation.Result) models.ExposureFacet {
	ccy := res.Currency
	f := models.ExposureFacet{
		TotalValue:  models.AmountOf(res.MarketValue),
		Allocations: make(map[models.Dimension]models.Allocation, len(models.Dimensions)),
	}

	for _, dim := range models.Dimensions {
		exact := make(map[string]decimal.Decimal)
		for _, p := range res.Positions {
			label := Label(dim, p)
			exact[label] = exact[label].Add(p.Value)
		}
		labels := make([]string, 0, len(exact))
		for l := range exact {
			labels = append(labels, l)
		}
		sort.Strings(labels)

		alloc := make(models.Allocation, len(labels))
		for l, v := range valuation.Allocate(res.MarketValue, exact, labels, ccy) {
			alloc[l] = models.AllocationEntry{Value: models.AmountOf(v)}
		}
		f.Allocations[dim] = alloc
	}

	for _, p := range res.Positions {
		f.Positions = append(f.Positions, models.HoldingWeight{
			SecurityID: p.Security.ID,
			Symbol:     p.Security.Symbol,
			Name:       p.Security.Name,
			Value:      models.AmountOf(common.RoundMoney(p.Value, ccy)),
		})
	}

	a.Reweight(&f)
	return f
}

// Reweight recomputes every weight from values against TotalValue, re-sorts positions
// by value descending (ties by security id) and refreshes the top holdings.
// With a zero total every weight is 0.
func (a *Aggregator) Reweight(f *models.ExposureFacet) {
	total := f.TotalValue.Decimal
	for dim, alloc := range f.Allocations {
		for l, e := range alloc {
			e.Weight = weight(e.Value.Decimal, total)
			alloc[l] = e
		}
		f.Allocations[dim] = alloc
	}

	for i := range f.Positions {
		f.Positions[i].Weight = weight(f.Positions[i].Value.Decimal, total)
	}
	sort.SliceStable(f.Positions, func(i, j int) bool {
		pi, pj := f.Positions[i], f.Positions[j]
		if c := pi.Value.Cmp(pj.Value.Decimal); c != 0 {
			return c > 0
		}
		return pi.SecurityID < pj.SecurityID
	})

	n := a.topN
	if n > len(f.Positions) {
		n = len(f.Positions)
	}
	f.TopHoldings = append([]models.HoldingWeight(nil), f.Positions[:n]...)
}

func weight(v, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return v.Div(total).InexactFloat64()
}

// Label returns the group a position falls in for a dimension.
func Label(dim models.Dimension, p valuation.Position) string {
	sec := p.Security
	var v string
	switch dim {
	case models.DimensionAssetClass:
		v = string(p.AssetClass)
	case models.DimensionType:
		v = string(sec.Type)
	case models.DimensionSubtype:
		v = string(sec.Subtype)
	case models.DimensionSector:
		v = sec.Sector
	case models.DimensionIndustry:
		v = sec.Industry
	case models.DimensionCountry:
		v = strings.ToUpper(sec.Country)
	case models.DimensionRegion:
		v = sec.Region
	case models.DimensionCurrency:
		v = strings.ToUpper(sec.Currency)
	}
	if strings.TrimSpace(v) == "" {
		return models.UnknownLabel
	}
	return v
}
