package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionCalculation is the output of ComputeCommission.
type CommissionCalculation struct {
	GrossRevenue       decimal.Decimal
	SupplierCost       decimal.Decimal
	GrossProfit        decimal.Decimal
	PlatformFee        decimal.Decimal
	PlatformFeePercent decimal.Decimal
	AgentEarnings      decimal.Decimal
	CommissionRate     decimal.Decimal
	Breakdown          map[Category]decimal.Decimal
	// BreakdownDivergence is sum(Breakdown) - GrossProfit. Always zero under
	// BreakdownNormalized.
	BreakdownDivergence decimal.Decimal
	HoldUntil           time.Time
}

// ComputeCommission derives the commission split for a quote. It performs no
// I/O and returns the same result for the same inputs.
func ComputeCommission(q Quote, platformFeePercent decimal.Decimal, defaults ConversionDefaults) CommissionCalculation {
	defaults = defaults.withFallbacks()
	p := q.Pricing

	grossProfit := p.AgentMarkup
	platformFee := grossProfit.Mul(platformFeePercent).Round(2)
	agentEarnings := grossProfit.Sub(platformFee)

	markupPercent := defaults.DefaultMarkupPercent
	if p.AgentMarkupPercent != nil {
		markupPercent = *p.AgentMarkupPercent
	}

	supplierCost := p.Total.Sub(p.AgentMarkup).Sub(p.Taxes).Sub(p.Fees).Add(p.Discount)
	if supplierCost.IsNegative() {
		supplierCost = decimal.Zero
	}

	var breakdown map[Category]decimal.Decimal
	switch defaults.Breakdown {
	case BreakdownCompat:
		breakdown = percentBreakdown(p, markupPercent)
	default:
		breakdown = proportionalBreakdown(p, grossProfit)
	}
	sum := decimal.Zero
	for _, v := range breakdown {
		sum = sum.Add(v)
	}

	return CommissionCalculation{
		GrossRevenue:        p.Total,
		SupplierCost:        supplierCost,
		GrossProfit:         grossProfit,
		PlatformFee:         platformFee,
		PlatformFeePercent:  platformFeePercent,
		AgentEarnings:       agentEarnings,
		CommissionRate:      markupPercent.Div(hundred),
		Breakdown:           breakdown,
		BreakdownDivergence: sum.Sub(grossProfit),
		HoldUntil:           q.TripEndDate.Add(defaults.HoldPeriod),
	}
}

func percentBreakdown(p Pricing, markupPercent decimal.Decimal) map[Category]decimal.Decimal {
	out := make(map[Category]decimal.Decimal, len(Categories()))
	for _, c := range Categories() {
		cost := p.CategoryCost(c)
		if !cost.IsPositive() {
			out[c] = decimal.Zero
			continue
		}
		out[c] = cost.Mul(markupPercent).Div(hundred).Round(2)
	}
	return out
}

func proportionalBreakdown(p Pricing, grossProfit decimal.Decimal) map[Category]decimal.Decimal {
	out := make(map[Category]decimal.Decimal, len(Categories()))
	total := decimal.Zero
	var largest Category
	for _, c := range Categories() {
		out[c] = decimal.Zero
		cost := p.CategoryCost(c)
		if !cost.IsPositive() {
			continue
		}
		total = total.Add(cost)
		if largest == "" || cost.GreaterThan(p.CategoryCost(largest)) {
			largest = c
		}
	}
	if total.IsZero() {
		return out
	}
	allocated := decimal.Zero
	for _, c := range Categories() {
		cost := p.CategoryCost(c)
		if !cost.IsPositive() {
			continue
		}
		share := grossProfit.Mul(cost).Div(total).Round(2)
		out[c] = share
		allocated = allocated.Add(share)
	}
	// rounding residual goes to the largest category
	out[largest] = out[largest].Add(grossProfit.Sub(allocated))
	return out
}
