package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BreakdownPolicy selects how the per-category commission breakdown is built.
type BreakdownPolicy string

const (
	// BreakdownNormalized distributes gross profit across categories in
	// proportion to their cost, so the breakdown always sums to gross profit.
	BreakdownNormalized BreakdownPolicy = "normalized"
	// BreakdownCompat applies the markup percent to every category cost
	// independently. The sum may differ from gross profit.
	BreakdownCompat BreakdownPolicy = "compat"
)

// ParseBreakdownPolicy accepts "normalized" or "compat" (case-insensitive).
func ParseBreakdownPolicy(v string) (BreakdownPolicy, error) {
	switch BreakdownPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", BreakdownNormalized:
		return BreakdownNormalized, nil
	case BreakdownCompat:
		return BreakdownCompat, nil
	default:
		return "", fmt.Errorf("unknown breakdown policy %q", v)
	}
}

// ConversionDefaults is the single source for values applied when a caller
// or a quote leaves them unset.
type ConversionDefaults struct {
	// DepositPercent of the quote total, as a fraction (0.25 = 25%).
	DepositPercent decimal.Decimal
	// DepositDueAfter is added to the conversion time.
	DepositDueAfter time.Duration
	// FinalPaymentLead is subtracted from the trip start date.
	FinalPaymentLead time.Duration
	// DefaultMarkupPercent applies when the quote has no markup percent (15 = 15%).
	DefaultMarkupPercent decimal.Decimal
	// HoldPeriod is added to the trip end date to get the commission hold date.
	HoldPeriod time.Duration
	// DefaultPlatformFeePercent applies when no tier can be resolved (0.2 = 20%).
	DefaultPlatformFeePercent decimal.Decimal
	Breakdown                 BreakdownPolicy
}

// DefaultConversionDefaults returns the platform defaults.
func DefaultConversionDefaults() ConversionDefaults {
	return ConversionDefaults{
		DepositPercent:            decimal.RequireFromString("0.25"),
		DepositDueAfter:           7 * 24 * time.Hour,
		FinalPaymentLead:          30 * 24 * time.Hour,
		DefaultMarkupPercent:      decimal.NewFromInt(15),
		HoldPeriod:                30 * 24 * time.Hour,
		DefaultPlatformFeePercent: decimal.RequireFromString("0.20"),
		Breakdown:                 BreakdownNormalized,
	}
}

// withFallbacks fills zero fields from DefaultConversionDefaults.
func (d ConversionDefaults) withFallbacks() ConversionDefaults {
	base := DefaultConversionDefaults()
	if d.DepositPercent.IsZero() {
		d.DepositPercent = base.DepositPercent
	}
	if d.DepositDueAfter <= 0 {
		d.DepositDueAfter = base.DepositDueAfter
	}
	if d.FinalPaymentLead <= 0 {
		d.FinalPaymentLead = base.FinalPaymentLead
	}
	if d.DefaultMarkupPercent.IsZero() {
		d.DefaultMarkupPercent = base.DefaultMarkupPercent
	}
	if d.HoldPeriod <= 0 {
		d.HoldPeriod = base.HoldPeriod
	}
	if d.DefaultPlatformFeePercent.IsZero() {
		d.DefaultPlatformFeePercent = base.DefaultPlatformFeePercent
	}
	if d.Breakdown == "" {
		d.Breakdown = base.Breakdown
	}
	return d
}
