package booking

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is an agent level. CommissionRate is the share of gross profit the
// agent keeps; the platform keeps the rest.
type Tier struct {
	Key             string          `json:"key"`
	Name            string          `json:"name"`
	Rank            int             `json:"rank"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	MinMonthlyTrips int             `json:"min_monthly_trips"`
}

// PlatformFeePercent is the fraction of gross profit retained by the platform.
func (t Tier) PlatformFeePercent() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(t.CommissionRate)
}

const (
	TierStarter  = "starter"
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// tierTable is ordered from lowest to highest.
var tierTable = []Tier{
	{Key: TierStarter, Name: "Starter", Rank: 0, CommissionRate: decimal.RequireFromString("0.80"), MinMonthlyTrips: 0},
	{Key: TierBronze, Name: "Bronze", Rank: 1, CommissionRate: decimal.RequireFromString("0.85"), MinMonthlyTrips: 5},
	{Key: TierSilver, Name: "Silver", Rank: 2, CommissionRate: decimal.RequireFromString("0.88"), MinMonthlyTrips: 15},
	{Key: TierGold, Name: "Gold", Rank: 3, CommissionRate: decimal.RequireFromString("0.90"), MinMonthlyTrips: 30},
	{Key: TierPlatinum, Name: "Platinum", Rank: 4, CommissionRate: decimal.RequireFromString("0.95"), MinMonthlyTrips: 50},
}

// Tiers returns a copy of the tier table, lowest first.
func Tiers() []Tier {
	out := make([]Tier, len(tierTable))
	copy(out, tierTable)
	return out
}

// ResolveTier looks a tier up by key. Unknown or empty keys resolve to the
// starter tier.
func ResolveTier(key string) Tier {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, t := range tierTable {
		if t.Key == k {
			return t
		}
	}
	return tierTable[0]
}

// TierForMonthlyTrips returns the highest tier whose threshold is met.
func TierForMonthlyTrips(trips int) Tier {
	best := tierTable[0]
	for _, t := range tierTable {
		if trips >= t.MinMonthlyTrips {
			best = t
		}
	}
	return best
}
