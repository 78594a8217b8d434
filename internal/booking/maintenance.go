package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagehq/voyage/internal/platform/db"
)

// AgentTierRow is the tier review input for one agent.
type AgentTierRow struct {
	AgentID         uuid.UUID
	Tier            string
	MonthlyBookings int
}

// TierChange records a tier move decided by the monthly review.
type TierChange struct {
	AgentID uuid.UUID
	From    string
	To      string
	Trips   int
}

// PlanTierChanges returns the agents whose tier differs from the one earned
// by last month's trips.
func PlanTierChanges(rows []AgentTierRow) []TierChange {
	var changes []TierChange
	for _, row := range rows {
		current := ResolveTier(row.Tier)
		earned := TierForMonthlyTrips(row.MonthlyBookings)
		if earned.Key == current.Key && row.Tier == current.Key {
			continue
		}
		changes = append(changes, TierChange{AgentID: row.AgentID, From: row.Tier, To: earned.Key, Trips: row.MonthlyBookings})
	}
	return changes
}

// TierReviewResult summarises a review run.
type TierReviewResult struct {
	Reviewed int
	Changes  []TierChange
}

// Maintenance runs the scheduled ledger jobs.
type Maintenance struct {
	pool *pgxpool.Pool
}

// NewMaintenance constructs Maintenance.
func NewMaintenance(pool *pgxpool.Pool) *Maintenance {
	return &Maintenance{pool: pool}
}

// ReleaseHeldCommissions moves HOLD commissions whose hold period has ended
// to PAYABLE.
func (m *Maintenance) ReleaseHeldCommissions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := m.pool.Exec(ctx, `UPDATE commissions SET status = $1, released_at = $2
		WHERE status = $3 AND hold_until <= $2`,
		string(CommissionStatusPayable), now, string(CommissionStatusHold))
	if err != nil {
		return 0, fmt.Errorf("release held commissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ErrTierPeriodReviewed is returned when the period's review already committed.
var ErrTierPeriodReviewed = errors.New("tier review already completed for period")

// tierReviewTx is the part of pgx.Tx the review needs.
type tierReviewTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ReviewAgentTiers recomputes every agent's tier from the monthly counters and
// resets them for the new month, in one transaction. A period is reviewed at
// most once; later runs return ErrTierPeriodReviewed and change nothing.
func (m *Maintenance) ReviewAgentTiers(ctx context.Context, period string, now time.Time) (TierReviewResult, error) {
	var result TierReviewResult
	err := db.WithTx(ctx, m.pool, func(tx pgx.Tx) error {
		var err error
		result, err = reviewTiers(ctx, tx, period, now)
		return err
	})
	if err != nil {
		return TierReviewResult{}, err
	}
	return result, nil
}

func reviewTiers(ctx context.Context, tx tierReviewTx, period string, now time.Time) (TierReviewResult, error) {
	var result TierReviewResult
	// concurrent claims for one period serialize on the primary key
	tag, err := tx.Exec(ctx, `INSERT INTO tier_reviews (period, started_at) VALUES ($1, $2)
		ON CONFLICT (period) DO NOTHING`, period, now)
	if err != nil {
		return result, fmt.Errorf("tier review: claim period %s: %w", period, err)
	}
	if tag.RowsAffected() == 0 {
		return result, ErrTierPeriodReviewed
	}

	rows, err := tx.Query(ctx, `SELECT agent_id, tier, monthly_bookings FROM agent_aggregates FOR UPDATE`)
	if err != nil {
		return result, fmt.Errorf("tier review: load agents: %w", err)
	}
	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AgentTierRow, error) {
		var a AgentTierRow
		err := row.Scan(&a.AgentID, &a.Tier, &a.MonthlyBookings)
		return a, err
	})
	if err != nil {
		return result, fmt.Errorf("tier review: scan agents: %w", err)
	}
	result.Reviewed = len(agents)
	result.Changes = PlanTierChanges(agents)

	for _, change := range result.Changes {
		if _, err := tx.Exec(ctx, `UPDATE agent_aggregates SET tier = $2, updated_at = $3 WHERE agent_id = $1`,
			change.AgentID, change.To, now); err != nil {
			return result, fmt.Errorf("tier review: update %s: %w", change.AgentID, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE agent_aggregates SET monthly_bookings = 0, monthly_revenue = 0, updated_at = $1`, now); err != nil {
		return result, fmt.Errorf("tier review: reset monthly counters: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tier_reviews SET reviewed = $2, changed = $3, completed_at = $4 WHERE period = $1`,
		period, result.Reviewed, len(result.Changes), now); err != nil {
		return result, fmt.Errorf("tier review: complete period %s: %w", period, err)
	}
	return result, nil
}
