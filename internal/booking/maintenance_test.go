package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTierTx emulates the tier review statements against in-memory rows.
type fakeTierTx struct {
	periods  map[string]int
	agents   []*AgentTierRow
	queries  int
	claimErr error
}

func newFakeTierTx(agents ...AgentTierRow) *fakeTierTx {
	tx := &fakeTierTx{periods: map[string]int{}}
	for i := range agents {
		a := agents[i]
		tx.agents = append(tx.agents, &a)
	}
	return tx
}

func (f *fakeTierTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = strings.TrimSpace(sql)
	switch {
	case strings.HasPrefix(sql, "INSERT INTO tier_reviews"):
		if f.claimErr != nil {
			return pgconn.CommandTag{}, f.claimErr
		}
		period := args[0].(string)
		if _, ok := f.periods[period]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.periods[period] = -1
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "UPDATE agent_aggregates SET tier"):
		id := args[0].(uuid.UUID)
		for _, a := range f.agents {
			if a.AgentID == id {
				a.Tier = args[1].(string)
			}
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.HasPrefix(sql, "UPDATE agent_aggregates SET monthly_bookings = 0"):
		for _, a := range f.agents {
			a.MonthlyBookings = 0
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.HasPrefix(sql, "UPDATE tier_reviews"):
		f.periods[args[0].(string)] = args[2].(int)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement: " + sql)
}

func (f *fakeTierTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries++
	rows := make([]AgentTierRow, 0, len(f.agents))
	for _, a := range f.agents {
		rows = append(rows, *a)
	}
	return &fakeTierRows{rows: rows, pos: -1}, nil
}

func (f *fakeTierTx) tier(id uuid.UUID) string {
	for _, a := range f.agents {
		if a.AgentID == id {
			return a.Tier
		}
	}
	return ""
}

type fakeTierRows struct {
	rows []AgentTierRow
	pos  int
}

func (r *fakeTierRows) Close() {}
func (r *fakeTierRows) Err() error { return nil }
func (r *fakeTierRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeTierRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeTierRows) RawValues() [][]byte { return nil }
func (r *fakeTierRows) Conn() *pgx.Conn { return nil }

func (r *fakeTierRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeTierRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	*dest[0].(*uuid.UUID) = row.AgentID
	*dest[1].(*string) = row.Tier
	*dest[2].(*int) = row.MonthlyBookings
	return nil
}

func (r *fakeTierRows) Values() ([]any, error) {
	row := r.rows[r.pos]
	return []any{row.AgentID, row.Tier, row.MonthlyBookings}, nil
}

func TestReviewTiersOncePerPeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 0, 30, 0, 0, time.UTC)
	gold := AgentTierRow{AgentID: uuid.New(), Tier: TierGold, MonthlyBookings: 31}
	rising := AgentTierRow{AgentID: uuid.New(), Tier: TierStarter, MonthlyBookings: 16}
	tx := newFakeTierTx(gold, rising)

	first, err := reviewTiers(ctx, tx, "2025-03", now)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Reviewed)
	require.Len(t, first.Changes, 1)
	assert.Equal(t, TierSilver, first.Changes[0].To)
	assert.Equal(t, TierGold, tx.tier(gold.AgentID))
	assert.Equal(t, TierSilver, tx.tier(rising.AgentID))
	assert.Equal(t, 1, tx.periods["2025-03"])

	// counters are now zero; a repeat must not demote anyone
	second, err := reviewTiers(ctx, tx, "2025-03", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTierPeriodReviewed)
	assert.Empty(t, second.Changes)
	assert.Equal(t, 1, tx.queries)
	assert.Equal(t, TierGold, tx.tier(gold.AgentID))
	assert.Equal(t, TierSilver, tx.tier(rising.AgentID))

	// the next month is a fresh review
	next, err := reviewTiers(ctx, tx, "2025-04", now.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, next.Changes, 2)
	assert.Equal(t, TierStarter, tx.tier(gold.AgentID))
}

func TestReviewTiersClaimFailure(t *testing.T) {
	tx := newFakeTierTx(AgentTierRow{AgentID: uuid.New(), Tier: TierGold})
	tx.claimErr = errors.New("connection reset")

	_, err := reviewTiers(context.Background(), tx, "2025-03", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTierPeriodReviewed)
	assert.Zero(t, tx.queries)
	assert.Equal(t, TierGold, tx.agents[0].Tier)
}
