package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/voyagehq/voyage/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for conversions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// conversionTxAttempts bounds retries of transient transaction aborts.
const conversionTxAttempts = 3

// WithTx runs callback in a read-committed transaction. The conditional quote
// update and UNIQUE(quote_id) guard against double conversion; aggregates use
// relative increments. Serialization failures and deadlocks are retried, and
// exhausting the retries surfaces ErrPersistence.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return retryTransient(ctx, conversionTxAttempts, func() error {
		err := db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
			return fn(ctx, &txRepo{tx: tx})
		})
		return mapPgError(err)
	})
}

// errTransient marks an aborted transaction that may succeed on retry.
var errTransient = errors.New("transaction aborted")

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", ErrStateConflict, err)
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", errTransient, err)
		}
	}
	return err
}

func retryTransient(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, errTransient) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// ============================================================================
// READS
// ============================================================================

const quoteColumns = `id, agent_id, client_id, title, destination, travelers, trip_start_date, trip_end_date,
	subtotal::text, flights_cost::text, hotels_cost::text, activities_cost::text, transfers_cost::text,
	insurance_cost::text, custom_items_cost::text, agent_markup::text, agent_markup_percent::text,
	taxes::text, fees::text, discount::text, total::text, currency, components, status,
	converted_to_booking, booking_id, created_at, updated_at`

// GetQuote loads a quote with its components.
func (r *Repository) GetQuote(ctx context.Context, id uuid.UUID) (*Quote, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id)
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return q, nil
}

func scanQuote(row pgx.Row) (*Quote, error) {
	var (
		q          Quote
		money      [12]string
		markupPct  *string
		components []byte
		status     string
	)
	err := row.Scan(&q.ID, &q.AgentID, &q.ClientID, &q.Title, &q.Destination, &q.Travelers,
		&q.TripStartDate, &q.TripEndDate,
		&money[0], &money[1], &money[2], &money[3], &money[4], &money[5], &money[6], &money[7], &markupPct,
		&money[8], &money[9], &money[10], &money[11], &q.Pricing.Currency, &components, &status,
		&q.ConvertedToBooking, &q.BookingID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	targets := []*decimal.Decimal{
		&q.Pricing.Subtotal, &q.Pricing.FlightsCost, &q.Pricing.HotelsCost, &q.Pricing.ActivitiesCost,
		&q.Pricing.TransfersCost, &q.Pricing.InsuranceCost, &q.Pricing.CustomItemsCost, &q.Pricing.AgentMarkup,
		&q.Pricing.Taxes, &q.Pricing.Fees, &q.Pricing.Discount, &q.Pricing.Total,
	}
	for i, target := range targets {
		v, err := decimal.NewFromString(money[i])
		if err != nil {
			return nil, fmt.Errorf("quote %s: parse amount: %w", q.ID, err)
		}
		*target = v
	}
	if markupPct != nil {
		v, err := decimal.NewFromString(*markupPct)
		if err != nil {
			return nil, fmt.Errorf("quote %s: parse markup percent: %w", q.ID, err)
		}
		q.Pricing.AgentMarkupPercent = &v
	}
	q.Status = QuoteStatus(status)
	if q.Components, err = DecodeComponents(components); err != nil {
		return nil, fmt.Errorf("quote %s: %w", q.ID, err)
	}
	return &q, nil
}

// GetAgentAggregate loads the running totals of an agent.
func (r *Repository) GetAgentAggregate(ctx context.Context, agentID uuid.UUID) (*AgentAggregate, error) {
	row := r.pool.QueryRow(ctx, `SELECT agent_id, total_sales::text, total_commissions::text, monthly_bookings,
		monthly_revenue::text, pending_balance::text, tier, updated_at
		FROM agent_aggregates WHERE agent_id = $1`, agentID)
	a, err := scanAgentAggregate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAgentAggregate(row pgx.Row) (*AgentAggregate, error) {
	var (
		a     AgentAggregate
		money [4]string
	)
	if err := row.Scan(&a.AgentID, &money[0], &money[1], &a.MonthlyBookings, &money[2], &money[3], &a.Tier, &a.UpdatedAt); err != nil {
		return nil, err
	}
	targets := []*decimal.Decimal{&a.TotalSales, &a.TotalCommissions, &a.MonthlyRevenue, &a.PendingBalance}
	for i, target := range targets {
		v, err := decimal.NewFromString(money[i])
		if err != nil {
			return nil, fmt.Errorf("agent %s: parse amount: %w", a.AgentID, err)
		}
		*target = v
	}
	return &a, nil
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

func (t *txRepo) MarkQuoteConverted(ctx context.Context, quoteID, bookingID uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quotes
		SET status = $2, converted_to_booking = TRUE, booking_id = $3, updated_at = $4
		WHERE id = $1 AND status = $5 AND converted_to_booking = FALSE`,
		quoteID, string(QuoteStatusConverted), bookingID, at, string(QuoteStatusAccepted))
	if err != nil {
		return fmt.Errorf("mark quote converted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (t *txRepo) CreateBooking(ctx context.Context, b Booking) error {
	pricing, err := json.Marshal(b.Pricing)
	if err != nil {
		return err
	}
	components, err := json.Marshal(b.Components)
	if err != nil {
		return err
	}
	if b.Components == nil {
		components = []byte("[]")
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO bookings (id, quote_id, agent_id, client_id, booking_number, title, destination,
		travelers, trip_start_date, trip_end_date, pricing, components, total, currency, deposit_amount,
		deposit_due_date, balance_due, final_payment_due_date, payment_status, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::numeric, $14, $15::numeric,
		$16, $17::numeric, $18, $19, $20, $21)`,
		b.ID, b.QuoteID, b.AgentID, b.ClientID, b.BookingNumber, b.Title, b.Destination,
		b.Travelers, b.TripStartDate, b.TripEndDate, pricing, components, b.Pricing.Total.String(), b.Pricing.Currency,
		b.DepositAmount.String(), b.DepositDueDate, b.BalanceDue.String(), b.FinalPaymentDueDate,
		string(b.PaymentStatus), string(b.Status), b.CreatedAt)
	return err
}

func (t *txRepo) CreateCommission(ctx context.Context, c Commission) error {
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO commissions (id, booking_id, agent_id, currency, gross_revenue, supplier_cost,
		gross_profit, platform_fee, platform_fee_percent, agent_earnings, commission_rate, breakdown, tier, status,
		hold_until, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
		$11::numeric, $12, $13, $14, $15, $16)`,
		c.ID, c.BookingID, c.AgentID, c.Currency, c.GrossRevenue.String(), c.SupplierCost.String(),
		c.GrossProfit.String(), c.PlatformFee.String(), c.PlatformFeePercent.String(), c.AgentEarnings.String(),
		c.CommissionRate.String(), breakdown, c.Tier, string(c.Status), c.HoldUntil, c.CreatedAt)
	return err
}

// IncrementAgentAggregate applies delta with SET x = x + delta so concurrent
// bookings for the same agent never lose an update.
func (t *txRepo) IncrementAgentAggregate(ctx context.Context, agentID uuid.UUID, d AgentDelta) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO agent_aggregates AS a (agent_id, total_sales, total_commissions,
		monthly_bookings, monthly_revenue, pending_balance, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (agent_id) DO UPDATE SET
			total_sales = a.total_sales + EXCLUDED.total_sales,
			total_commissions = a.total_commissions + EXCLUDED.total_commissions,
			monthly_bookings = a.monthly_bookings + EXCLUDED.monthly_bookings,
			monthly_revenue = a.monthly_revenue + EXCLUDED.monthly_revenue,
			pending_balance = a.pending_balance + EXCLUDED.pending_balance,
			updated_at = EXCLUDED.updated_at`,
		agentID, d.Sales.String(), d.Commissions.String(), d.MonthlyBookings, d.MonthlyRevenue.String(),
		d.PendingBalance.String(), d.At)
	return err
}

func (t *txRepo) IncrementClientAggregate(ctx context.Context, clientID uuid.UUID, d ClientDelta) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO client_aggregates AS c (client_id, total_bookings, total_spent,
		last_booking_date, next_booking_date)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (client_id) DO UPDATE SET
			total_bookings = c.total_bookings + EXCLUDED.total_bookings,
			total_spent = c.total_spent + EXCLUDED.total_spent,
			last_booking_date = GREATEST(c.last_booking_date, EXCLUDED.last_booking_date),
			next_booking_date = CASE
				WHEN c.next_booking_date IS NULL OR c.next_booking_date < EXCLUDED.last_booking_date
					THEN EXCLUDED.next_booking_date
				ELSE LEAST(c.next_booking_date, EXCLUDED.next_booking_date)
			END`,
		clientID, d.Bookings, d.Spent.String(), d.BookedAt, d.NextBookingDate())
	return err
}

func (t *txRepo) InsertActivity(ctx context.Context, a Activity) error {
	var meta []byte
	if len(a.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(a.Metadata); err != nil {
			return err
		}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO agent_activities (id, agent_id, kind, entity_id, description,
		correlation_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AgentID, string(a.Kind), a.EntityID, a.Description, a.CorrelationID, meta, a.CreatedAt)
	return err
}
