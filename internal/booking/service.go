package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/voyagehq/voyage/internal/oplog"
	"github.com/voyagehq/voyage/internal/shared"
)

// OperationConvert is the operation kind recorded for quote conversions.
const OperationConvert = "quote.convert"

// EventBookingConverted is the routing key of the post-commit event.
const EventBookingConverted = "booking.converted"

const idempotencyModule = "booking.convert"

// RepositoryPort exposes the persistence operations the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuote(ctx context.Context, id uuid.UUID) (*Quote, error)
	GetAgentAggregate(ctx context.Context, agentID uuid.UUID) (*AgentAggregate, error)
}

// TxRepository is the transactional write side of a conversion. Every method
// runs inside the transaction opened by WithTx.
type TxRepository interface {
	// MarkQuoteConverted flips the quote from ACCEPTED to CONVERTED. It
	// returns ErrStateConflict when the quote is no longer convertible.
	MarkQuoteConverted(ctx context.Context, quoteID, bookingID uuid.UUID, at time.Time) error
	CreateBooking(ctx context.Context, b Booking) error
	CreateCommission(ctx context.Context, c Commission) error
	IncrementAgentAggregate(ctx context.Context, agentID uuid.UUID, delta AgentDelta) error
	IncrementClientAggregate(ctx context.Context, clientID uuid.UUID, delta ClientDelta) error
	InsertActivity(ctx context.Context, a Activity) error
}

// Locker provides the optional in-flight guard per quote.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher publishes integration events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// ServiceConfig collects optional collaborators. Zero values disable the
// corresponding guard.
type ServiceConfig struct {
	Defaults    ConversionDefaults
	Locker      Locker
	LockTTL     time.Duration
	Idempotency IdempotencyPort
	Events      EventPublisher
	Recorder    *oplog.Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service converts accepted quotes into bookings and commission records.
type Service struct {
	repo        RepositoryPort
	defaults    ConversionDefaults
	locker      Locker
	lockTTL     time.Duration
	idempotency IdempotencyPort
	events      EventPublisher
	recorder    *oplog.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the conversion service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = oplog.NewRecorder(oplog.RecorderConfig{Logger: cfg.Logger, Now: cfg.Now})
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Service{
		repo:        repo,
		defaults:    cfg.Defaults.withFallbacks(),
		locker:      cfg.Locker,
		lockTTL:     cfg.LockTTL,
		idempotency: cfg.Idempotency,
		events:      cfg.Events,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Defaults returns the effective conversion defaults.
func (s *Service) Defaults() ConversionDefaults {
	return s.defaults
}

// Metrics returns the operation window for kind ("" for all operations).
func (s *Service) Metrics(kind string, window time.Duration) oplog.Metrics {
	return s.recorder.Store().GetMetricsFor(kind, window)
}

type convertPayload struct {
	QuoteID string         `json:"quote_id"`
	AgentID string         `json:"agent_id"`
	Options ConvertOptions `json:"options"`
}

// ConvertQuote turns an accepted quote into a booking, a held commission and
// the matching aggregate updates in one transaction. A quote converts at most
// once; every later attempt fails with STATE_CONFLICT.
func (s *Service) ConvertQuote(ctx context.Context, quoteID, agentID uuid.UUID, opts ConvertOptions) (*ConversionResult, error) {
	tracker := s.recorder.Start(ctx, oplog.Operation{
		Kind:     OperationConvert,
		EntityID: quoteID.String(),
		AgentID:  agentID.String(),
		Payload:  convertPayload{QuoteID: quoteID.String(), AgentID: agentID.String(), Options: opts},
	})

	result, err := s.convert(ctx, tracker, quoteID, agentID, opts)
	if err != nil {
		be := classify(err, tracker.CorrelationID())
		tracker.Failure(ctx, be)
		return nil, be
	}
	result.CorrelationID = tracker.CorrelationID()
	tracker.Success(ctx, result.Booking.ID.String(), map[string]any{
		"booking_number": result.Booking.BookingNumber,
		"commission_id":  result.Commission.CommissionID.String(),
		"tier":           result.Commission.Tier,
	})
	return result, nil
}

// RejectConversion records a conversion request refused before it could be
// parsed into ConvertQuote arguments and returns err classified with the
// operation's correlation id.
func (s *Service) RejectConversion(ctx context.Context, rawQuoteID string, agentID uuid.UUID, err error) error {
	tracker := s.recorder.Start(ctx, oplog.Operation{
		Kind:     OperationConvert,
		EntityID: rawQuoteID,
		AgentID:  agentID.String(),
		Payload:  convertPayload{QuoteID: rawQuoteID, AgentID: agentID.String()},
	})
	be := classify(err, tracker.CorrelationID())
	tracker.Failure(ctx, be)
	return be
}

func (s *Service) convert(ctx context.Context, tracker *oplog.Tracker, quoteID, agentID uuid.UUID, opts ConvertOptions) (*ConversionResult, error) {
	if quoteID == uuid.Nil || agentID == uuid.Nil {
		return nil, newError(CodeValidation, "quote id and agent id are required", ErrValidation)
	}

	quote, err := s.repo.GetQuote(ctx, quoteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(CodeNotFound, "quote not found", err)
		}
		return nil, newError(CodePersistence, "quote could not be loaded", err)
	}
	// quotes owned by another agent are reported as missing
	if quote.AgentID != agentID {
		return nil, newError(CodeNotFound, "quote not found", ErrNotFound)
	}
	tracker.SetClient(quote.ClientID.String())

	if !quote.Convertible() {
		if quote.ConvertedToBooking || quote.Status == QuoteStatusConverted {
			return nil, newError(CodeStateConflict, "quote already converted", ErrStateConflict)
		}
		return nil, newError(CodeStateConflict, fmt.Sprintf("quote status %s cannot be converted", quote.Status), ErrStateConflict)
	}
	if err := validateQuote(quote); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	schedule, err := s.paymentSchedule(quote, opts, now)
	if err != nil {
		return nil, err
	}

	tier, feePercent, err := s.resolveTier(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.QuoteConvertLockKey(quoteID.String()), s.lockTTL)
		switch {
		case errors.Is(err, shared.ErrLocked):
			return nil, newError(CodeStateConflict, "conversion already in progress", ErrStateConflict)
		case err != nil:
			s.logger.WarnContext(ctx, "conversion lock unavailable", slog.String("quote_id", quoteID.String()), slog.Any("error", err))
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.WarnContext(ctx, "conversion lock release failed", slog.String("quote_id", quoteID.String()), slog.Any("error", err))
				}
			}()
		}
	}

	idemKey, err := s.claim(ctx, tracker.PayloadHash())
	if err != nil {
		return nil, err
	}

	result, err := s.persist(ctx, tracker.CorrelationID(), quote, schedule, tier, feePercent, now)
	if err != nil {
		if idemKey != "" {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), idemKey); delErr != nil {
				s.logger.WarnContext(ctx, "idempotency key release failed", slog.String("key", idemKey), slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	s.publishConverted(ctx, tracker.CorrelationID(), result)
	return result, nil
}

// claim registers the payload hash. An empty key means no claim was taken.
func (s *Service) claim(ctx context.Context, payloadHash string) (string, error) {
	if s.idempotency == nil || payloadHash == "" {
		return "", nil
	}
	key := "convert:" + payloadHash
	err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "", newError(CodeStateConflict, "duplicate conversion request", ErrStateConflict)
	default:
		s.logger.WarnContext(ctx, "idempotency claim unavailable", slog.Any("error", err))
		return "", nil
	}
}

func (s *Service) resolveTier(ctx context.Context, agentID uuid.UUID) (Tier, decimal.Decimal, error) {
	agg, err := s.repo.GetAgentAggregate(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// first booking for this agent
			return ResolveTier(TierStarter), s.defaults.DefaultPlatformFeePercent, nil
		}
		return Tier{}, decimal.Zero, newError(CodePersistence, "agent profile could not be loaded", err)
	}
	tier := ResolveTier(agg.Tier)
	return tier, tier.PlatformFeePercent(), nil
}

func validateQuote(q *Quote) error {
	p := q.Pricing
	if p.Total.IsNegative() || p.AgentMarkup.IsNegative() {
		return newError(CodeValidation, "quote pricing must not be negative", ErrValidation)
	}
	if q.TripEndDate.Before(q.TripStartDate) {
		return newError(CodeValidation, "trip end date precedes start date", ErrValidation)
	}
	if len(q.Components) == 0 {
		return nil
	}
	for i, c := range q.Components {
		if err := c.Validate(); err != nil {
			return newError(CodeValidation, fmt.Sprintf("component %d: %v", i, err), ErrValidation)
		}
	}
	totals := CategoryTotals(q.Components)
	for _, c := range Categories() {
		if !totals[c].Equal(p.CategoryCost(c)) {
			return newError(CodeValidation, fmt.Sprintf("%s components do not match quoted cost", c), ErrValidation)
		}
	}
	return nil
}

type paymentSchedule struct {
	deposit    decimal.Decimal
	balance    decimal.Decimal
	depositDue time.Time
	finalDue   time.Time
}

// caller-supplied due dates may lag now by up to a day
const dueDateTolerance = 24 * time.Hour

func (s *Service) paymentSchedule(q *Quote, opts ConvertOptions, now time.Time) (paymentSchedule, error) {
	total := q.Pricing.Total
	sched := paymentSchedule{
		deposit:    total.Mul(s.defaults.DepositPercent).Round(2),
		depositDue: now.Add(s.defaults.DepositDueAfter),
		finalDue:   q.TripStartDate.Add(-s.defaults.FinalPaymentLead),
	}
	if sched.finalDue.Before(now) {
		sched.finalDue = now
	}

	if opts.DepositAmount != nil {
		d := *opts.DepositAmount
		if d.IsNegative() || d.GreaterThan(total) {
			return sched, newError(CodeValidation, "deposit must be between 0 and the quote total", ErrValidation)
		}
		sched.deposit = d.Round(2)
	}
	earliest := now.Add(-dueDateTolerance)
	if opts.DepositDueDate != nil {
		if opts.DepositDueDate.Before(earliest) {
			return sched, newError(CodeValidation, "deposit due date is in the past", ErrValidation)
		}
		sched.depositDue = opts.DepositDueDate.UTC()
	}
	if opts.FinalPaymentDueDate != nil {
		if opts.FinalPaymentDueDate.Before(earliest) {
			return sched, newError(CodeValidation, "final payment due date is in the past", ErrValidation)
		}
		sched.finalDue = opts.FinalPaymentDueDate.UTC()
	}
	if opts.DepositDueDate != nil && opts.FinalPaymentDueDate != nil && sched.finalDue.Before(sched.depositDue) {
		return sched, newError(CodeValidation, "final payment due date precedes deposit due date", ErrValidation)
	}

	sched.balance = total.Sub(sched.deposit)
	return sched, nil
}

func (s *Service) persist(ctx context.Context, correlationID string, q *Quote, sched paymentSchedule, tier Tier, feePercent decimal.Decimal, now time.Time) (*ConversionResult, error) {
	calc := ComputeCommission(*q, feePercent, s.defaults)
	if !calc.BreakdownDivergence.IsZero() {
		s.logger.WarnContext(ctx, "commission breakdown diverges from gross profit",
			slog.String("quote_id", q.ID.String()),
			slog.String("gross_profit", calc.GrossProfit.StringFixed(2)),
			slog.String("divergence", calc.BreakdownDivergence.StringFixed(2)),
		)
	}

	bookingID := uuid.New()
	booking := Booking{
		ID:                  bookingID,
		QuoteID:             q.ID,
		AgentID:             q.AgentID,
		ClientID:            q.ClientID,
		BookingNumber:       bookingNumber(now, bookingID),
		Title:               q.Title,
		Destination:         q.Destination,
		Travelers:           q.Travelers,
		TripStartDate:       q.TripStartDate,
		TripEndDate:         q.TripEndDate,
		Pricing:             q.Pricing,
		Components:          q.Components,
		DepositAmount:       sched.deposit,
		DepositDueDate:      sched.depositDue,
		BalanceDue:          sched.balance,
		FinalPaymentDueDate: sched.finalDue,
		PaymentStatus:       PaymentStatusPending,
		Status:              BookingStatusConfirmed,
		CreatedAt:           now,
	}
	commission := Commission{
		ID:                 uuid.New(),
		BookingID:          bookingID,
		AgentID:            q.AgentID,
		Currency:           q.Pricing.Currency,
		GrossRevenue:       calc.GrossRevenue,
		SupplierCost:       calc.SupplierCost,
		GrossProfit:        calc.GrossProfit,
		PlatformFee:        calc.PlatformFee,
		PlatformFeePercent: calc.PlatformFeePercent,
		AgentEarnings:      calc.AgentEarnings,
		CommissionRate:     calc.CommissionRate,
		Breakdown:          calc.Breakdown,
		Tier:               tier.Key,
		Status:             CommissionStatusHold,
		HoldUntil:          calc.HoldUntil,
		CreatedAt:          now,
	}
	activity := Activity{
		ID:            uuid.New(),
		AgentID:       q.AgentID,
		Kind:          ActivityBookingCreated,
		EntityID:      bookingID,
		Description:   fmt.Sprintf("Booking %s created for %s", booking.BookingNumber, formatMoney(q.Pricing.Total, q.Pricing.Currency)),
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"quote_id":       q.ID.String(),
			"commission_id":  commission.ID.String(),
			"agent_earnings": calc.AgentEarnings.StringFixed(2),
		},
		CreatedAt: now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.MarkQuoteConverted(ctx, q.ID, bookingID, now); err != nil {
			return err
		}
		if err := tx.CreateBooking(ctx, booking); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		if err := tx.CreateCommission(ctx, commission); err != nil {
			return fmt.Errorf("create commission: %w", err)
		}
		if err := tx.IncrementAgentAggregate(ctx, q.AgentID, AgentDelta{
			Sales:           q.Pricing.Total,
			Commissions:     calc.AgentEarnings,
			MonthlyBookings: 1,
			MonthlyRevenue:  q.Pricing.Total,
			PendingBalance:  calc.AgentEarnings,
			At:              now,
		}); err != nil {
			return fmt.Errorf("update agent aggregate: %w", err)
		}
		if err := tx.IncrementClientAggregate(ctx, q.ClientID, ClientDelta{
			Bookings:    1,
			Spent:       q.Pricing.Total,
			BookedAt:    now,
			TripStartAt: q.TripStartDate,
		}); err != nil {
			return fmt.Errorf("update client aggregate: %w", err)
		}
		if err := tx.InsertActivity(ctx, activity); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStateConflict):
			return nil, newError(CodeStateConflict, "quote already converted", err)
		case ctx.Err() != nil:
			return nil, err
		default:
			return nil, newError(CodePersistence, "booking could not be saved", err)
		}
	}

	return &ConversionResult{Booking: booking, Commission: commission.Summary()}, nil
}

type bookingConvertedEvent struct {
	BookingID     string    `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	QuoteID       string    `json:"quote_id"`
	AgentID       string    `json:"agent_id"`
	ClientID      string    `json:"client_id"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	AgentEarnings string    `json:"agent_earnings"`
	PlatformFee   string    `json:"platform_fee"`
	CorrelationID string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// publishConverted runs after commit; failures are logged only.
func (s *Service) publishConverted(ctx context.Context, correlationID string, res *ConversionResult) {
	if s.events == nil {
		return
	}
	b := res.Booking
	body, err := json.Marshal(bookingConvertedEvent{
		BookingID:     b.ID.String(),
		BookingNumber: b.BookingNumber,
		QuoteID:       b.QuoteID.String(),
		AgentID:       b.AgentID.String(),
		ClientID:      b.ClientID.String(),
		Total:         b.Pricing.Total.StringFixed(2),
		Currency:      b.Pricing.Currency,
		AgentEarnings: res.Commission.AgentEarnings.StringFixed(2),
		PlatformFee:   res.Commission.PlatformFee.StringFixed(2),
		CorrelationID: correlationID,
		OccurredAt:    b.CreatedAt,
	})
	if err == nil {
		err = s.events.Publish(context.WithoutCancel(ctx), EventBookingConverted, body)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "booking event publish failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("correlation_id", correlationID),
			slog.Any("error", err),
		)
	}
}

// bookingNumber renders VB-YYYYMMDD-XXXXXX.
func bookingNumber(at time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return fmt.Sprintf("VB-%s-%s", at.Format("20060102"), suffix)
}

func formatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return strings.TrimSpace(amount.StringFixed(2) + " " + code)
	}
	return message.NewPrinter(language.English).Sprint(currency.ISO(unit.Amount(amount.InexactFloat64())))
}
