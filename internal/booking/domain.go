package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// QUOTE
// ============================================================================

// QuoteStatus enumerates the quote lifecycle.
type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "DRAFT"
	QuoteStatusSent      QuoteStatus = "SENT"
	QuoteStatusAccepted  QuoteStatus = "ACCEPTED"
	QuoteStatusConverted QuoteStatus = "CONVERTED"
	QuoteStatusExpired   QuoteStatus = "EXPIRED"
)

// Pricing carries the monetary fields of a quote. Category costs are supplier
// costs; AgentMarkup is the agent's gross profit on top of them.
type Pricing struct {
	Subtotal           decimal.Decimal  `json:"subtotal"`
	FlightsCost        decimal.Decimal  `json:"flights_cost"`
	HotelsCost         decimal.Decimal  `json:"hotels_cost"`
	ActivitiesCost     decimal.Decimal  `json:"activities_cost"`
	TransfersCost      decimal.Decimal  `json:"transfers_cost"`
	InsuranceCost      decimal.Decimal  `json:"insurance_cost"`
	CustomItemsCost    decimal.Decimal  `json:"custom_items_cost"`
	AgentMarkup        decimal.Decimal  `json:"agent_markup"`
	AgentMarkupPercent *decimal.Decimal `json:"agent_markup_percent,omitempty"`
	Taxes              decimal.Decimal  `json:"taxes"`
	Fees               decimal.Decimal  `json:"fees"`
	Discount           decimal.Decimal  `json:"discount"`
	Total              decimal.Decimal  `json:"total"`
	Currency           string           `json:"currency"`
}

// CategoryCost returns the supplier cost booked under a commission category.
func (p Pricing) CategoryCost(c Category) decimal.Decimal {
	switch c {
	case CategoryFlights:
		return p.FlightsCost
	case CategoryHotels:
		return p.HotelsCost
	case CategoryActivities:
		return p.ActivitiesCost
	case CategoryTransfers:
		return p.TransfersCost
	case CategoryOther:
		return p.InsuranceCost.Add(p.CustomItemsCost)
	default:
		return decimal.Zero
	}
}

// Quote is a priced trip proposal owned by an agent.
type Quote struct {
	ID                 uuid.UUID   `json:"id"`
	AgentID            uuid.UUID   `json:"agent_id"`
	ClientID           uuid.UUID   `json:"client_id"`
	Title              string      `json:"title"`
	Destination        string      `json:"destination"`
	Travelers          int         `json:"travelers"`
	TripStartDate      time.Time   `json:"trip_start_date"`
	TripEndDate        time.Time   `json:"trip_end_date"`
	Pricing            Pricing     `json:"pricing"`
	Components         []Component `json:"components,omitempty"`
	Status             QuoteStatus `json:"status"`
	ConvertedToBooking bool        `json:"converted_to_booking"`
	BookingID          *uuid.UUID  `json:"booking_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Convertible reports whether the quote may enter conversion.
func (q *Quote) Convertible() bool {
	return q != nil && q.Status == QuoteStatusAccepted && !q.ConvertedToBooking
}

// ============================================================================
// BOOKING
// ============================================================================

// PaymentStatus tracks customer payments against a booking.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusDepositPaid PaymentStatus = "DEPOSIT_PAID"
	PaymentStatusPaidInFull  PaymentStatus = "PAID_IN_FULL"
	PaymentStatusRefunded    PaymentStatus = "REFUNDED"
)

// BookingStatus tracks the trip itself.
type BookingStatus string

const (
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
)

// Booking is created exactly once per converted quote.
type Booking struct {
	ID                  uuid.UUID       `json:"id"`
	QuoteID             uuid.UUID       `json:"quote_id"`
	AgentID             uuid.UUID       `json:"agent_id"`
	ClientID            uuid.UUID       `json:"client_id"`
	BookingNumber       string          `json:"booking_number"`
	Title               string          `json:"title"`
	Destination         string          `json:"destination"`
	Travelers           int             `json:"travelers"`
	TripStartDate       time.Time       `json:"trip_start_date"`
	TripEndDate         time.Time       `json:"trip_end_date"`
	Pricing             Pricing         `json:"pricing"`
	Components          []Component     `json:"components,omitempty"`
	DepositAmount       decimal.Decimal `json:"deposit_amount"`
	DepositDueDate      time.Time       `json:"deposit_due_date"`
	BalanceDue          decimal.Decimal `json:"balance_due"`
	FinalPaymentDueDate time.Time       `json:"final_payment_due_date"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	Status              BookingStatus   `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ============================================================================
// COMMISSION
// ============================================================================

// CommissionStatus enumerates commission lifecycle states.
type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "PENDING"
	CommissionStatusHold    CommissionStatus = "HOLD"
	CommissionStatusPayable CommissionStatus = "PAYABLE"
	CommissionStatusPaid    CommissionStatus = "PAID"
)

// Commission is the ledger record tied to one booking.
type Commission struct {
	ID                 uuid.UUID                    `json:"id"`
	BookingID          uuid.UUID                    `json:"booking_id"`
	AgentID            uuid.UUID                    `json:"agent_id"`
	Currency           string                       `json:"currency"`
	GrossRevenue       decimal.Decimal              `json:"gross_revenue"`
	SupplierCost       decimal.Decimal              `json:"supplier_cost"`
	GrossProfit        decimal.Decimal              `json:"gross_profit"`
	PlatformFee        decimal.Decimal              `json:"platform_fee"`
	PlatformFeePercent decimal.Decimal              `json:"platform_fee_percent"`
	AgentEarnings      decimal.Decimal              `json:"agent_earnings"`
	CommissionRate     decimal.Decimal              `json:"commission_rate"`
	Breakdown          map[Category]decimal.Decimal `json:"breakdown"`
	Tier               string                       `json:"tier"`
	Status             CommissionStatus             `json:"status"`
	HoldUntil          time.Time                    `json:"hold_until"`
	CreatedAt          time.Time                    `json:"created_at"`
}

// CommissionSummary is returned to callers of ConvertQuote.
type CommissionSummary struct {
	CommissionID       uuid.UUID        `json:"commission_id"`
	AgentEarnings      decimal.Decimal  `json:"agent_earnings"`
	PlatformFee        decimal.Decimal  `json:"platform_fee"`
	PlatformFeePercent decimal.Decimal  `json:"platform_fee_percent"`
	Tier               string           `json:"tier"`
	Status             CommissionStatus `json:"status"`
	HoldUntil          time.Time        `json:"hold_until"`
}

// Summary condenses the commission for API responses.
func (c Commission) Summary() CommissionSummary {
	return CommissionSummary{
		CommissionID:       c.ID,
		AgentEarnings:      c.AgentEarnings,
		PlatformFee:        c.PlatformFee,
		PlatformFeePercent: c.PlatformFeePercent,
		Tier:               c.Tier,
		Status:             c.Status,
		HoldUntil:          c.HoldUntil,
	}
}

// ============================================================================
// AGGREGATES
// ============================================================================

// AgentAggregate holds running totals for an agent.
type AgentAggregate struct {
	AgentID          uuid.UUID       `json:"agent_id"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	MonthlyBookings  int             `json:"monthly_bookings"`
	MonthlyRevenue   decimal.Decimal `json:"monthly_revenue"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	Tier             string          `json:"tier"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AgentDelta is the contribution of one booking to an agent aggregate.
type AgentDelta struct {
	Sales           decimal.Decimal
	Commissions     decimal.Decimal
	MonthlyBookings int
	MonthlyRevenue  decimal.Decimal
	PendingBalance  decimal.Decimal
	At              time.Time
}

// ClientAggregate holds running totals for a client.
type ClientAggregate struct {
	ClientID        uuid.UUID       `json:"client_id"`
	TotalBookings   int             `json:"total_bookings"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	LastBookingDate *time.Time      `json:"last_booking_date,omitempty"`
	NextBookingDate *time.Time      `json:"next_booking_date,omitempty"`
}

// ClientDelta is the contribution of one booking to a client aggregate.
type ClientDelta struct {
	Bookings    int
	Spent       decimal.Decimal
	BookedAt    time.Time
	TripStartAt time.Time
}

// NextBookingDate is the trip start when it is still ahead of the booking,
// nil otherwise.
func (d ClientDelta) NextBookingDate() *time.Time {
	if !d.TripStartAt.After(d.BookedAt) {
		return nil
	}
	next := d.TripStartAt
	return &next
}

// ============================================================================
// ACTIVITY
// ============================================================================

// ActivityKind classifies agent activity records.
type ActivityKind string

const (
	ActivityBookingCreated ActivityKind = "BOOKING_CREATED"
)

// Activity is written inside the conversion transaction.
type Activity struct {
	ID            uuid.UUID      `json:"id"`
	AgentID       uuid.UUID      `json:"agent_id"`
	Kind          ActivityKind   `json:"kind"`
	EntityID      uuid.UUID      `json:"entity_id"`
	Description   string         `json:"description"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ============================================================================
// CONVERSION
// ============================================================================

// ConvertOptions overrides the payment schedule defaults.
type ConvertOptions struct {
	DepositAmount       *decimal.Decimal `json:"deposit_amount,omitempty"`
	DepositDueDate      *time.Time       `json:"deposit_due_date,omitempty"`
	FinalPaymentDueDate *time.Time       `json:"final_payment_due_date,omitempty"`
}

// ConversionResult is returned by a successful conversion.
type ConversionResult struct {
	Booking       Booking           `json:"booking"`
	Commission    CommissionSummary `json:"commission"`
	CorrelationID string            `json:"correlation_id"`
}
