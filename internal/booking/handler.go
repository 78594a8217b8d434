package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voyagehq/voyage/internal/oplog"
	"github.com/voyagehq/voyage/internal/platform/httpx"
	"github.com/voyagehq/voyage/internal/shared"
)

// Converter is the service surface used by the HTTP handler.
type Converter interface {
	ConvertQuote(ctx context.Context, quoteID, agentID uuid.UUID, opts ConvertOptions) (*ConversionResult, error)
	RejectConversion(ctx context.Context, rawQuoteID string, agentID uuid.UUID, err error) error
	Metrics(kind string, window time.Duration) oplog.Metrics
}

// Handler manages conversion endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Converter
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Converter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers conversion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotes/{quoteID}/convert", h.convertQuote)
	r.Get("/operations/metrics", h.operationMetrics)
}

type convertRequest struct {
	DepositAmount       *string    `json:"deposit_amount" validate:"omitempty,numeric"`
	DepositDueDate      *time.Time `json:"deposit_due_date"`
	FinalPaymentDueDate *time.Time `json:"final_payment_due_date"`
}

func (req convertRequest) options() (ConvertOptions, error) {
	opts := ConvertOptions{
		DepositDueDate:      req.DepositDueDate,
		FinalPaymentDueDate: req.FinalPaymentDueDate,
	}
	if req.DepositAmount != nil {
		d, err := decimal.NewFromString(*req.DepositAmount)
		if err != nil {
			return opts, err
		}
		opts.DepositAmount = &d
	}
	return opts, nil
}

func (h *Handler) convertQuote(w http.ResponseWriter, r *http.Request) {
	agentID, ok := shared.AgentFromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnauthorized, Detail: "missing " + shared.AgentIDHeader + " header"})
		return
	}
	rawQuoteID := chi.URLParam(r, "quoteID")
	reject := func(err *Error) {
		httpx.RespondError(w, h.service.RejectConversion(r.Context(), rawQuoteID, agentID, err))
	}
	quoteID, err := uuid.Parse(rawQuoteID)
	if err != nil {
		reject(newError(CodeValidation, "quote id must be a UUID", ErrValidation))
		return
	}

	var req convertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		reject(newError(CodeValidation, "request body is not valid JSON", err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		reject(newError(CodeValidation, validationMessage(err), err))
		return
	}
	opts, err := req.options()
	if err != nil {
		reject(newError(CodeValidation, "deposit_amount must be a decimal", err))
		return
	}

	result, err := h.service.ConvertQuote(r.Context(), quoteID, agentID, opts)
	if err != nil {
		if CodeOf(err) == CodeInternal || CodeOf(err) == CodePersistence {
			h.logger.ErrorContext(r.Context(), "quote conversion failed", slog.String("quote_id", quoteID.String()), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newConversionResponse(result))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("field %s failed %s validation", verrs[0].Field(), verrs[0].Tag())
	}
	return "invalid request"
}

func (h *Handler) operationMetrics(w http.ResponseWriter, r *http.Request) {
	window := oplog.DefaultMetricsWindow
	q := r.URL.Query()
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpx.RespondError(w, newError(CodeValidation, "window must be a positive duration such as 15m", ErrValidation))
			return
		}
		window = d
	} else if raw := q.Get("window_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			httpx.RespondError(w, newError(CodeValidation, "window_ms must be a positive integer", ErrValidation))
			return
		}
		window = time.Duration(ms) * time.Millisecond
	}
	m := h.service.Metrics(q.Get("operation"), window)
	httpx.JSON(w, http.StatusOK, newMetricsResponse(q.Get("operation"), m))
}

// ============================================================================
// RESPONSES
// ============================================================================

type bookingResponse struct {
	ID                  string    `json:"id"`
	BookingNumber       string    `json:"booking_number"`
	QuoteID             string    `json:"quote_id"`
	AgentID             string    `json:"agent_id"`
	ClientID            string    `json:"client_id"`
	Title               string    `json:"title"`
	Destination         string    `json:"destination"`
	TripStartDate       time.Time `json:"trip_start_date"`
	TripEndDate         time.Time `json:"trip_end_date"`
	Currency            string    `json:"currency"`
	Total               string    `json:"total"`
	DepositAmount       string    `json:"deposit_amount"`
	DepositDueDate      time.Time `json:"deposit_due_date"`
	BalanceDue          string    `json:"balance_due"`
	FinalPaymentDueDate time.Time `json:"final_payment_due_date"`
	PaymentStatus       string    `json:"payment_status"`
	Status              string    `json:"status"`
}

type commissionResponse struct {
	ID            string    `json:"id"`
	AgentEarnings string    `json:"agent_earnings"`
	PlatformFee   string    `json:"platform_fee"`
	Tier          string    `json:"tier"`
	Status        string    `json:"status"`
	HoldUntil     time.Time `json:"hold_until"`
}

type conversionResponse struct {
	Booking       bookingResponse    `json:"booking"`
	Commission    commissionResponse `json:"commission"`
	CorrelationID string             `json:"correlation_id"`
}

func newConversionResponse(res *ConversionResult) conversionResponse {
	b, c := res.Booking, res.Commission
	return conversionResponse{
		Booking: bookingResponse{
			ID:                  b.ID.String(),
			BookingNumber:       b.BookingNumber,
			QuoteID:             b.QuoteID.String(),
			AgentID:             b.AgentID.String(),
			ClientID:            b.ClientID.String(),
			Title:               b.Title,
			Destination:         b.Destination,
			TripStartDate:       b.TripStartDate,
			TripEndDate:         b.TripEndDate,
			Currency:            b.Pricing.Currency,
			Total:               b.Pricing.Total.StringFixed(2),
			DepositAmount:       b.DepositAmount.StringFixed(2),
			DepositDueDate:      b.DepositDueDate,
			BalanceDue:          b.BalanceDue.StringFixed(2),
			FinalPaymentDueDate: b.FinalPaymentDueDate,
			PaymentStatus:       string(b.PaymentStatus),
			Status:              string(b.Status),
		},
		Commission: commissionResponse{
			ID:            c.CommissionID.String(),
			AgentEarnings: c.AgentEarnings.StringFixed(2),
			PlatformFee:   c.PlatformFee.StringFixed(2),
			Tier:          c.Tier,
			Status:        string(c.Status),
			HoldUntil:     c.HoldUntil,
		},
		CorrelationID: res.CorrelationID,
	}
}

type metricsResponse struct {
	Operation     string         `json:"operation,omitempty"`
	WindowMillis  int64          `json:"window_ms"`
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	Failed        int            `json:"failed"`
	AverageMillis float64        `json:"average_ms"`
	P50Millis     float64        `json:"p50_ms"`
	P95Millis     float64        `json:"p95_ms"`
	P99Millis     float64        `json:"p99_ms"`
	MaxMillis     float64        `json:"max_ms"`
	ErrorsByCode  map[string]int `json:"errors_by_code"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func newMetricsResponse(operation string, m oplog.Metrics) metricsResponse {
	return metricsResponse{
		Operation:     operation,
		WindowMillis:  m.Window.Milliseconds(),
		Total:         m.Total,
		Successful:    m.Successful,
		Failed:        m.Failed,
		AverageMillis: millis(m.AverageDuration),
		P50Millis:     millis(m.P50Duration),
		P95Millis:     millis(m.P95Duration),
		P99Millis:     millis(m.P99Duration),
		MaxMillis:     millis(m.MaxDuration),
		ErrorsByCode:  m.ErrorsByCode,
	}
}
