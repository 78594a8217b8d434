package oplog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultIncompleteAfter is how long a tracker may stay open before it is
// reported as incomplete.
const DefaultIncompleteAfter = 2 * time.Minute

// Observer receives operation outcomes, typically to feed Prometheus.
type Observer interface {
	ObserveOperation(rec OperationLog)
	ObservePersistFailure(operation string)
	ObserveIncomplete(operation string)
}

// RecorderConfig wires the recorder dependencies. Every field is optional.
type RecorderConfig struct {
	Logger          *slog.Logger
	Store           *MetricsStore
	Dispatcher      *Dispatcher
	Observer        Observer
	Now             func() time.Time
	NewID           func() string
	IncompleteAfter time.Duration
}

// Recorder starts trackers and owns the shared observability sinks.
type Recorder struct {
	logger          *slog.Logger
	store           *MetricsStore
	dispatcher      *Dispatcher
	observer        Observer
	now             func() time.Time
	newID           func() string
	incompleteAfter time.Duration

	open      atomic.Int64
	reporter  sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder builds a Recorder. When a dispatcher is supplied a reporter
// goroutine drains its error channel until Close.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Store == nil {
		cfg.Store = NewMetricsStore(DefaultCapacity, cfg.Now)
	}
	if cfg.IncompleteAfter == 0 {
		cfg.IncompleteAfter = DefaultIncompleteAfter
	}
	r := &Recorder{
		logger:          cfg.Logger,
		store:           cfg.Store,
		dispatcher:      cfg.Dispatcher,
		observer:        cfg.Observer,
		now:             cfg.Now,
		newID:           cfg.NewID,
		incompleteAfter: cfg.IncompleteAfter,
	}
	if r.dispatcher != nil {
		r.reporter.Add(1)
		go r.reportPersistFailures()
	}
	return r
}

// Store returns the metrics window fed by this recorder.
func (r *Recorder) Store() *MetricsStore {
	if r == nil {
		return nil
	}
	return r.store
}

// Open returns the number of trackers that have not finished yet.
func (r *Recorder) Open() int64 {
	if r == nil {
		return 0
	}
	return r.open.Load()
}

// Close drains the dispatcher and stops the failure reporter.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		if r.dispatcher != nil {
			r.dispatcher.Close()
		}
		r.reporter.Wait()
	})
}

func (r *Recorder) reportPersistFailures() {
	defer r.reporter.Done()
	for failure := range r.dispatcher.Errors() {
		r.logger.Error("operation log persist failed",
			slog.String("correlation_id", failure.CorrelationID),
			slog.String("operation", failure.Operation),
			slog.Any("error", failure.Err),
		)
		if r.observer != nil {
			r.observer.ObservePersistFailure(failure.Operation)
		}
	}
}

// Start opens a tracker with a fresh correlation id.
func (r *Recorder) Start(ctx context.Context, op Operation) *Tracker {
	if r == nil {
		return nil
	}
	t := &Tracker{
		recorder:      r,
		op:            op,
		correlationID: r.newID(),
		start:         r.now(),
	}
	if op.Payload != nil {
		hash, err := HashPayload(op.Payload)
		if err != nil {
			r.logger.WarnContext(ctx, "operation payload hash failed", slog.String("operation", op.Kind), slog.Any("error", err))
		}
		t.payloadHash = hash
	}
	r.open.Add(1)
	if r.incompleteAfter > 0 {
		t.timer = time.AfterFunc(r.incompleteAfter, t.incomplete)
	}
	return t
}

// Tracker follows one logical operation. Exactly one of Success or Failure
// takes effect; later calls are ignored and logged.
type Tracker struct {
	recorder      *Recorder
	op            Operation
	correlationID string
	payloadHash   string
	start         time.Time
	timer         *time.Timer
	done          atomic.Bool
}

// CorrelationID returns the id shared by every record of this operation.
func (t *Tracker) CorrelationID() string {
	if t == nil {
		return ""
	}
	return t.correlationID
}

// PayloadHash returns the canonical payload digest, empty when no payload was given.
func (t *Tracker) PayloadHash() string {
	if t == nil {
		return ""
	}
	return t.payloadHash
}

// SetClient attaches a client id learned after Start. It must be called from
// the goroutine that owns the tracker, before Success or Failure.
func (t *Tracker) SetClient(clientID string) {
	if t == nil {
		return
	}
	t.op.ClientID = clientID
}

// Success records a completed operation.
func (t *Tracker) Success(ctx context.Context, resultID string, metadata map[string]any) {
	if t == nil {
		return
	}
	t.finish(ctx, true, resultID, nil, metadata)
}

// Failure records a failed operation. The error code comes from ErrorCode()
// when err exposes it.
func (t *Tracker) Failure(ctx context.Context, err error) {
	if t == nil {
		return
	}
	info := ErrorInfoFrom(err)
	if info == nil {
		info = &ErrorInfo{Code: CodeInternal, Message: "unknown failure"}
	}
	t.finish(ctx, false, "", info, nil)
}

func (t *Tracker) finish(ctx context.Context, success bool, resultID string, info *ErrorInfo, metadata map[string]any) {
	r := t.recorder
	if !t.done.CompareAndSwap(false, true) {
		r.logger.ErrorContext(ctx, "operation finished twice",
			slog.String("operation", t.op.Kind),
			slog.String("correlation_id", t.correlationID),
		)
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	r.open.Add(-1)

	end := r.now()
	rec := OperationLog{
		CorrelationID: t.correlationID,
		Operation:     t.op.Kind,
		EntityID:      t.op.EntityID,
		ResultID:      resultID,
		AgentID:       t.op.AgentID,
		ClientID:      t.op.ClientID,
		PayloadHash:   t.payloadHash,
		Duration:      end.Sub(t.start),
		Success:       success,
		Error:         info,
		Metadata:      metadata,
		Timestamp:     end,
	}

	attrs := []slog.Attr{
		slog.String("operation", rec.Operation),
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("entity_id", rec.EntityID),
		slog.String("agent_id", rec.AgentID),
		slog.String("client_id", rec.ClientID),
		slog.String("payload_hash", rec.PayloadHash),
		slog.Duration("duration", rec.Duration),
		slog.Bool("success", rec.Success),
		slog.Time("timestamp", rec.Timestamp),
	}
	if success {
		attrs = append(attrs, slog.String("result_id", resultID))
		r.logger.LogAttrs(ctx, slog.LevelInfo, "operation completed", attrs...)
	} else {
		attrs = append(attrs, slog.String("error_code", info.Code), slog.String("error", info.Message))
		r.logger.LogAttrs(ctx, slog.LevelWarn, "operation failed", attrs...)
	}

	r.store.Add(rec)
	if r.observer != nil {
		r.observer.ObserveOperation(rec)
	}
	r.dispatcher.Submit(rec)
}

func (t *Tracker) incomplete() {
	if t.done.Load() {
		return
	}
	r := t.recorder
	r.logger.Error("operation incomplete",
		slog.String("operation", t.op.Kind),
		slog.String("correlation_id", t.correlationID),
		slog.Duration("open_for", r.now().Sub(t.start)),
	)
	if r.observer != nil {
		r.observer.ObserveIncomplete(t.op.Kind)
	}
}
