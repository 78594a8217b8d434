package oplog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrDispatchQueueFull is reported when a record is dropped because the
// dispatcher buffer is saturated.
var ErrDispatchQueueFull = errors.New("oplog: dispatch queue full")

// AuditSink persists completed operation records.
type AuditSink interface {
	Persist(ctx context.Context, rec OperationLog) error
}

// SinkFunc adapts a function to AuditSink.
type SinkFunc func(ctx context.Context, rec OperationLog) error

// Persist implements AuditSink.
func (f SinkFunc) Persist(ctx context.Context, rec OperationLog) error {
	return f(ctx, rec)
}

// DispatchError describes a persistence failure. It is only ever delivered on
// the dispatcher's error channel.
type DispatchError struct {
	CorrelationID string
	Operation     string
	Err           error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("oplog: persist %s (%s): %v", e.Operation, e.CorrelationID, e.Err)
}

func (e DispatchError) Unwrap() error { return e.Err }

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sink           AuditSink
	Logger         *slog.Logger
	Buffer         int
	Workers        int
	PersistTimeout time.Duration
}

// Dispatcher hands records to the audit sink on background goroutines. Submit
// never blocks; when the buffer is full the record is dropped and reported on
// Errors().
type Dispatcher struct {
	sink    AuditSink
	logger  *slog.Logger
	timeout time.Duration

	queue  chan OperationLog
	errs   chan DispatchError
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewDispatcher starts the worker goroutines.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Sink == nil {
		cfg.Sink = LogSink{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		timeout: cfg.PersistTimeout,
		queue:   make(chan OperationLog, cfg.Buffer),
		errs:    make(chan DispatchError, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Submit enqueues rec for persistence without blocking the caller.
func (d *Dispatcher) Submit(rec OperationLog) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("oplog dispatcher closed, record dropped", slog.String("correlation_id", rec.CorrelationID))
		return
	}
	select {
	case d.queue <- rec:
	default:
		d.report(DispatchError{CorrelationID: rec.CorrelationID, Operation: rec.Operation, Err: ErrDispatchQueueFull})
	}
}

// Errors exposes persistence failures. The channel is closed by Close.
func (d *Dispatcher) Errors() <-chan DispatchError {
	return d.errs
}

// Close stops accepting records, drains the queue and closes Errors().
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
		close(d.errs)
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for rec := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Persist(ctx, rec)
		cancel()
		if err != nil {
			d.report(DispatchError{CorrelationID: rec.CorrelationID, Operation: rec.Operation, Err: err})
		}
	}
}

// report never blocks; if nobody drains the error channel the failure is
// still logged.
func (d *Dispatcher) report(e DispatchError) {
	select {
	case d.errs <- e:
	default:
		d.logger.Warn("oplog persist failure dropped", slog.String("correlation_id", e.CorrelationID), slog.Any("error", e.Err))
	}
}
