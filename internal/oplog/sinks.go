package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
)

// TaskPersist is the asynq task type used by QueueSink.
const TaskPersist = "oplog:persist"

// Execer is the subset of pgxpool.Pool used by PostgresSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink writes records into operation_logs.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink returns a sink backed by db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// Persist inserts rec. Re-delivery of the same correlation id is a no-op.
func (s *PostgresSink) Persist(ctx context.Context, rec OperationLog) error {
	if s == nil || s.db == nil {
		return errors.New("oplog: postgres sink not initialised")
	}
	if rec.CorrelationID == "" || rec.Operation == "" {
		return errors.New("oplog: record requires correlation_id/operation")
	}
	var metaJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("oplog: marshal metadata: %w", err)
		}
	}
	var code, message *string
	if rec.Error != nil {
		code, message = &rec.Error.Code, &rec.Error.Message
	}
	_, err := s.db.Exec(ctx, `INSERT INTO operation_logs
		(correlation_id, operation, entity_id, result_id, agent_id, client_id, payload_hash,
		 duration_ms, success, error_code, error_message, metadata, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
		 $8, $9, $10, $11, $12, $13)
		ON CONFLICT (correlation_id) DO NOTHING`,
		rec.CorrelationID, rec.Operation, rec.EntityID, rec.ResultID, rec.AgentID, rec.ClientID, rec.PayloadHash,
		rec.Duration.Milliseconds(), rec.Success, code, message, metaJSON, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("oplog: insert operation log: %w", err)
	}
	return nil
}

// Enqueuer is the subset of asynq.Client used by QueueSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink defers persistence to the worker through an asynq task.
type QueueSink struct {
	client Enqueuer
	queue  string
}

// NewQueueSink returns a sink that enqueues onto queue.
func NewQueueSink(client Enqueuer, queue string) *QueueSink {
	if queue == "" {
		queue = "default"
	}
	return &QueueSink{client: client, queue: queue}
}

// NewPersistTask wraps rec in an oplog:persist task.
func NewPersistTask(rec OperationLog) (*asynq.Task, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPersist, payload), nil
}

// Persist enqueues rec.
func (s *QueueSink) Persist(ctx context.Context, rec OperationLog) error {
	task, err := NewPersistTask(rec)
	if err != nil {
		return fmt.Errorf("oplog: build persist task: %w", err)
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("oplog: enqueue persist task: %w", err)
	}
	return nil
}

// NewPersistHandler returns the worker handler for oplog:persist tasks.
func NewPersistHandler(sink AuditSink) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var rec OperationLog
		if err := json.Unmarshal(task.Payload(), &rec); err != nil {
			return fmt.Errorf("decode operation log: %w: %w", err, asynq.SkipRetry)
		}
		return sink.Persist(ctx, rec)
	}
}

// LogSink only logs; it is the fallback when no store is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Persist implements AuditSink.
func (s LogSink) Persist(ctx context.Context, rec OperationLog) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "operation log",
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("operation", rec.Operation),
		slog.Bool("success", rec.Success),
	)
	return nil
}
