package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"github.com/voyagehq/voyage/jobs"
)

// Triggerer enqueues maintenance tasks by type.
type Triggerer interface {
	Trigger(ctx context.Context, taskType string) (*asynq.TaskInfo, error)
}

// Inspector reports queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for background jobs.
type JobsCLI struct {
	client    Triggerer
	inspector Inspector
}

// NewJobsCLI wires the helpers. Either dependency may be nil when the
// matching action is not used.
func NewJobsCLI(client Triggerer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// JobsOptions carries parsed flags for the jobs command.
type JobsOptions struct {
	Action     string
	Task       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

type triggerSummary struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Queue string    `json:"queue"`
	At    time.Time `json:"enqueued_at"`
}

// JobsCommand runs the action and returns a process exit code.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	switch opts.Action {
	case "trigger":
		info, err := c.trigger(ctx, opts.Task)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		summary := triggerSummary{ID: info.ID, Type: info.Type, Queue: info.Queue, At: time.Now().UTC()}
		if opts.JSONOutput {
			return writeJSON(opts.Stdout, opts.Stderr, summary)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s as %s on queue %s\n", summary.Type, summary.ID, summary.Queue)
		return 0
	case "stats":
		stats, err := c.stats()
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			return writeJSON(opts.Stdout, opts.Stderr, stats)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown action %q (expected trigger or stats)\n", opts.Action)
		return 2
	}
}

func (c *JobsCLI) trigger(ctx context.Context, task string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("client not configured")
	}
	if task == "" {
		return nil, errors.New("--task is required")
	}
	return c.client.Trigger(ctx, task)
}

func (c *JobsCLI) stats() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: encode json: %v\n", err)
		return 1
	}
	return 0
}
