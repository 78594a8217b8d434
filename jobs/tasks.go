package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskCommissionRelease moves held commissions past their hold date to payable.
	TaskCommissionRelease = "commission:release"
	// TaskAgentTierReview recomputes agent tiers from last month's bookings.
	TaskAgentTierReview = "agents:tier-review"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// TierReviewPayload scopes a tier review run. An empty period means the
// month before the run.
type TierReviewPayload struct {
	Period string `json:"period,omitempty"`
}

// CleanupPayload overrides the configured retention for a single run.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewCommissionReleaseTask builds the hourly release task.
func NewCommissionReleaseTask() *asynq.Task {
	return asynq.NewTask(TaskCommissionRelease, nil, asynq.Queue(QueueDefault))
}

// NewAgentTierReviewTask builds a tier review task for period (YYYY-MM).
func NewAgentTierReviewTask(period string) (*asynq.Task, error) {
	body, err := json.Marshal(TierReviewPayload{Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgentTierReview, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds a cleanup task. A zero retention keeps
// the worker default.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// decodePayload tolerates empty payloads from cron registrations.
func decodePayload(task *asynq.Task, v any) error {
	if task == nil || len(task.Payload()) == 0 {
		return nil
	}
	return json.Unmarshal(task.Payload(), v)
}
