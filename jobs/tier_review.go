package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/voyagehq/voyage/internal/booking"
	jobmetrics "github.com/voyagehq/voyage/internal/jobs"
	"github.com/voyagehq/voyage/internal/shared"
)

const periodLayout = "2006-01"

// TierReviewer recomputes agent tiers and resets monthly counters. A period
// that was already reviewed yields booking.ErrTierPeriodReviewed.
type TierReviewer interface {
	ReviewAgentTiers(ctx context.Context, period string, now time.Time) (booking.TierReviewResult, error)
}

// Locker guards a job run across worker replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// TierReviewJob runs the monthly tier review once per period.
type TierReviewJob struct {
	Reviewer TierReviewer
	Locker   Locker
	LockTTL  time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewTierReviewJob constructs the job handler. locker may be nil.
func NewTierReviewJob(reviewer TierReviewer, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *TierReviewJob {
	return &TierReviewJob{
		Reviewer: reviewer,
		Locker:   locker,
		LockTTL:  10 * time.Minute,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the review.
func (j *TierReviewJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reviewer == nil {
		return errors.New("tier review: dependencies not configured")
	}
	var payload TierReviewPayload
	if err := decodePayload(task, &payload); err != nil {
		return fmt.Errorf("tier review payload: %v: %w", err, asynq.SkipRetry)
	}
	now := j.clock()
	period, err := resolvePeriod(payload.Period, now)
	if err != nil {
		return fmt.Errorf("tier review: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAgentTierReview)

	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.AgentTierLockKey(period), j.LockTTL)
		switch {
		case errors.Is(err, shared.ErrLocked):
			j.log().Info("tier review already running", slog.String("period", period))
			return tracker.End(nil)
		case err != nil:
			j.log().Error("acquire tier review lock", slog.String("period", period), slog.Any("error", err))
			return tracker.End(err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release tier review lock", slog.Any("error", err))
			}
		}()
	}

	result, err := j.Reviewer.ReviewAgentTiers(ctx, period, now)
	if errors.Is(err, booking.ErrTierPeriodReviewed) {
		j.log().Info("tier review already completed", slog.String("period", period))
		return tracker.End(nil)
	}
	if err != nil {
		j.log().Error("review agent tiers", slog.String("period", period), slog.Any("error", err))
		return tracker.End(err)
	}

	promoted, demoted, normalized := 0, 0, 0
	for _, change := range result.Changes {
		from, to := booking.ResolveTier(change.From).Rank, booking.ResolveTier(change.To).Rank
		switch {
		case to > from:
			promoted++
		case to < from:
			demoted++
		default:
			// unknown stored tier rewritten to its resolved key
			normalized++
		}
	}
	j.Metrics.AddTierChanges("up", promoted)
	j.Metrics.AddTierChanges("down", demoted)
	j.Metrics.AddTierChanges("normalized", normalized)
	j.log().Info("agent tiers reviewed",
		slog.String("job", TaskAgentTierReview),
		slog.String("period", period),
		slog.Int("reviewed", result.Reviewed),
		slog.Int("promoted", promoted),
		slog.Int("demoted", demoted),
	)
	return tracker.End(nil)
}

func (j *TierReviewJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// resolvePeriod defaults to the month before now.
func resolvePeriod(raw string, now time.Time) (string, error) {
	if raw == "" {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0).Format(periodLayout), nil
	}
	if _, err := time.Parse(periodLayout, raw); err != nil {
		return "", fmt.Errorf("invalid period %q", raw)
	}
	return raw, nil
}
