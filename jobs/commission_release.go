package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/voyagehq/voyage/internal/jobs"
)

// CommissionReleaser flips HOLD commissions whose hold date has passed.
type CommissionReleaser interface {
	ReleaseHeldCommissions(ctx context.Context, now time.Time) (int64, error)
}

// CommissionReleaseJob runs the hourly commission release.
type CommissionReleaseJob struct {
	Releaser CommissionReleaser
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewCommissionReleaseJob constructs the job handler.
func NewCommissionReleaseJob(releaser CommissionReleaser, logger *slog.Logger, metrics *jobmetrics.Metrics) *CommissionReleaseJob {
	return &CommissionReleaseJob{
		Releaser: releaser,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the release.
func (j *CommissionReleaseJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Releaser == nil {
		return errors.New("commission release: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskCommissionRelease)

	released, err := j.Releaser.ReleaseHeldCommissions(ctx, j.clock())
	if err != nil {
		j.log().Error("release held commissions", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddReleased(released)
	j.log().Info("commissions released", slog.String("job", TaskCommissionRelease), slog.Int64("released", released))
	return tracker.End(nil)
}

func (j *CommissionReleaseJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
