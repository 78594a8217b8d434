package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/voyage/internal/booking"
	jobmetrics "github.com/voyagehq/voyage/internal/jobs"
	"github.com/voyagehq/voyage/internal/shared"
)

var fixedNow = time.Date(2025, 4, 1, 0, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReleaser struct {
	calledAt time.Time
	released int64
	err      error
}

func (f *fakeReleaser) ReleaseHeldCommissions(_ context.Context, now time.Time) (int64, error) {
	f.calledAt = now
	return f.released, f.err
}

// fakeReviewer completes each period once, like the tier_reviews claim.
type fakeReviewer struct {
	calls   int
	periods []string
	done    map[string]bool
	result  booking.TierReviewResult
	err     error
}

func (f *fakeReviewer) ReviewAgentTiers(_ context.Context, period string, _ time.Time) (booking.TierReviewResult, error) {
	f.calls++
	f.periods = append(f.periods, period)
	if f.err != nil {
		return booking.TierReviewResult{}, f.err
	}
	if f.done == nil {
		f.done = map[string]bool{}
	}
	if f.done[period] {
		return booking.TierReviewResult{}, booking.ErrTierPeriodReviewed
	}
	f.done[period] = true
	return f.result, nil
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type fakeCleaner struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, f.err
}

func TestCommissionReleaseJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	releaser := &fakeReleaser{released: 4}
	job := NewCommissionReleaseJob(releaser, quietLogger(), metrics)
	job.clock = func() time.Time { return fixedNow }

	require.NoError(t, job.Handle(context.Background(), NewCommissionReleaseTask()))
	assert.Equal(t, fixedNow, releaser.calledAt)

	count, err := testutil.GatherAndCount(registry, "voyage_commissions_released_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommissionReleaseJobFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewCommissionReleaseJob(&fakeReleaser{err: boom}, quietLogger(), nil)

	err := job.Handle(context.Background(), NewCommissionReleaseTask())
	assert.ErrorIs(t, err, boom)
}

func TestCommissionReleaseJobRequiresReleaser(t *testing.T) {
	job := NewCommissionReleaseJob(nil, quietLogger(), nil)
	assert.Error(t, job.Handle(context.Background(), NewCommissionReleaseTask()))
}

func newMiniredisLocker(t *testing.T) (*shared.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewRedisLocker(client), srv
}

func TestTierReviewJob(t *testing.T) {
	locker, srv := newMiniredisLocker(t)
	reviewer := &fakeReviewer{result: booking.TierReviewResult{
		Reviewed: 3,
		Changes: []booking.TierChange{
			{AgentID: uuid.New(), From: booking.TierBronze, To: booking.TierGold, Trips: 31},
			{AgentID: uuid.New(), From: booking.TierGold, To: booking.TierStarter, Trips: 1},
		},
	}}
	job := NewTierReviewJob(reviewer, locker, quietLogger(), nil)
	job.clock = func() time.Time { return fixedNow }

	task, err := NewAgentTierReviewTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, reviewer.calls)
	assert.Equal(t, []string{"2025-03"}, reviewer.periods)
	assert.False(t, srv.Exists(shared.AgentTierLockKey("2025-03")), "lock must be released")
}

func TestTierReviewJobSamePeriodTwice(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	reviewer := &fakeReviewer{result: booking.TierReviewResult{
		Reviewed: 2,
		Changes: []booking.TierChange{
			{AgentID: uuid.New(), From: booking.TierBronze, To: booking.TierSilver, Trips: 16},
		},
	}}
	job := NewTierReviewJob(reviewer, nil, quietLogger(), metrics)
	job.clock = func() time.Time { return fixedNow }

	task, err := NewAgentTierReviewTask("2025-03")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []string{"2025-03", "2025-03"}, reviewer.periods)
	assert.Equal(t, float64(1), counterValue(t, registry, "voyage_agent_tier_changes_total", "direction", "up"))
}

func TestTierReviewJobSkipsWhenLocked(t *testing.T) {
	locker, _ := newMiniredisLocker(t)
	_, err := locker.Acquire(context.Background(), shared.AgentTierLockKey("2025-03"), time.Minute)
	require.NoError(t, err)

	reviewer := &fakeReviewer{}
	job := NewTierReviewJob(reviewer, locker, quietLogger(), nil)
	job.clock = func() time.Time { return fixedNow }

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskAgentTierReview, nil)))
	assert.Zero(t, reviewer.calls)
}

func TestTierReviewJobRejectsBadPeriod(t *testing.T) {
	job := NewTierReviewJob(&fakeReviewer{}, nil, quietLogger(), nil)
	task, err := NewAgentTierReviewTask("March")
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestResolvePeriod(t *testing.T) {
	got, err := resolvePeriod("", time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-12", got)

	got, err = resolvePeriod("2025-02", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2025-02", got)
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &fakeCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(cleaner, 48*time.Hour, quietLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, cleaner.olderThan)

	task, err = NewIdempotencyCleanupTask(6 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 6*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupJobBadPayload(t *testing.T) {
	job := NewIdempotencyCleanupJob(&fakeCleaner{}, 0, quietLogger(), nil)
	assert.Equal(t, 30*24*time.Hour, job.Retention)

	err := job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskFor(t *testing.T) {
	for _, typ := range []string{TaskCommissionRelease, TaskAgentTierReview, TaskIdempotencyCleanup} {
		task, err := taskFor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, task.Type())
	}
	_, err := taskFor("mail:send")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHandlerHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Retry: 1}}, quietLogger()))
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Pending)
	assert.Equal(t, 1, body.Retry)

	rr = serve(NewHandler(fakeInspector{err: errors.New("redis gone")}, quietLogger()))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
