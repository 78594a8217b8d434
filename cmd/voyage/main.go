package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/voyagehq/voyage/cmd/voyage/cli"
	"github.com/voyagehq/voyage/internal/app"
	"github.com/voyagehq/voyage/internal/booking"
	"github.com/voyagehq/voyage/internal/observability"
	"github.com/voyagehq/voyage/internal/oplog"
	"github.com/voyagehq/voyage/internal/platform/cache"
	"github.com/voyagehq/voyage/internal/platform/db"
	"github.com/voyagehq/voyage/internal/platform/events"
	"github.com/voyagehq/voyage/internal/shared"
	"github.com/voyagehq/voyage/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, conversion lock disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sink := auditSink(cfg, pool, jobClient, logger)
	recorder := oplog.NewRecorder(oplog.RecorderConfig{
		Logger:          logger,
		Store:           oplog.NewMetricsStore(cfg.MetricsWindowCapacity, time.Now),
		Dispatcher:      oplog.NewDispatcher(oplog.DispatcherConfig{Sink: sink, Logger: logger}),
		Observer:        metrics,
		IncompleteAfter: cfg.IncompleteAfter,
	})
	defer recorder.Close()
	metrics.TrackOpenOperations(recorder.Open)

	publisher := eventPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	defaults, err := cfg.ConversionDefaults()
	if err != nil {
		return err
	}
	svcCfg := booking.ServiceConfig{
		Defaults:    defaults,
		LockTTL:     cfg.ConvertLockTTL,
		Idempotency: shared.NewIdempotencyStore(pool),
		Events:      publisher,
		Recorder:    recorder,
		Logger:      logger,
	}
	if redisClient != nil {
		svcCfg.Locker = shared.NewRedisLocker(redisClient)
	}
	service := booking.NewService(booking.NewRepository(pool), svcCfg)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BookingHandler: booking.NewHandler(logger, service),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_sink", cfg.AuditSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func auditSink(cfg *app.Config, pool *pgxpool.Pool, client *jobs.Client, logger *slog.Logger) oplog.AuditSink {
	switch strings.ToLower(cfg.AuditSink) {
	case app.AuditSinkQueue:
		return oplog.NewQueueSink(client, cfg.AuditQueue)
	case app.AuditSinkLog:
		return oplog.LogSink{Logger: logger}
	default:
		return oplog.NewPostgresSink(pool)
	}
}

type closablePublisher interface {
	booking.EventPublisher
	Close() error
}

func eventPublisher(cfg *app.Config, logger *slog.Logger) closablePublisher {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL not set, booking events disabled")
		return events.NoopPublisher{Logger: logger}
	}
	publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.EventsExchange, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, booking events disabled", slog.Any("error", err))
		return events.NoopPublisher{Logger: logger}
	}
	return publisher
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	task := fs.String("task", "", "task type to enqueue ("+strings.Join([]string{jobs.TaskCommissionRelease, jobs.TaskAgentTierReview, jobs.TaskIdempotencyCleanup}, ", ")+")")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if len(args) == 0 {
		_, _ = os.Stderr.WriteString("usage: voyage jobs <trigger|stats> [--task TYPE] [--json]\n")
		return 2
	}
	action := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := jobs.NewClient(redisOpts)
	defer func() { _ = client.Close() }()
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	return cli.NewJobsCLI(client, inspector).JobsCommand(ctx, cli.JobsOptions{
		Action:     action,
		Task:       *task,
		JSONOutput: *jsonOut,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})
}
