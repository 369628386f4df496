// Command estimatord runs the estimator API server: it loads
// configuration, wires the domain packages (store, broker, job engine,
// BoQ editor, export pipeline, auth, plus the optional spend-cap tracker,
// usage meter and audit logger) together, and serves the HTTP API while a
// background goroutine drains the job outbox.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/takeoffworks/estimator/pkg/artifacts"
	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/boq"
	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/config"
	"github.com/takeoffworks/estimator/pkg/export"
	"github.com/takeoffworks/estimator/pkg/extractor"
	"github.com/takeoffworks/estimator/pkg/finance"
	"github.com/takeoffworks/estimator/pkg/httpapi"
	"github.com/takeoffworks/estimator/pkg/identity"
	"github.com/takeoffworks/estimator/pkg/jobengine"
	"github.com/takeoffworks/estimator/pkg/metering"
	"github.com/takeoffworks/estimator/pkg/observability"
	"github.com/takeoffworks/estimator/pkg/presign"
	"github.com/takeoffworks/estimator/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("estimatord exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, dsn := splitDBURL(cfg.DBURL)
	db, err := store.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	blobs, err := artifacts.NewFileStore(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	b := newBroker(cfg, logger)

	signer := presign.NewSigner(cfg.SecretKey).WithClockSkew(cfg.PresignClockSkew)

	keys, err := identity.NewInMemoryKeySet()
	if err != nil {
		return fmt.Errorf("init key set: %w", err)
	}
	tokens := identity.NewTokenManager(keys)

	authSvc := auth.New(db, tokens, signer, 24*time.Hour)

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := obs.Shutdown(shutdownCtx); serr != nil {
			logger.Error("observability shutdown failed", "error", serr)
		}
	}()

	registry := extractor.NewBuiltinRegistry()
	jobs := jobengine.New(db, blobs, b, registry, obs, cfg.CostPerJob)
	boqEd := boq.New(db, b)
	exportPipeline := export.New(db, blobs, b, signer)

	spendTracker, meter, err := newFinanceAndMetering(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("init finance/metering: %w", err)
	}
	jobs = jobs.WithSpendTracker(spendTracker).WithMeter(meter)
	exportPipeline = exportPipeline.WithMeter(meter)

	auditStore := store.NewAuditStore()
	auditLogger := audit.NewStoreLogger(auditStore)
	auditExporter := audit.NewExporter(auditStore)

	deps := &httpapi.Dependencies{
		Store:              db,
		Blobs:              blobs,
		Broker:             b,
		Signer:             signer,
		Auth:               authSvc,
		Jobs:               jobs,
		BoqEd:              boqEd,
		Export:             exportPipeline,
		Audit:              auditLogger,
		AuditExport:        auditExporter,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		AllowedUploadTypes: cfg.AllowedUploadTypes,
		PresignDefaultTTL:  cfg.PresignDefaultTTL,
		Logger:             logger,
	}

	resendLimiter := auth.NewKeyedLimiter(rateFromCooldown(cfg.VerificationResendCooldown), 1)
	presignLimiter := auth.NewKeyedLimiter(5, 10)
	corsOrigins := corsOriginsFromEnv()

	handler := httpapi.NewRouter(deps, tokens, resendLimiter, presignLimiter, corsOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go runOutboxWorker(workerCtx, db, jobs, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("estimatord listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// outboxPollInterval governs how often the worker checks for newly
// scheduled jobs; nothing wakes it between ticks.
const outboxPollInterval = 2 * time.Second

// runOutboxWorker drains jobengine's outbox: on each tick it processes
// every pending job in turn and then marks its outbox entry done whatever
// the outcome, so a failed job is not retried. jobengine.Process itself
// marks a failing job failed and refunds its credits.
func runOutboxWorker(ctx context.Context, outbox interface {
	JobOutboxPending(ctx context.Context) ([]string, error)
	JobOutboxMarkDone(ctx context.Context, jobID string) error
}, jobs *jobengine.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := outbox.JobOutboxPending(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "outbox poll failed", "error", err)
				continue
			}
			for _, jobID := range pending {
				jobs.Process(ctx, jobID)
				if err := outbox.JobOutboxMarkDone(ctx, jobID); err != nil {
					logger.ErrorContext(ctx, "outbox mark done failed", "job_id", jobID, "error", err)
				}
			}
		}
	}
}

// newFinanceAndMetering builds the optional spend-cap tracker and usage
// meter jobengine and the export pipeline record through. Both packages'
// durable implementations speak Postgres-specific SQL (JSONB, BIGSERIAL,
// $N placeholders), so against a sqlite store only the in-memory spend
// tracker is available and the meter stays nil — jobengine and export
// already treat a nil meter as "metering disabled" rather than an error.
func newFinanceAndMetering(ctx context.Context, db *store.Store, logger *slog.Logger) (finance.Tracker, metering.Meter, error) {
	if db.Driver() != "postgres" {
		return finance.NewInMemoryTracker(), nil, nil
	}
	tracker := finance.NewPostgresTracker(db.DB())
	if err := tracker.Init(); err != nil {
		return nil, nil, fmt.Errorf("init finance budgets table: %w", err)
	}
	meter := metering.NewPostgresMeter(db.DB())
	if err := meter.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("init usage_events table: %w", err)
	}
	logger.Info("postgres-backed spend tracking and usage metering enabled")
	return tracker, meter, nil
}

func newBroker(cfg *config.Config, logger *slog.Logger) broker.Broker {
	if !cfg.Redis.Enabled {
		return broker.NewMemoryBroker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("using redis broker", "addr", cfg.Redis.Addr)
	return broker.NewRedisBroker(client)
}

// splitDBURL turns a "driver://dsn" config value into the (driver, dsn)
// pair store.Open expects. Anything without a recognized scheme is
// treated as a raw sqlite path, matching the config's own default of a
// bare file path alongside the "sqlite://" form.
func splitDBURL(raw string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw
	default:
		return "sqlite", raw
	}
}

func rateFromCooldown(cooldown time.Duration) rate.Limit {
	if cooldown <= 0 {
		return 1
	}
	return rate.Limit(1 / cooldown.Seconds())
}

func corsOriginsFromEnv() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
