// Command fincontrol serves one user's ledger over a JSON API. It loads the
// ledger from the configured backend, creates the month's recurring entries
// and keeps doing so whenever the month changes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fincontrol/internal/advisor"
	"fincontrol/internal/backend"
	"fincontrol/internal/cache"
	"fincontrol/internal/cli"
	apphttp "fincontrol/internal/http"
	"fincontrol/internal/ledger"
	"fincontrol/internal/log"
	"fincontrol/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)

	logger.Info("Starting fincontrol",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		log.FieldUserID, cfg.UserID,
		"amqp_enabled", cfg.AMQPEnabled(),
		"advice_enabled", cfg.AdviceEnabled())

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(log.Default(log.ComponentBackend)).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err)
		os.Exit(1)
	}

	opts := append(res.Options(), ledger.WithLogger(log.Default(log.ComponentLedger)))
	store := ledger.NewStore(cfg.UserID, res.Repository, opts...)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Load(loadCtx)
	loadCancel()
	if err != nil {
		logger.Error("Failed to load ledger", log.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	syncer := services.NewRecurringSynchronizer(store, log.Default(log.ComponentRecurring))

	var adv apphttp.Advisor
	if cfg.AdviceEnabled() {
		gen, err := advisor.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.AdviceModel)
		if err != nil {
			logger.Warn("Advice disabled: failed to create Gemini client", log.FieldError, err)
		} else {
			adv = advisor.New(gen,
				advisor.WithSampleSize(cfg.AdviceSampleSize),
				advisor.WithLogger(log.Default(log.ComponentAdvisor)))
			logger.Info("Advice enabled", "model", gen.Model())
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:              store,
		Summaries:          cache.NewSummaryCache(cfg.SummaryCacheSize, cfg.SummaryCacheTTL),
		Recurring:          syncer,
		Advisor:            adv,
		Logger:             log.Default(log.ComponentHTTP),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	go runRecurringSync(ctx, syncer, cfg.RecurringSyncInterval, logger)

	logger.Info("Listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// runRecurringSync syncs the current month at startup and again on every
// tick once the month has changed.
func runRecurringSync(ctx context.Context, syncer *services.RecurringSynchronizer, interval time.Duration, logger *log.Logger) {
	check := func(now time.Time) {
		res, ran, err := syncer.SyncIfMonthChanged(ctx, now)
		switch {
		case err != nil:
			logger.Error("Recurring sync failed", log.FieldError, err, log.FieldPeriod, res.Target.String())
		case ran:
			logger.Info("Recurring sync done",
				log.FieldPeriod, res.Target.String(),
				"created", res.Created,
				"backfilled", res.Backfilled)
		}
	}

	check(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			check(now)
		}
	}
}
