// Command ledger-worker mirrors the ledger into a Google Sheet. It consumes
// ledger events from RabbitMQ and periodically rewrites the whole sheet to
// repair anything a lost event left behind.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fincontrol/internal/amqp"
	"fincontrol/internal/cli"
	"fincontrol/internal/log"
	gsheet "fincontrol/internal/sheets/google"
	"fincontrol/internal/storage"
	"fincontrol/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)

	logger.Info("Starting ledger-worker", log.FieldUserID, cfg.UserID)

	if !cfg.AMQPEnabled() || !cfg.MirrorEnabled() {
		logger.Error("ledger-worker needs AMQP_URL and GOOGLE_SPREADSHEET_ID",
			log.FieldErrorType, log.ErrorTypeConfiguration,
			"amqp_enabled", cfg.AMQPEnabled(),
			"mirror_enabled", cfg.MirrorEnabled())
		os.Exit(1)
	}
	if cfg.DataBackend != "sqlite" {
		logger.Error("ledger-worker reads the ledger from SQLite; set DATA_BACKEND=sqlite",
			log.FieldErrorType, log.ErrorTypeConfiguration,
			"backend", cfg.DataBackend)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	mirror, err := gsheet.NewFromOptions(context.Background(), gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
		OAuthClientFile: cfg.GoogleOAuthClientFile,
		OAuthTokenJSON:  cfg.GoogleOAuthTokenJSON,
		OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		_ = repo.Close()
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		_ = repo.Close()
		os.Exit(1)
	}

	w := worker.NewMirrorWorker(repo, mirror, log.Default(log.ComponentSheets))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := errors.Join(client.Close(), repo.Close()); err != nil {
			logger.Error("Cleanup error", log.FieldError, err)
		}
	})

	// Startup resync catches up on events published while the worker was down.
	if err := w.Resync(ctx, cfg.UserID); err != nil {
		logger.Error("Startup resync failed", log.FieldError, err)
	}

	go func() {
		err := client.Consume(ctx, w.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption stopped", log.FieldError, err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.MirrorResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Resync(ctx, cfg.UserID); err != nil {
					logger.Error("Periodic resync failed", log.FieldError, err)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("ledger-worker stopped")
}
