// Package worker mirrors confirmed ledger changes into the spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"fincontrol/internal/amqp"
	"fincontrol/internal/core"
	"fincontrol/internal/log"
	"fincontrol/internal/sheets"
)

// TransactionReader is the read side of the ledger repository.
type TransactionReader interface {
	ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	GetTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error)
}

// MirrorWorker applies ledger events to a sheets.Mirror. Events only carry
// ids, so rows are always written from the repository's current state.
type MirrorWorker struct {
	repo   TransactionReader
	mirror sheets.Mirror
	logger *log.Logger
}

func NewMirrorWorker(repo TransactionReader, mirror sheets.Mirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &MirrorWorker{repo: repo, mirror: mirror, logger: logger}
}

// HandleEvent processes one ledger event. A returned error requeues it.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.InfoContext(ctx, "Processing ledger event",
		log.FieldEventType, string(ev.Type),
		log.FieldUserID, ev.UserID,
		log.FieldCount, len(ev.TransactionIDs))

	switch ev.Type {
	case amqp.EventTransactionCreated, amqp.EventTransactionUpdated, amqp.EventOccurrencesSynced:
		return w.upsert(ctx, ev.UserID, ev.TransactionIDs)
	case amqp.EventTransactionDeleted:
		if err := w.mirror.Delete(ctx, ev.TransactionIDs); err != nil {
			return fmt.Errorf("delete mirrored rows: %w", err)
		}
		return nil
	case amqp.EventCategoryRenamed:
		if len(ev.TransactionIDs) > 0 {
			return w.upsert(ctx, ev.UserID, ev.TransactionIDs)
		}
		// without ids only the category is known
		if ev.NewCategory == "" {
			return w.Resync(ctx, ev.UserID)
		}
		return w.upsertCategory(ctx, ev.UserID, ev.NewCategory)
	case amqp.EventCardDeleted:
		// dependents lost their card reference; rewrite everything
		return w.Resync(ctx, ev.UserID)
	case amqp.EventCardCreated:
		return nil
	default:
		w.logger.WarnContext(ctx, "Unknown ledger event ignored", log.FieldEventType, string(ev.Type))
		return nil
	}
}

func (w *MirrorWorker) upsert(ctx context.Context, userID string, ids []string) error {
	ts, err := w.repo.GetTransactions(ctx, userID, ids)
	if err != nil && !errors.Is(err, core.ErrMalformedRecord) {
		return fmt.Errorf("get transactions: %w", err)
	}
	if err != nil {
		w.logger.WarnContext(ctx, "Malformed transactions skipped", log.FieldError, err)
	}

	if err := w.mirror.Upsert(ctx, ts); err != nil {
		return fmt.Errorf("upsert mirrored rows: %w", err)
	}

	// ids that are gone were deleted after the event was published
	var missing []string
	for _, id := range ids {
		if !slices.ContainsFunc(ts, func(t core.Transaction) bool { return t.ID == id }) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && err == nil {
		if err := w.mirror.Delete(ctx, missing); err != nil {
			return fmt.Errorf("delete vanished rows: %w", err)
		}
	}
	return nil
}

func (w *MirrorWorker) upsertCategory(ctx context.Context, userID, category string) error {
	all, err := w.list(ctx, userID)
	if err != nil {
		return err
	}
	var changed []core.Transaction
	for _, t := range all {
		if t.Category == category {
			changed = append(changed, t)
		}
	}
	if err := w.mirror.Upsert(ctx, changed); err != nil {
		return fmt.Errorf("upsert relabelled rows: %w", err)
	}
	return nil
}

// Resync rewrites the whole mirror for userID. It recovers from events
// missed while the worker was down.
func (w *MirrorWorker) Resync(ctx context.Context, userID string) error {
	all, err := w.list(ctx, userID)
	if err != nil {
		return err
	}
	if err := w.mirror.Replace(ctx, all); err != nil {
		return fmt.Errorf("replace mirror: %w", err)
	}
	w.logger.InfoContext(ctx, "Mirror resynced",
		log.FieldUserID, userID,
		log.FieldCount, len(all))
	return nil
}

func (w *MirrorWorker) list(ctx context.Context, userID string) ([]core.Transaction, error) {
	all, err := w.repo.ListTransactions(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrMalformedRecord) {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if err != nil {
		w.logger.WarnContext(ctx, "Malformed transactions skipped", log.FieldError, err)
	}
	return all, nil
}
