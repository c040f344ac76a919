// Package storage persists the ledger in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"fincontrol/internal/core"
	"fincontrol/internal/ledger"
	"fincontrol/internal/storage/record"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListTransactions returns the user's valid entries. Rows that cannot be
// mapped are reported in a joined error wrapping core.ErrMalformedRecord.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return toDomain(rows)
}

func (r *SQLiteRepository) GetTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error) {
	rows, err := r.queries.GetTransactions(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	return toDomain(rows)
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, userID string, t core.Transaction) (core.Transaction, error) {
	t.ID = confirmedID(t.ID)
	if err := r.queries.InsertTransaction(ctx, userID, record.FromTransaction(t)); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"kind", t.Kind,
		"amount", t.Amount.String(),
		"date", t.Date.String())
	return t, nil
}

// BatchInsertTransactions inserts each row on its own so one bad row does not
// sink the rest. Results are positional.
func (r *SQLiteRepository) BatchInsertTransactions(ctx context.Context, userID string, ts []core.Transaction) ([]ledger.InsertResult, error) {
	results := make([]ledger.InsertResult, len(ts))
	failed := 0
	for i, t := range ts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, err := r.InsertTransaction(ctx, userID, t)
		results[i] = ledger.InsertResult{Transaction: stored, Err: err}
		if err != nil {
			failed++
		}
	}

	slog.InfoContext(ctx, "Batch insert complete",
		"user_id", userID,
		"rows", len(ts),
		"failed", failed)
	return results, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, userID string, t core.Transaction) error {
	n, err := r.queries.UpdateTransaction(ctx, userID, record.FromTransaction(t))
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteTransactions removes all ids or none.
func (r *SQLiteRepository) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	return r.inTx(ctx, func(q *Queries) error {
		for _, id := range ids {
			n, err := q.DeleteTransaction(ctx, userID, id)
			if err != nil {
				return fmt.Errorf("delete transaction %s: %w", id, err)
			}
			if n == 0 {
				return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
			}
		}
		return nil
	})
}

// RenameCategory runs as a single statement, so it applies to every matching
// row or to none.
func (r *SQLiteRepository) RenameCategory(ctx context.Context, userID, oldName, newName string) (int, error) {
	n, err := r.queries.RenameCategory(ctx, userID, oldName, newName)
	if err != nil {
		return 0, fmt.Errorf("rename category %q: %w", oldName, err)
	}
	slog.InfoContext(ctx, "Category renamed",
		"user_id", userID,
		"from", oldName,
		"to", newName,
		"rows", n)
	return int(n), nil
}

func (r *SQLiteRepository) ListCards(ctx context.Context, userID string) ([]core.Card, error) {
	rows, err := r.queries.ListCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards := make([]core.Card, 0, len(rows))
	var errs []error
	for _, row := range rows {
		c, err := row.ToDomain()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cards = append(cards, c)
	}
	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "Skipped malformed card rows", "user_id", userID, "error", err)
	}
	return cards, nil
}

func (r *SQLiteRepository) InsertCard(ctx context.Context, userID string, c core.Card) (core.Card, error) {
	c.ID = confirmedID(c.ID)
	if err := r.queries.InsertCard(ctx, userID, record.FromCard(c)); err != nil {
		return core.Card{}, fmt.Errorf("insert card: %w", err)
	}
	return c, nil
}

// DeleteCard clears the card from its transactions and removes it in one
// SQL transaction.
func (r *SQLiteRepository) DeleteCard(ctx context.Context, userID, cardID string) error {
	return r.inTx(ctx, func(q *Queries) error {
		detached, err := q.DetachCard(ctx, userID, cardID)
		if err != nil {
			return fmt.Errorf("detach card %s: %w", cardID, err)
		}
		n, err := q.DeleteCard(ctx, userID, cardID)
		if err != nil {
			return fmt.Errorf("delete card %s: %w", cardID, err)
		}
		if n == 0 {
			return fmt.Errorf("delete card %s: %w", cardID, core.ErrNotFound)
		}
		slog.InfoContext(ctx, "Card deleted",
			"card_id", cardID,
			"detached_transactions", detached)
		return nil
	})
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func toDomain(rows []record.Transaction) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	var errs []error
	for _, row := range rows {
		t, err := row.ToDomain()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

// confirmedID keeps a caller-chosen id and replaces empty or temporary ones.
func confirmedID(id string) string {
	if id == "" || ledger.IsTemporaryID(id) {
		return uuid.NewString()
	}
	return id
}
