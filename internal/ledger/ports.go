package ledger

import (
	"context"

	"fincontrol/internal/amqp"
	"fincontrol/internal/core"
)

// InsertResult is the outcome of one row of a batch insert. Transaction holds
// the stored entry with its confirmed id when Err is nil.
type InsertResult struct {
	Transaction core.Transaction
	Err         error
}

// Ports for persistence and notification adapters.
type (
	TransactionRepository interface {
		// ListTransactions returns every valid entry of the user. Entries that
		// cannot be mapped are reported through a joined error wrapping
		// core.ErrMalformedRecord while the valid ones are still returned.
		ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
		GetTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error)
		InsertTransaction(ctx context.Context, userID string, t core.Transaction) (core.Transaction, error)
		BatchInsertTransactions(ctx context.Context, userID string, ts []core.Transaction) ([]InsertResult, error)
		UpdateTransaction(ctx context.Context, userID string, t core.Transaction) error
		DeleteTransactions(ctx context.Context, userID string, ids []string) error
		// RenameCategory relabels every entry of oldName to newName in one
		// unit of work and reports how many changed.
		RenameCategory(ctx context.Context, userID, oldName, newName string) (int, error)
	}

	CardRepository interface {
		ListCards(ctx context.Context, userID string) ([]core.Card, error)
		InsertCard(ctx context.Context, userID string, c core.Card) (core.Card, error)
		// DeleteCard removes the card and clears the card reference of its
		// transactions in one unit of work.
		DeleteCard(ctx context.Context, userID, cardID string) error
	}

	Repository interface {
		TransactionRepository
		CardRepository
		Close() error
	}

	// EventPublisher announces confirmed changes. Publishing is best effort.
	EventPublisher interface {
		Publish(ctx context.Context, event *amqp.LedgerEvent) error
	}
)
