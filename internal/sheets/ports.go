package sheets

import (
	"context"

	"fincontrol/internal/core"
)

// Ports for the spreadsheet mirror of the ledger.
type (
	// RowWriter keeps one row per transaction, keyed by transaction id.
	RowWriter interface {
		// Upsert rewrites the rows of existing ids and appends the rest.
		Upsert(ctx context.Context, ts []core.Transaction) error
		// Delete removes the rows of ids. Unknown ids are ignored.
		Delete(ctx context.Context, ids []string) error
	}

	// Replacer rewrites the whole mirror from a full ledger.
	Replacer interface {
		Replace(ctx context.Context, ts []core.Transaction) error
	}

	Mirror interface {
		RowWriter
		Replacer
	}
)
