package storage

import (
	"context"
	"database/sql"
	"strings"

	"fincontrol/internal/storage/record"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const transactionColumns = `id, description, amount, type, date, is_paid, category, card_id, is_recurring, recurring_group_id`

const listTransactions = `SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = ?
ORDER BY date, created_at, id`

func (q *Queries) ListTransactions(ctx context.Context, userID string) ([]record.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, userID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (q *Queries) GetTransactions(ctx context.Context, userID string, ids []string) ([]record.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)
ORDER BY date, id`
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const insertTransaction = `INSERT INTO transactions (
    id, user_id, description, amount, type, date, is_paid, category, card_id, is_recurring, recurring_group_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, userID string, r record.Transaction) error {
	_, err := q.db.ExecContext(ctx, insertTransaction,
		r.ID, userID, r.Description, string(r.Amount), r.Type, r.Date,
		r.IsPaid, r.Category, nullable(r.CardID), r.IsRecurring, nullable(r.RecurringGroupID))
	return err
}

const updateTransaction = `UPDATE transactions
SET description = ?, amount = ?, type = ?, date = ?, is_paid = ?, category = ?,
    card_id = ?, is_recurring = ?, recurring_group_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, userID string, r record.Transaction) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		r.Description, string(r.Amount), r.Type, r.Date, r.IsPaid, r.Category,
		nullable(r.CardID), r.IsRecurring, nullable(r.RecurringGroupID),
		userID, r.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const renameCategory = `UPDATE transactions
SET category = ?, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND category = ?`

func (q *Queries) RenameCategory(ctx context.Context, userID, oldName, newName string) (int64, error) {
	res, err := q.db.ExecContext(ctx, renameCategory, newName, userID, oldName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const detachCard = `UPDATE transactions
SET card_id = NULL, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND card_id = ?`

func (q *Queries) DetachCard(ctx context.Context, userID, cardID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, detachCard, userID, cardID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listCards = `SELECT id, name, credit_limit, closing_day, due_day, color
FROM credit_cards
WHERE user_id = ?
ORDER BY created_at, id`

func (q *Queries) ListCards(ctx context.Context, userID string) ([]record.Card, error) {
	rows, err := q.db.QueryContext(ctx, listCards, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Card
	for rows.Next() {
		var (
			r     record.Card
			limit string
		)
		if err := rows.Scan(&r.ID, &r.Name, &limit, &r.ClosingDay, &r.DueDay, &r.Color); err != nil {
			return nil, err
		}
		r.Limit = record.Amount(limit)
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertCard = `INSERT INTO credit_cards (id, user_id, name, credit_limit, closing_day, due_day, color)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertCard(ctx context.Context, userID string, r record.Card) error {
	_, err := q.db.ExecContext(ctx, insertCard,
		r.ID, userID, r.Name, string(r.Limit), r.ClosingDay, r.DueDay, r.Color)
	return err
}

const deleteCard = `DELETE FROM credit_cards WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteCard(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCard, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTransactions(rows *sql.Rows) ([]record.Transaction, error) {
	defer rows.Close()

	var out []record.Transaction
	for rows.Next() {
		var (
			r      record.Transaction
			amount string
			cardID sql.NullString
			group  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Description, &amount, &r.Type, &r.Date,
			&r.IsPaid, &r.Category, &cardID, &r.IsRecurring, &group); err != nil {
			return nil, err
		}
		r.Amount = record.Amount(amount)
		if cardID.Valid {
			r.CardID = &cardID.String
		}
		if group.Valid {
			r.RecurringGroupID = &group.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
