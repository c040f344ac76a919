package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

const user = "user-1"

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sample(desc string, day int) core.Transaction {
	return core.Transaction{
		ID:          "tmp-" + desc,
		Description: desc,
		Amount:      decimal.RequireFromString("12.50"),
		Kind:        core.Expense,
		Date:        core.NewDate(2024, 3, day),
		Category:    "Food",
	}
}

func TestSQLiteRepository_TransactionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stored, err := repo.InsertTransaction(ctx, user, sample("Lunch", 4))
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	if stored.ID == "" || stored.ID == "tmp-Lunch" {
		t.Fatalf("temporary id was not replaced: %q", stored.ID)
	}

	list, err := repo.ListTransactions(ctx, user)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(list) != 1 || list[0].Amount.String() != "12.5" || list[0].Date != core.NewDate(2024, 3, 4) {
		t.Fatalf("ListTransactions() = %+v", list)
	}
	if other, _ := repo.ListTransactions(ctx, "someone-else"); len(other) != 0 {
		t.Fatalf("rows leaked across users: %+v", other)
	}

	stored.Settled = true
	stored.RecurringGroupID = "G1"
	if err := repo.UpdateTransaction(ctx, user, stored); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	got, err := repo.GetTransactions(ctx, user, []string{stored.ID})
	if err != nil || len(got) != 1 || !got[0].Settled || got[0].RecurringGroupID != "G1" {
		t.Fatalf("GetTransactions() = %+v, %v", got, err)
	}

	missing := stored
	missing.ID = "nope"
	if err := repo.UpdateTransaction(ctx, user, missing); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateTransaction(missing) error = %v, want ErrNotFound", err)
	}

	if err := repo.DeleteTransactions(ctx, user, []string{stored.ID, "nope"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("DeleteTransactions() error = %v, want ErrNotFound", err)
	}
	if list, _ := repo.ListTransactions(ctx, user); len(list) != 1 {
		t.Fatalf("partial delete was not rolled back")
	}
	if err := repo.DeleteTransactions(ctx, user, []string{stored.ID}); err != nil {
		t.Fatalf("DeleteTransactions() error = %v", err)
	}
	if list, _ := repo.ListTransactions(ctx, user); len(list) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(list))
	}
}

func TestSQLiteRepository_BatchInsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.InsertTransaction(ctx, user, core.Transaction{
		ID: "fixed", Description: "x", Amount: decimal.NewFromInt(1), Kind: core.Expense, Date: core.NewDate(2024, 1, 1),
	})
	if err != nil || first.ID != "fixed" {
		t.Fatalf("InsertTransaction() = %+v, %v", first, err)
	}

	dup := sample("Dup", 2)
	dup.ID = "fixed" // primary key clash
	results, err := repo.BatchInsertTransactions(ctx, user, []core.Transaction{sample("A", 1), dup, sample("B", 3)})
	if err != nil {
		t.Fatalf("BatchInsertTransactions() error = %v", err)
	}
	if len(results) != 3 || results[0].Err != nil || results[1].Err == nil || results[2].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if list, _ := repo.ListTransactions(ctx, user); len(list) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(list))
	}
}

func TestSQLiteRepository_DeleteCardDetaches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	card, err := repo.InsertCard(ctx, user, core.Card{
		Name: "Visa", CreditLimit: decimal.NewFromInt(2000), ClosingDay: 10, DueDay: 20, Color: "#123456",
	})
	if err != nil {
		t.Fatalf("InsertCard() error = %v", err)
	}
	charge := sample("Shoes", 12)
	charge.CardID = card.ID
	stored, err := repo.InsertTransaction(ctx, user, charge)
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	cards, err := repo.ListCards(ctx, user)
	if err != nil || len(cards) != 1 || cards[0].CreditLimit.String() != "2000" || cards[0].DueDay != 20 {
		t.Fatalf("ListCards() = %+v, %v", cards, err)
	}

	if err := repo.DeleteCard(ctx, user, card.ID); err != nil {
		t.Fatalf("DeleteCard() error = %v", err)
	}
	got, _ := repo.GetTransactions(ctx, user, []string{stored.ID})
	if len(got) != 1 || got[0].CardID != "" {
		t.Fatalf("transaction after card delete = %+v", got)
	}
	if cards, _ := repo.ListCards(ctx, user); len(cards) != 0 {
		t.Fatalf("card still listed")
	}
	if err := repo.DeleteCard(ctx, user, card.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteCard(again) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_RenameCategory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i, desc := range []string{"Bread", "Milk"} {
		if _, err := repo.InsertTransaction(ctx, user, sample(desc, i+1)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.RenameCategory(ctx, user, "Food", "Groceries")
	if err != nil || n != 2 {
		t.Fatalf("RenameCategory() = %d, %v", n, err)
	}
	list, _ := repo.ListTransactions(ctx, user)
	for _, tx := range list {
		if tx.Category != "Groceries" {
			t.Errorf("%s category = %q", tx.Description, tx.Category)
		}
	}
}

func TestSQLiteRepository_MalformedRowsAreSkipped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.InsertTransaction(ctx, user, sample("Good", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.db.ExecContext(ctx, `INSERT INTO transactions (id, user_id, description, amount, type, date)
		VALUES ('bad', ?, 'Bad', 'twelve', 'expense', '2024-03-01')`, user); err != nil {
		t.Fatal(err)
	}

	list, err := repo.ListTransactions(ctx, user)
	if !errors.Is(err, core.ErrMalformedRecord) {
		t.Fatalf("ListTransactions() error = %v, want ErrMalformedRecord", err)
	}
	if len(list) != 1 || list[0].Description != "Good" {
		t.Fatalf("ListTransactions() = %+v", list)
	}
}
