package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2024 || d.Month() != 2 || d.Day() != 29 {
		t.Fatalf("unexpected date %v", d)
	}
	if d.String() != "2024-02-29" {
		t.Fatalf("String() = %q", d.String())
	}
	if _, err := ParseDate("2024-02-30"); err == nil {
		t.Fatalf("expected error for impossible date")
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Description: "Rent",
		Amount:      decimal.NewFromInt(1000),
		Kind:        Expense,
		Date:        NewDate(2024, 1, 5),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	zero := good
	zero.Amount = decimal.Zero
	if err := zero.Validate(); err != nil {
		t.Fatalf("zero amount should be accepted, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"empty description", func(tx *Transaction) { tx.Description = "  " }, ErrEmptyDescription},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) }, ErrInvalidAmount},
		{"unknown kind", func(tx *Transaction) { tx.Kind = "transfer" }, ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := good
			tt.mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCardValidate(t *testing.T) {
	good := Card{Name: "Visa", CreditLimit: decimal.NewFromInt(5000), ClosingDay: 10, DueDay: 17}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Card{
		{Name: "", CreditLimit: decimal.NewFromInt(1), ClosingDay: 1, DueDay: 1},
		{Name: "a", CreditLimit: decimal.Zero, ClosingDay: 1, DueDay: 1},
		{Name: "a", CreditLimit: decimal.NewFromInt(1), ClosingDay: 0, DueDay: 1},
		{Name: "a", CreditLimit: decimal.NewFromInt(1), ClosingDay: 1, DueDay: 32},
	}
	for i, c := range bads {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestSigned(t *testing.T) {
	in := Transaction{Amount: decimal.NewFromInt(10), Kind: Income}
	out := Transaction{Amount: decimal.NewFromInt(10), Kind: Expense}
	if !in.Signed().Equal(decimal.NewFromInt(10)) {
		t.Errorf("income Signed() = %s", in.Signed())
	}
	if !out.Signed().Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expense Signed() = %s", out.Signed())
	}
}
