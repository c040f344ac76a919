package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

type (
	Kind string

	Date struct {
		time.Time
	}

	// Transaction is a single ledger entry. A non-empty CardID marks a
	// credit-card charge; its Date is the purchase date, not the invoice date.
	Transaction struct {
		ID               string
		Description      string
		Amount           decimal.Decimal
		Kind             Kind
		Date             Date
		Settled          bool
		Category         string
		CardID           string
		Recurring        bool
		RecurringGroupID string
	}

	Card struct {
		ID          string
		Name        string
		CreditLimit decimal.Decimal
		ClosingDay  int
		DueDay      int
		Color       string
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrInvalidLimit     = errors.New("invalid credit limit")
	ErrEmptyDescription = errors.New("empty description")
	ErrLongDescription  = errors.New("description too long (max 200 characters)")
	ErrEmptyName        = errors.New("empty card name")
	ErrNotFound         = errors.New("not found")
	ErrMalformedRecord  = errors.New("malformed record")
)

const dateLayout = "2006-01-02"

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Period returns the calendar month the date falls in.
func (d Date) Period() Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("date cannot be zero: %w", ErrInvalidDay)
	}
	return nil
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

// Sign returns +1 for income and -1 for expense.
func (k Kind) Sign() decimal.Decimal {
	if k == Income {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Signed returns the amount with the sign of its kind.
func (t Transaction) Signed() decimal.Decimal {
	return t.Amount.Mul(t.Kind.Sign())
}

// OnCard reports whether the transaction is a credit-card charge.
func (t Transaction) OnCard() bool {
	return t.CardID != ""
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrLongDescription
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !c.CreditLimit.IsPositive() {
		return ErrInvalidLimit
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return fmt.Errorf("closing day %d: %w", c.ClosingDay, ErrInvalidDay)
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return fmt.Errorf("due day %d: %w", c.DueDay, ErrInvalidDay)
	}
	return nil
}
