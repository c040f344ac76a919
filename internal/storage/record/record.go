// Package record defines the persisted shape of ledger entries and cards and
// maps it to and from the domain. The same records back the JSON seed files
// and the SQLite rows.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

// Amount is a stored amount. It decodes from a JSON number or string and is
// only validated when mapped to the domain.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	*a = Amount(strings.Trim(strings.TrimSpace(string(b)), `"`))
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if _, err := decimal.NewFromString(string(a)); err == nil {
		return []byte(a), nil
	}
	return json.Marshal(string(a))
}

func (a Amount) decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, errors.New("negative")
	}
	return d, nil
}

type Transaction struct {
	ID               string  `json:"id"`
	Description      string  `json:"description"`
	Amount           Amount  `json:"amount"`
	Type             string  `json:"type"`
	Date             string  `json:"date"`
	IsPaid           bool    `json:"is_paid"`
	Category         string  `json:"category"`
	CardID           *string `json:"card_id"`
	IsRecurring      bool    `json:"is_recurring"`
	RecurringGroupID *string `json:"recurring_group_id"`
}

type Card struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Limit      Amount `json:"limit"`
	ClosingDay int    `json:"closing_day"`
	DueDay     int    `json:"due_day"`
	Color      string `json:"color"`
}

func malformed(kind, id, format string, args ...any) error {
	return fmt.Errorf("%s %s: %s: %w", kind, id, fmt.Sprintf(format, args...), core.ErrMalformedRecord)
}

// ToDomain maps a stored entry. Any unusable field fails the whole record
// with core.ErrMalformedRecord.
func (r Transaction) ToDomain() (core.Transaction, error) {
	amount, err := r.Amount.decimal()
	if err != nil {
		return core.Transaction{}, malformed("transaction", r.ID, "amount %q: %v", string(r.Amount), err)
	}
	date, err := core.ParseDate(r.Date)
	if err != nil {
		return core.Transaction{}, malformed("transaction", r.ID, "%v", err)
	}
	kind := core.Kind(r.Type)
	if !kind.Valid() {
		return core.Transaction{}, malformed("transaction", r.ID, "type %q", r.Type)
	}
	return core.Transaction{
		ID:               r.ID,
		Description:      r.Description,
		Amount:           amount,
		Kind:             kind,
		Date:             date,
		Settled:          r.IsPaid,
		Category:         r.Category,
		CardID:           deref(r.CardID),
		Recurring:        r.IsRecurring,
		RecurringGroupID: deref(r.RecurringGroupID),
	}, nil
}

// FromTransaction maps a domain entry; absent references become null.
func FromTransaction(t core.Transaction) Transaction {
	return Transaction{
		ID:               t.ID,
		Description:      t.Description,
		Amount:           Amount(t.Amount.String()),
		Type:             string(t.Kind),
		Date:             t.Date.String(),
		IsPaid:           t.Settled,
		Category:         t.Category,
		CardID:           ref(t.CardID),
		IsRecurring:      t.Recurring,
		RecurringGroupID: ref(t.RecurringGroupID),
	}
}

func (r Card) ToDomain() (core.Card, error) {
	limit, err := r.Limit.decimal()
	if err != nil {
		return core.Card{}, malformed("card", r.ID, "limit %q: %v", string(r.Limit), err)
	}
	return core.Card{
		ID:          r.ID,
		Name:        r.Name,
		CreditLimit: limit,
		ClosingDay:  r.ClosingDay,
		DueDay:      r.DueDay,
		Color:       r.Color,
	}, nil
}

func FromCard(c core.Card) Card {
	return Card{
		ID:         c.ID,
		Name:       c.Name,
		Limit:      Amount(c.CreditLimit.String()),
		ClosingDay: c.ClosingDay,
		DueDay:     c.DueDay,
		Color:      c.Color,
	}
}

// DecodeTransactions decodes a JSON array record by record. Records that do
// not decode or map are skipped and reported in the joined error.
func DecodeTransactions(data []byte) ([]core.Transaction, error) {
	ts, _, err := DecodeTransactionsKeep(data)
	return ts, err
}

// DecodeTransactionsKeep is DecodeTransactions that also returns the raw
// bytes of the skipped records, so a writer can store them back untouched.
// An error that does not wrap core.ErrMalformedRecord means the array itself
// could not be read.
func DecodeTransactionsKeep(data []byte) ([]core.Transaction, []json.RawMessage, error) {
	return decodeArray(data, "transactions", "record", Transaction.ToDomain)
}

// DecodeCards decodes a JSON array of cards the same way.
func DecodeCards(data []byte) ([]core.Card, error) {
	cs, _, err := DecodeCardsKeep(data)
	return cs, err
}

func DecodeCardsKeep(data []byte) ([]core.Card, []json.RawMessage, error) {
	return decodeArray(data, "cards", "card record", Card.ToDomain)
}

func decodeArray[R, T any](data []byte, what, label string, toDomain func(R) (T, error)) ([]T, []json.RawMessage, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", what, err)
	}
	out := make([]T, 0, len(raws))
	var (
		bad  []json.RawMessage
		errs []error
	)
	for i, raw := range raws {
		var r R
		if err := json.Unmarshal(raw, &r); err != nil {
			bad = append(bad, raw)
			errs = append(errs, fmt.Errorf("%s %d: %v: %w", label, i, err, core.ErrMalformedRecord))
			continue
		}
		v, err := toDomain(r)
		if err != nil {
			bad = append(bad, raw)
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, bad, errors.Join(errs...)
}

func EncodeTransactions(ts []core.Transaction) ([]byte, error) {
	return EncodeTransactionsWith(ts, nil)
}

// EncodeTransactionsWith encodes ts followed by raw records kept from an
// earlier decode.
func EncodeTransactionsWith(ts []core.Transaction, raw []json.RawMessage) ([]byte, error) {
	records := make([]any, 0, len(ts)+len(raw))
	for _, t := range ts {
		records = append(records, FromTransaction(t))
	}
	for _, r := range raw {
		records = append(records, r)
	}
	return json.MarshalIndent(records, "", "  ")
}

func EncodeCards(cs []core.Card) ([]byte, error) {
	return EncodeCardsWith(cs, nil)
}

func EncodeCardsWith(cs []core.Card, raw []json.RawMessage) ([]byte, error) {
	records := make([]any, 0, len(cs)+len(raw))
	for _, c := range cs {
		records = append(records, FromCard(c))
	}
	for _, r := range raw {
		records = append(records, r)
	}
	return json.MarshalIndent(records, "", "  ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
