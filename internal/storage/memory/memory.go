// Package memory is an in-process ledger repository. It can be seeded from
// JSON files and writes changes back to them, which makes it the local
// fallback when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"fincontrol/internal/core"
	"fincontrol/internal/ledger"
	"fincontrol/internal/storage/record"
)

const (
	transactionsFile = "transactions.json"
	cardsFile        = "cards.json"
)

// ErrInjected is returned by operations switched to fail with FailWrites.
var ErrInjected = errors.New("injected write failure")

type userData struct {
	transactions []core.Transaction
	cards        []core.Card

	// Records from the seed files that did not map. They are written back
	// unchanged on every flush.
	badTransactions []json.RawMessage
	badCards        []json.RawMessage
	malformed       error
}

type Store struct {
	mu         sync.Mutex
	dir        string
	users      map[string]*userData
	failWrites bool
}

// New returns an empty store that never touches disk.
func New() *Store {
	return &Store{users: map[string]*userData{}}
}

// NewFromFiles returns a store backed by <dir>/<user>/transactions.json and
// cards.json. Missing files start empty. Malformed records are hidden from
// reads but kept on disk.
func NewFromFiles(dir string) *Store {
	s := New()
	s.dir = dir
	return s
}

// FailWrites makes every subsequent write fail with ErrInjected until
// switched off.
func (s *Store) FailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

func (s *Store) Close() error { return nil }

// user returns the data of userID, loading it from disk on first use. A file
// that cannot be read as a record array fails the call and nothing is
// cached, so writes cannot replace it. Callers hold s.mu.
func (s *Store) user(userID string) (*userData, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	u := &userData{}
	if s.dir != "" {
		base := filepath.Join(s.dir, userID)
		if data, ok := readFile(filepath.Join(base, transactionsFile)); ok {
			ts, bad, err := record.DecodeTransactionsKeep(data)
			if err != nil && !errors.Is(err, core.ErrMalformedRecord) {
				return nil, err
			}
			u.transactions, u.badTransactions, u.malformed = ts, bad, err
		}
		if data, ok := readFile(filepath.Join(base, cardsFile)); ok {
			cs, bad, err := record.DecodeCardsKeep(data)
			if err != nil && !errors.Is(err, core.ErrMalformedRecord) {
				return nil, err
			}
			u.cards, u.badCards = cs, bad
		}
	}
	s.users[userID] = u
	return u, nil
}

// ListTransactions returns the valid entries. While the seed file holds
// malformed records the error wraps core.ErrMalformedRecord.
func (s *Store) ListTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(u.transactions), u.malformed
}

func (s *Store) GetTransactions(_ context.Context, userID string, ids []string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	var out []core.Transaction
	for _, t := range u.transactions {
		if slices.Contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, userID string, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return core.Transaction{}, ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return core.Transaction{}, err
	}
	t.ID = confirmedID(t.ID)
	if slices.ContainsFunc(u.transactions, func(x core.Transaction) bool { return x.ID == t.ID }) {
		return core.Transaction{}, fmt.Errorf("transaction %s already exists", t.ID)
	}
	u.transactions = append(u.transactions, t)
	return t, s.flush(userID, u)
}

func (s *Store) BatchInsertTransactions(ctx context.Context, userID string, ts []core.Transaction) ([]ledger.InsertResult, error) {
	results := make([]ledger.InsertResult, len(ts))
	for i, t := range ts {
		stored, err := s.InsertTransaction(ctx, userID, t)
		results[i] = ledger.InsertResult{Transaction: stored, Err: err}
	}
	return results, nil
}

func (s *Store) UpdateTransaction(_ context.Context, userID string, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(u.transactions, func(x core.Transaction) bool { return x.ID == t.ID })
	if i < 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	u.transactions[i] = t
	return s.flush(userID, u)
}

func (s *Store) DeleteTransactions(_ context.Context, userID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.ContainsFunc(u.transactions, func(x core.Transaction) bool { return x.ID == id }) {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
	}
	u.transactions = slices.DeleteFunc(u.transactions, func(x core.Transaction) bool {
		return slices.Contains(ids, x.ID)
	})
	return s.flush(userID, u)
}

func (s *Store) RenameCategory(_ context.Context, userID, oldName, newName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return 0, ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range u.transactions {
		if u.transactions[i].Category == oldName {
			u.transactions[i].Category = newName
			n++
		}
	}
	return n, s.flush(userID, u)
}

func (s *Store) ListCards(_ context.Context, userID string) ([]core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	if u.badCards != nil {
		slog.Warn("Seed data contained malformed cards", "user_id", userID, "count", len(u.badCards))
	}
	return slices.Clone(u.cards), nil
}

func (s *Store) InsertCard(_ context.Context, userID string, c core.Card) (core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return core.Card{}, ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return core.Card{}, err
	}
	c.ID = confirmedID(c.ID)
	u.cards = append(u.cards, c)
	return c, s.flush(userID, u)
}

func (s *Store) DeleteCard(_ context.Context, userID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return ErrInjected
	}
	u, err := s.user(userID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(u.cards, func(c core.Card) bool { return c.ID == cardID })
	if i < 0 {
		return fmt.Errorf("card %s: %w", cardID, core.ErrNotFound)
	}
	u.cards = slices.Delete(u.cards, i, i+1)
	for j := range u.transactions {
		if u.transactions[j].CardID == cardID {
			u.transactions[j].CardID = ""
		}
	}
	return s.flush(userID, u)
}

// flush writes the user's data back when the store is file backed. Callers
// hold s.mu.
func (s *Store) flush(userID string, u *userData) error {
	if s.dir == "" {
		return nil
	}
	base := filepath.Join(s.dir, userID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ts, err := record.EncodeTransactionsWith(u.transactions, u.badTransactions)
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	cs, err := record.EncodeCardsWith(u.cards, u.badCards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	if err := writeFile(filepath.Join(base, transactionsFile), ts); err != nil {
		return err
	}
	return writeFile(filepath.Join(base, cardsFile), cs)
}

func readFile(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Cannot read seed file", "path", path, "error", err)
		}
		return nil, false
	}
	return data, true
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func confirmedID(id string) string {
	if id == "" || ledger.IsTemporaryID(id) {
		return uuid.NewString()
	}
	return id
}
