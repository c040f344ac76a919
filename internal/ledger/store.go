// Package ledger keeps one user's transactions and cards in memory and
// mirrors every change to a Repository. Changes are applied locally first and
// rolled back when the repository does not confirm them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fincontrol/internal/amqp"
	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/log"
)

// ErrPersistence marks a change the repository rejected. The local state has
// been rolled back and the caller may retry.
var ErrPersistence = errors.New("change not persisted")

const tempIDPrefix = "tmp-"

// Scope selects which entries a delete removes.
type Scope int

const (
	// ScopeSingle removes only the given entry.
	ScopeSingle Scope = iota
	// ScopeThisAndFuture removes the entry and every later entry of its
	// recurring series.
	ScopeThisAndFuture
)

// ParseScope accepts "single" (or empty) and "future".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return ScopeSingle, nil
	case "future", "this_and_future":
		return ScopeThisAndFuture, nil
	default:
		return ScopeSingle, fmt.Errorf("unknown delete scope %q", s)
	}
}

// IsTemporaryID reports whether id was assigned locally and not yet confirmed.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Snapshot is a consistent copy of the ledger. Version increases with every
// local change, confirmed or rolled back.
type Snapshot struct {
	UserID       string
	Version      uint64
	Transactions []core.Transaction
	Cards        []core.Card
}

// Store is the single owner of a user's ledger state. It is safe for
// concurrent use. When two changes to the same entry race, the one confirmed
// last wins.
type Store struct {
	userID string
	repo   Repository
	events EventPublisher
	logger *log.Logger

	mu           sync.RWMutex
	transactions []core.Transaction
	cards        []core.Card
	version      uint64
}

type Option func(*Store)

// WithPublisher announces confirmed changes through p.
func WithPublisher(p EventPublisher) Option {
	return func(s *Store) { s.events = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(userID string, repo Repository, opts ...Option) *Store {
	s := &Store{
		userID: userID,
		repo:   repo,
		logger: log.Default(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) UserID() string {
	return s.userID
}

// Load replaces the local state with the repository's. Malformed stored
// entries are skipped with a warning; any other failure leaves the current
// state untouched.
func (s *Store) Load(ctx context.Context) error {
	var (
		transactions []core.Transaction
		cards        []core.Card
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ts, err := s.repo.ListTransactions(gctx, s.userID)
		if err != nil {
			if !errors.Is(err, core.ErrMalformedRecord) {
				return fmt.Errorf("list transactions: %w", err)
			}
			s.logger.WarnContext(ctx, "Skipped malformed stored transactions",
				log.FieldUserID, s.userID,
				log.FieldErrorType, log.ErrorTypeIntegrity,
				log.FieldError, err)
		}
		transactions = ts
		return nil
	})
	g.Go(func() error {
		cs, err := s.repo.ListCards(gctx, s.userID)
		if err != nil {
			return fmt.Errorf("list cards: %w", err)
		}
		cards = cs
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.transactions = transactions
	s.cards = cards
	s.version++
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Ledger loaded",
		log.FieldUserID, s.userID,
		"transactions", len(transactions),
		"cards", len(cards))
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UserID:       s.userID,
		Version:      s.version,
		Transactions: slices.Clone(s.transactions),
		Cards:        slices.Clone(s.cards),
	}
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// AddTransaction validates t, shows it immediately under a temporary id and
// swaps in the repository id once confirmed.
func (s *Store) AddTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	s.mu.Lock()
	if err := s.checkCardLocked(t.CardID); err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}
	t.ID = newTempID()
	t.RecurringGroupID = seriesID(t, "")
	s.transactions = append(s.transactions, t)
	s.version++
	s.mu.Unlock()

	stored, err := s.repo.InsertTransaction(ctx, s.userID, t)
	if err != nil {
		s.mu.Lock()
		s.removeLocked(t.ID)
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Add transaction rolled back", log.OpCreate, err, log.FieldTransaction, t.ID)
		return core.Transaction{}, fmt.Errorf("add transaction: %w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	s.replaceLocked(t.ID, stored)
	s.version++
	s.mu.Unlock()

	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventTransactionCreated, s.userID, stored.ID))
	return stored, nil
}

// AddInstallments splits an expense into n monthly entries and stores them
// as one batch.
func (s *Store) AddInstallments(ctx context.Context, t core.Transaction, n int) ([]core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	parts, err := finance.SplitInstallments(t, n)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	err = s.checkCardLocked(t.CardID)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	stored, err := s.appendBatch(ctx, parts)
	if len(stored) > 0 {
		s.publish(ctx, amqp.NewLedgerEvent(amqp.EventTransactionCreated, s.userID, idsOf(stored)...))
	}
	return stored, err
}

// AppendOccurrences stores a batch of generated entries. Each entry is
// confirmed or rolled back on its own; the confirmed ones are returned along
// with a joined error for the rest.
func (s *Store) AppendOccurrences(ctx context.Context, occurrences []core.Transaction) ([]core.Transaction, error) {
	if len(occurrences) == 0 {
		return nil, nil
	}
	stored, err := s.appendBatch(ctx, occurrences)
	if len(stored) > 0 {
		s.publish(ctx, amqp.NewLedgerEvent(amqp.EventOccurrencesSynced, s.userID, idsOf(stored)...))
	}
	return stored, err
}

func (s *Store) appendBatch(ctx context.Context, entries []core.Transaction) ([]core.Transaction, error) {
	pending := make([]core.Transaction, len(entries))
	s.mu.Lock()
	for i, t := range entries {
		t.ID = newTempID()
		pending[i] = t
		s.transactions = append(s.transactions, t)
	}
	s.version++
	s.mu.Unlock()

	results, err := s.repo.BatchInsertTransactions(ctx, s.userID, pending)
	if err != nil {
		s.mu.Lock()
		for _, t := range pending {
			s.removeLocked(t.ID)
		}
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Batch insert rolled back", log.OpCreate, err, log.FieldCount, len(pending))
		return nil, fmt.Errorf("append %d entries: %w: %w", len(pending), ErrPersistence, err)
	}

	var (
		stored []core.Transaction
		errs   []error
	)
	s.mu.Lock()
	for i, t := range pending {
		var res InsertResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Err = errors.New("no result returned")
		}
		if res.Err != nil {
			s.removeLocked(t.ID)
			errs = append(errs, fmt.Errorf("%s on %s: %w", t.Description, t.Date, res.Err))
			continue
		}
		s.replaceLocked(t.ID, res.Transaction)
		stored = append(stored, res.Transaction)
	}
	s.version++
	s.mu.Unlock()

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logFailure(ctx, "Some batch entries rolled back", log.OpCreate, err,
			log.FieldCount, len(errs))
		return stored, fmt.Errorf("append entries: %w: %w", ErrPersistence, err)
	}
	return stored, nil
}

// EditTransaction replaces the entry with the same id. The entry keeps the
// series id it already has; an edit that makes it recurring starts a new
// series.
func (s *Store) EditTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return s.update(ctx, t.ID, func(cur core.Transaction) (core.Transaction, error) {
		t.RecurringGroupID = seriesID(t, cur.RecurringGroupID)
		return t, nil
	})
}

// ToggleSettled flips the settled flag of an entry.
func (s *Store) ToggleSettled(ctx context.Context, id string) (core.Transaction, error) {
	return s.update(ctx, id, func(cur core.Transaction) (core.Transaction, error) {
		cur.Settled = !cur.Settled
		return cur, nil
	})
}

// SetRecurringGroup assigns a series id to an entry that has none yet.
func (s *Store) SetRecurringGroup(ctx context.Context, id, groupID string) (core.Transaction, error) {
	return s.update(ctx, id, func(cur core.Transaction) (core.Transaction, error) {
		cur.RecurringGroupID = groupID
		return cur, nil
	})
}

func (s *Store) update(ctx context.Context, id string, change func(core.Transaction) (core.Transaction, error)) (core.Transaction, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if IsTemporaryID(id) {
		s.mu.Unlock()
		return core.Transaction{}, fmt.Errorf("transaction %s is not confirmed yet: %w", id, ErrPersistence)
	}
	previous := s.transactions[i]
	next, err := change(previous)
	if err == nil {
		err = s.checkCardLocked(next.CardID)
	}
	if err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}
	next.ID = id
	s.transactions[i] = next
	s.version++
	s.mu.Unlock()

	if err := s.repo.UpdateTransaction(ctx, s.userID, next); err != nil {
		s.mu.Lock()
		if j := s.indexLocked(id); j >= 0 && sameEntry(s.transactions[j], next) {
			s.transactions[j] = previous
		}
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Edit rolled back", log.OpUpdate, err, log.FieldTransaction, id)
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w: %w", id, ErrPersistence, err)
	}

	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventTransactionUpdated, s.userID, id))
	return next, nil
}

// DeleteTransaction removes an entry, or with ScopeThisAndFuture the entry
// and every later entry of the same recurring series. It returns the ids
// removed.
func (s *Store) DeleteTransaction(ctx context.Context, id string, scope Scope) ([]string, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	target := s.transactions[i]

	doomed := []core.Transaction{target}
	if scope == ScopeThisAndFuture && target.RecurringGroupID != "" {
		doomed = finance.InSeries(s.transactions, target.RecurringGroupID, target.Date)
	}
	ids := idsOf(doomed)
	for _, x := range ids {
		s.removeLocked(x)
	}
	s.version++
	s.mu.Unlock()

	if err := s.repo.DeleteTransactions(ctx, s.userID, ids); err != nil {
		s.mu.Lock()
		s.transactions = append(s.transactions, doomed...)
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Delete rolled back", log.OpDelete, err,
			log.FieldTransaction, id, log.FieldCount, len(ids))
		return nil, fmt.Errorf("delete transaction %s: %w: %w", id, ErrPersistence, err)
	}

	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventTransactionDeleted, s.userID, ids...))
	return ids, nil
}

// AddCard validates and stores a card.
func (s *Store) AddCard(ctx context.Context, c core.Card) (core.Card, error) {
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}

	s.mu.Lock()
	c.ID = newTempID()
	s.cards = append(s.cards, c)
	s.version++
	s.mu.Unlock()

	stored, err := s.repo.InsertCard(ctx, s.userID, c)
	s.mu.Lock()
	k := slices.IndexFunc(s.cards, func(x core.Card) bool { return x.ID == c.ID })
	if err != nil {
		if k >= 0 {
			s.cards = slices.Delete(s.cards, k, k+1)
		}
	} else if k >= 0 {
		s.cards[k] = stored
	}
	s.version++
	s.mu.Unlock()

	if err != nil {
		s.logFailure(ctx, "Add card rolled back", log.OpCreate, err, log.FieldCard, c.ID)
		return core.Card{}, fmt.Errorf("add card: %w: %w", ErrPersistence, err)
	}
	event := amqp.NewLedgerEvent(amqp.EventCardCreated, s.userID)
	event.CardID = stored.ID
	s.publish(ctx, event)
	return stored, nil
}

// DeleteCard removes a card. Its transactions are kept and detached, so they
// count as cash entries from then on.
func (s *Store) DeleteCard(ctx context.Context, cardID string) error {
	s.mu.Lock()
	k := slices.IndexFunc(s.cards, func(c core.Card) bool { return c.ID == cardID })
	if k < 0 {
		s.mu.Unlock()
		return fmt.Errorf("card %s: %w", cardID, core.ErrNotFound)
	}
	card := s.cards[k]
	s.cards = slices.Delete(s.cards, k, k+1)
	var detached []string
	for i := range s.transactions {
		if s.transactions[i].CardID == cardID {
			s.transactions[i].CardID = ""
			detached = append(detached, s.transactions[i].ID)
		}
	}
	s.version++
	s.mu.Unlock()

	if err := s.repo.DeleteCard(ctx, s.userID, cardID); err != nil {
		s.mu.Lock()
		s.cards = append(s.cards, card)
		for _, id := range detached {
			if i := s.indexLocked(id); i >= 0 && s.transactions[i].CardID == "" {
				s.transactions[i].CardID = cardID
			}
		}
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Delete card rolled back", log.OpDelete, err, log.FieldCard, cardID)
		return fmt.Errorf("delete card %s: %w: %w", cardID, ErrPersistence, err)
	}

	s.logger.InfoContext(ctx, "Card deleted",
		log.FieldCard, cardID,
		"detached_transactions", len(detached))
	event := amqp.NewLedgerEvent(amqp.EventCardDeleted, s.userID, detached...)
	event.CardID = cardID
	s.publish(ctx, event)
	return nil
}

// RenameCategory relabels every entry of oldName. Either all entries change
// or none do.
func (s *Store) RenameCategory(ctx context.Context, oldName, newName string) (int, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)

	s.mu.Lock()
	previous := s.transactions
	renamed, n := finance.RenameCategory(previous, oldName, newName)
	if n == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	var affected []string
	for i := range renamed {
		if previous[i].Category != renamed[i].Category {
			affected = append(affected, renamed[i].ID)
		}
	}
	s.transactions = renamed
	s.version++
	s.mu.Unlock()

	if _, err := s.repo.RenameCategory(ctx, s.userID, oldName, newName); err != nil {
		s.mu.Lock()
		for _, id := range affected {
			if i := s.indexLocked(id); i >= 0 && s.transactions[i].Category == newName {
				s.transactions[i].Category = oldName
			}
		}
		s.version++
		s.mu.Unlock()
		s.logFailure(ctx, "Category rename rolled back", log.OpRename, err, log.FieldCategory, oldName)
		return 0, fmt.Errorf("rename category %q: %w: %w", oldName, ErrPersistence, err)
	}

	event := amqp.NewLedgerEvent(amqp.EventCategoryRenamed, s.userID, affected...)
	event.OldCategory, event.NewCategory = oldName, newName
	s.publish(ctx, event)
	return n, nil
}

// DeleteCategory clears a label from every entry; the entries stay.
func (s *Store) DeleteCategory(ctx context.Context, name string) (int, error) {
	return s.RenameCategory(ctx, name, "")
}

func (s *Store) checkCardLocked(cardID string) error {
	if cardID == "" {
		return nil
	}
	if !slices.ContainsFunc(s.cards, func(c core.Card) bool { return c.ID == cardID }) {
		return fmt.Errorf("card %s: %w", cardID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.transactions, func(t core.Transaction) bool { return t.ID == id })
}

func (s *Store) removeLocked(id string) {
	if i := s.indexLocked(id); i >= 0 {
		s.transactions = slices.Delete(s.transactions, i, i+1)
	}
}

func (s *Store) replaceLocked(id string, t core.Transaction) {
	if i := s.indexLocked(id); i >= 0 {
		s.transactions[i] = t
		return
	}
	// the temporary entry was deleted meanwhile; keep the stored one visible
	s.transactions = append(s.transactions, t)
}

func (s *Store) publish(ctx context.Context, event *amqp.LedgerEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, event.Type,
			log.FieldError, err)
	}
}

func (s *Store) logFailure(ctx context.Context, msg, op string, err error, args ...any) {
	fields := append([]any{
		log.FieldUserID, s.userID,
		log.FieldOperation, op,
		log.FieldErrorType, log.ErrorTypeDatabase,
		log.FieldError, err,
	}, args...)
	s.logger.ErrorContext(ctx, msg, fields...)
}

// seriesID returns the series id t should be stored with. Membership never
// changes once assigned, so an existing id wins over the incoming one. A
// recurring entry without an id gets a fresh one; other entries get none.
func seriesID(t core.Transaction, existing string) string {
	switch {
	case existing != "":
		return existing
	case !t.Recurring:
		return ""
	case t.RecurringGroupID != "":
		return t.RecurringGroupID
	default:
		return uuid.NewString()
	}
}

func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func idsOf(ts []core.Transaction) []string {
	ids := make([]string, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	return ids
}

func sameEntry(a, b core.Transaction) bool {
	return a.ID == b.ID &&
		a.Description == b.Description &&
		a.Amount.Equal(b.Amount) &&
		a.Kind == b.Kind &&
		a.Date.Equal(b.Date.Time) &&
		a.Settled == b.Settled &&
		a.Category == b.Category &&
		a.CardID == b.CardID &&
		a.Recurring == b.Recurring &&
		a.RecurringGroupID == b.RecurringGroupID
}
