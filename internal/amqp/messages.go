package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names a ledger change.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventOccurrencesSynced  EventType = "occurrences.synced"
	EventCardCreated        EventType = "card.created"
	EventCardDeleted        EventType = "card.deleted"
	EventCategoryRenamed    EventType = "category.renamed"
)

var ErrInvalidEvent = errors.New("invalid ledger event")

// LedgerEvent is a lightweight notification of a confirmed ledger change.
// It carries ids only; consumers read the current state from the repository.
type LedgerEvent struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"user_id"`
	TransactionIDs []string  `json:"transaction_ids,omitempty"`
	CardID         string    `json:"card_id,omitempty"`
	OldCategory    string    `json:"old_category,omitempty"`
	NewCategory    string    `json:"new_category,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event stamped with the current time.
func NewLedgerEvent(eventType EventType, userID string, transactionIDs ...string) *LedgerEvent {
	return &LedgerEvent{
		Type:           eventType,
		UserID:         userID,
		TransactionIDs: transactionIDs,
		Timestamp:      time.Now().UTC(),
	}
}

// Validate checks that the event names something a consumer can act on.
func (e *LedgerEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	switch e.Type {
	case EventTransactionCreated, EventTransactionUpdated, EventTransactionDeleted, EventOccurrencesSynced:
		if len(e.TransactionIDs) == 0 {
			return fmt.Errorf("%w: %s without transaction ids", ErrInvalidEvent, e.Type)
		}
	case EventCardCreated, EventCardDeleted:
		if e.CardID == "" {
			return fmt.Errorf("%w: %s without card id", ErrInvalidEvent, e.Type)
		}
	case EventCategoryRenamed:
		if e.OldCategory == "" {
			return fmt.Errorf("%w: %s without old category", ErrInvalidEvent, e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and validates an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
