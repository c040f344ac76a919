// Package services orchestrates multi-step ledger operations on top of the
// ledger store.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/ledger"
	"fincontrol/internal/log"
)

// LedgerStore is the part of ledger.Store the synchronizer needs.
type LedgerStore interface {
	Snapshot() ledger.Snapshot
	AppendOccurrences(ctx context.Context, occurrences []core.Transaction) ([]core.Transaction, error)
	SetRecurringGroup(ctx context.Context, id, groupID string) (core.Transaction, error)
}

// SyncResult summarizes one synchronization run.
type SyncResult struct {
	Target     core.Period
	Created    int
	Backfilled int
	Failed     int
}

// RecurringSynchronizer projects last month's recurring entries into the
// target month. Runs for the same month never overlap: a call made while one
// is in flight waits for it and shares its result.
type RecurringSynchronizer struct {
	store  LedgerStore
	logger *log.Logger
	newID  func() string
	flight singleflight.Group

	mu         sync.Mutex
	lastSynced core.Period
}

func NewRecurringSynchronizer(store LedgerStore, logger *log.Logger) *RecurringSynchronizer {
	if logger == nil {
		logger = log.Default(log.ComponentRecurring)
	}
	return &RecurringSynchronizer{
		store:  store,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Sync creates the missing occurrences for target. Running it again for the
// same month creates nothing.
func (s *RecurringSynchronizer) Sync(ctx context.Context, target core.Period) (SyncResult, error) {
	if s.store == nil {
		return SyncResult{}, errors.New("synchronizer not properly initialized")
	}
	if err := target.Validate(); err != nil {
		return SyncResult{}, err
	}

	v, err, shared := s.flight.Do(target.String(), func() (any, error) {
		return s.sync(ctx, target)
	})
	if shared {
		s.logger.DebugContext(ctx, "Joined in-flight recurring sync", log.FieldPeriod, target.String())
	}
	res, _ := v.(SyncResult)
	return res, err
}

func (s *RecurringSynchronizer) sync(ctx context.Context, target core.Period) (SyncResult, error) {
	snap := s.store.Snapshot()
	plan := finance.PlanRecurring(snap.Transactions, target, s.newID)
	res := SyncResult{Target: target}

	s.logger.InfoContext(ctx, "Processing recurring entries",
		log.FieldPeriod, target.String(),
		"source_period", target.Prev().String(),
		"planned", len(plan.Occurrences),
		"backfill", len(plan.Backfill))

	if plan.Empty() {
		return res, nil
	}

	var errs []error
	stored, err := s.store.AppendOccurrences(ctx, plan.Occurrences)
	res.Created = len(stored)
	res.Failed = len(plan.Occurrences) - len(stored)
	if err != nil {
		s.logger.ErrorContext(ctx, "Some recurring occurrences were not stored",
			log.FieldPeriod, target.String(),
			"failed", res.Failed,
			log.FieldError, err)
		errs = append(errs, err)
	}

	for _, src := range plan.Backfill {
		if _, err := s.store.SetRecurringGroup(ctx, src.ID, src.RecurringGroupID); err != nil {
			// the next run falls back to the description match for this source
			s.logger.WarnContext(ctx, "Failed to backfill series id",
				log.FieldTransaction, src.ID,
				log.FieldGroup, src.RecurringGroupID,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("backfill %s: %w", src.ID, err))
			continue
		}
		res.Backfilled++
	}

	s.logger.InfoContext(ctx, "Recurring sync complete",
		log.FieldPeriod, target.String(),
		"created", res.Created,
		"backfilled", res.Backfilled,
		"failed", res.Failed)
	return res, errors.Join(errs...)
}

// SyncIfMonthChanged syncs the month containing now unless that month was
// already synced successfully. It reports whether a sync ran.
func (s *RecurringSynchronizer) SyncIfMonthChanged(ctx context.Context, now time.Time) (SyncResult, bool, error) {
	current := core.PeriodOf(now)

	s.mu.Lock()
	done := s.lastSynced == current
	s.mu.Unlock()
	if done {
		return SyncResult{Target: current}, false, nil
	}

	res, err := s.Sync(ctx, current)
	if err != nil {
		return res, true, err
	}

	s.mu.Lock()
	s.lastSynced = current
	s.mu.Unlock()
	return res, true, nil
}
