package finance

import (
	"strings"

	"fincontrol/internal/core"
)

// RecurringPlan is the outcome of planning one month of recurring entries.
type RecurringPlan struct {
	Target core.Period

	// Occurrences are new, unsettled entries for Target. Their ID is empty;
	// the store assigns one when they are added.
	Occurrences []core.Transaction

	// Backfill holds source entries that had no series id, with the id that
	// was generated for them. Persisting it keeps later runs on the exact
	// group-id match instead of the description fallback.
	Backfill []core.Transaction
}

// Empty reports whether the plan has nothing to write.
func (p RecurringPlan) Empty() bool {
	return len(p.Occurrences) == 0 && len(p.Backfill) == 0
}

// PlanRecurring projects the recurring entries of the month before target
// into target. Each source keeps its day of month, clamped to target's last
// day. A source is skipped when target already holds an entry of the same
// series; sources without a series id fall back to matching description,
// amount and kind. newID generates series ids.
//
// Planning is deterministic for a given ledger, so running it again after
// the occurrences were stored yields an empty plan.
func PlanRecurring(ledger []core.Transaction, target core.Period, newID func() string) RecurringPlan {
	plan := RecurringPlan{Target: target}
	source := target.Prev()

	groups := map[string]bool{}
	legacy := map[string]bool{}
	for _, t := range ledger {
		if !target.Contains(t.Date) {
			continue
		}
		if t.RecurringGroupID != "" {
			groups[t.RecurringGroupID] = true
		}
		legacy[legacyKey(t)] = true
	}

	for _, t := range ledger {
		if !t.Recurring || !source.Contains(t.Date) {
			continue
		}

		groupID := t.RecurringGroupID
		if groupID != "" {
			if groups[groupID] {
				continue
			}
		} else {
			if legacy[legacyKey(t)] {
				continue
			}
			groupID = newID()
			backfilled := t
			backfilled.RecurringGroupID = groupID
			plan.Backfill = append(plan.Backfill, backfilled)
		}

		occ := core.Transaction{
			Description:      t.Description,
			Amount:           t.Amount,
			Kind:             t.Kind,
			Date:             target.Date(t.Date.Day()),
			Settled:          false,
			Category:         t.Category,
			CardID:           t.CardID,
			Recurring:        t.Recurring,
			RecurringGroupID: groupID,
		}
		plan.Occurrences = append(plan.Occurrences, occ)

		groups[groupID] = true
		legacy[legacyKey(occ)] = true
	}

	return plan
}

// legacyKey identifies an entry by description, amount and kind. It is an
// approximation: two unrelated entries with identical values collide.
func legacyKey(t core.Transaction) string {
	return t.Description + "\x00" + t.Amount.String() + "\x00" + string(t.Kind)
}

// InSeries returns the entries of a recurring series dated on or after from.
func InSeries(ledger []core.Transaction, groupID string, from core.Date) []core.Transaction {
	if groupID == "" {
		return nil
	}
	var out []core.Transaction
	for _, t := range ledger {
		if t.RecurringGroupID == groupID && !t.Date.Before(from.Time) {
			out = append(out, t)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
