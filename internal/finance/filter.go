// Package finance holds the pure period, forecast and recurrence logic that
// runs over a ledger snapshot. Nothing here performs I/O; callers pass in the
// transactions, cards and period explicitly.
package finance

import (
	"cmp"
	"log/slog"
	"slices"

	"fincontrol/internal/core"
)

// cardIndex maps card ids to cards.
func cardIndex(cards []core.Card) map[string]core.Card {
	idx := make(map[string]core.Card, len(cards))
	for _, c := range cards {
		idx[c.ID] = c
	}
	return idx
}

// FilterForPeriod returns the transactions active in period. Cash entries are
// scoped by their own date; card entries by the invoice their purchase date
// resolves to. Card entries whose card cannot be found are left out.
func FilterForPeriod(ledger []core.Transaction, cards []core.Card, period core.Period) []core.Transaction {
	idx := cardIndex(cards)
	out := make([]core.Transaction, 0, len(ledger))
	orphans := 0

	for _, t := range ledger {
		if !t.OnCard() {
			if period.Contains(t.Date) {
				out = append(out, t)
			}
			continue
		}

		card, ok := idx[t.CardID]
		if !ok {
			orphans++
			slog.Warn("Transaction references unknown card, excluded from period view",
				"transaction_id", t.ID,
				"card_id", t.CardID,
				"period", period.String())
			continue
		}
		if core.ResolveInvoicePeriod(t.Date, card.ClosingDay) == period {
			out = append(out, t)
		}
	}

	if orphans > 0 {
		slog.Warn("Period filter skipped orphaned card transactions",
			"period", period.String(),
			"orphans", orphans)
	}
	return out
}

// SortByDateDesc orders transactions newest first; ties keep ledger order.
func SortByDateDesc(ts []core.Transaction) {
	slices.SortStableFunc(ts, func(a, b core.Transaction) int {
		return b.Date.Compare(a.Date.Time)
	})
}

// RecentSample returns up to n transactions, newest first. The ledger is not
// modified.
func RecentSample(ledger []core.Transaction, n int) []core.Transaction {
	out := slices.Clone(ledger)
	SortByDateDesc(out)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// MostFrequentCategory suggests a category for a description, using the most
// common non-empty category among entries with the same description
// (case-insensitive). Ties go to the category seen first.
func MostFrequentCategory(ledger []core.Transaction, description string) (string, bool) {
	key := normalize(description)
	if key == "" {
		return "", false
	}

	counts := map[string]int{}
	var order []string
	for _, t := range ledger {
		if t.Category == "" || normalize(t.Description) != key {
			continue
		}
		if _, seen := counts[t.Category]; !seen {
			order = append(order, t.Category)
		}
		counts[t.Category]++
	}
	if len(order) == 0 {
		return "", false
	}

	best := order[0]
	for _, c := range order[1:] {
		if cmp.Compare(counts[c], counts[best]) > 0 {
			best = c
		}
	}
	return best, true
}
