package finance

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

// Forecast is the projected daily balance across one month. It is computed
// lazily from per-day deltas and can be iterated any number of times.
type Forecast struct {
	period core.Period
	start  decimal.Decimal
	deltas []decimal.Decimal // deltas[i] is day i+1
}

// Period returns the month the forecast covers.
func (f Forecast) Period() core.Period {
	return f.period
}

// Start returns the baseline balance the forecast is layered on.
func (f Forecast) Start() decimal.Decimal {
	return f.start
}

// All yields one point per day, 1..last day of the month.
func (f Forecast) All() iter.Seq[core.DailyBalancePoint] {
	return func(yield func(core.DailyBalancePoint) bool) {
		running := f.start
		for i, delta := range f.deltas {
			running = running.Add(delta)
			day := i + 1
			p := core.DailyBalancePoint{
				Day:     day,
				Label:   fmt.Sprintf("%d/%d", day, f.period.Month),
				Delta:   delta,
				Balance: running,
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Sampled yields the first and last day, every nth day, and every day with
// a nonzero delta. every <= 1 yields all days.
func (f Forecast) Sampled(every int) iter.Seq[core.DailyBalancePoint] {
	if every <= 1 {
		return f.All()
	}
	last := len(f.deltas)
	return func(yield func(core.DailyBalancePoint) bool) {
		for p := range f.All() {
			keep := p.Day == 1 || p.Day == last || p.Day%every == 0 || !p.Delta.IsZero()
			if keep && !yield(p) {
				return
			}
		}
	}
}

// Points collects every daily point.
func (f Forecast) Points() []core.DailyBalancePoint {
	return slices.Collect(f.All())
}

// End returns the balance after the final day of the month.
func (f Forecast) End() decimal.Decimal {
	end := f.start
	for _, d := range f.deltas {
		end = end.Add(d)
	}
	return end
}

// Balance returns the all-time realized cash balance: settled income minus
// settled expense, ignoring card charges whatever their state.
func Balance(ledger []core.Transaction) decimal.Decimal {
	balance := decimal.Zero
	for _, t := range ledger {
		if t.OnCard() || !t.Settled {
			continue
		}
		balance = balance.Add(t.Signed())
	}
	return balance
}

// ComputeSummary aggregates the period view into a FinancialSummary and
// projects the daily balance forecast. ledger is the full ledger (for the
// all-time balance); filtered is the output of FilterForPeriod for period.
//
// Pending cash entries move the forecast on their own day. Unsettled card
// charges move it on the card's due day, when the invoice is paid. Settled
// entries are already part of the baseline balance.
func ComputeSummary(ledger, filtered []core.Transaction, cards []core.Card, period core.Period) (core.FinancialSummary, Forecast) {
	idx := cardIndex(cards)
	summary := core.FinancialSummary{
		Period:           period,
		Balance:          Balance(ledger),
		Income:           decimal.Zero,
		Expense:          decimal.Zero,
		PendingIncome:    decimal.Zero,
		PendingExpense:   decimal.Zero,
		CardInvoiceTotal: decimal.Zero,
	}

	deltas := make([]decimal.Decimal, period.DaysIn())
	for i := range deltas {
		deltas[i] = decimal.Zero
	}
	addDelta := func(day int, amount decimal.Decimal) {
		deltas[day-1] = deltas[day-1].Add(amount)
	}

	for _, t := range filtered {
		if t.OnCard() {
			card, ok := idx[t.CardID]
			if !ok {
				slog.Warn("Card transaction without card skipped in summary",
					"transaction_id", t.ID,
					"card_id", t.CardID,
					"period", period.String())
				continue
			}
			if t.Settled {
				continue
			}
			summary.CardInvoiceTotal = summary.CardInvoiceTotal.Sub(t.Signed())
			addDelta(period.ClampDay(card.DueDay), t.Signed())
			continue
		}

		switch {
		case t.Settled && t.Kind == core.Income:
			summary.Income = summary.Income.Add(t.Amount)
		case t.Settled:
			summary.Expense = summary.Expense.Add(t.Amount)
		case t.Kind == core.Income:
			summary.PendingIncome = summary.PendingIncome.Add(t.Amount)
			addDelta(dayInPeriod(t.Date, period), t.Signed())
		default:
			summary.PendingExpense = summary.PendingExpense.Add(t.Amount)
			addDelta(dayInPeriod(t.Date, period), t.Signed())
		}
	}

	forecast := Forecast{period: period, start: summary.Balance, deltas: deltas}
	summary.Forecast = forecast.End()
	return summary, forecast
}

// dayInPeriod maps a date to its day within period. Dates outside the period
// are charted on day 1.
func dayInPeriod(d core.Date, period core.Period) int {
	if !period.Contains(d) {
		return 1
	}
	return d.Day()
}

// CardUsage describes how much of a card's limit the period's invoice uses.
type CardUsage struct {
	Card         core.Card
	InvoiceTotal decimal.Decimal
	Available    decimal.Decimal
}

// UsageForCard sums the unsettled charges of card within a period view.
func UsageForCard(filtered []core.Transaction, card core.Card) CardUsage {
	total := decimal.Zero
	for _, t := range filtered {
		if t.CardID != card.ID || t.Settled {
			continue
		}
		total = total.Sub(t.Signed())
	}
	return CardUsage{
		Card:         card,
		InvoiceTotal: total,
		Available:    card.CreditLimit.Sub(total),
	}
}
