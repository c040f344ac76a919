package core

import "github.com/shopspring/decimal"

// FinancialSummary is derived from a ledger snapshot for one period.
// Balance is all-time; the other figures are scoped to the period.
type FinancialSummary struct {
	Period           Period
	Balance          decimal.Decimal
	Income           decimal.Decimal
	Expense          decimal.Decimal
	PendingIncome    decimal.Decimal
	PendingExpense   decimal.Decimal
	CardInvoiceTotal decimal.Decimal
	Forecast         decimal.Decimal
}

// DailyBalancePoint is the projected balance at the end of a day.
type DailyBalancePoint struct {
	Day     int
	Label   string // D/M
	Delta   decimal.Decimal
	Balance decimal.Decimal
}
