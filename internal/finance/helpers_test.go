package finance

import (
	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cash(id, desc, amount string, kind core.Kind, date core.Date, settled bool) core.Transaction {
	return core.Transaction{
		ID:          id,
		Description: desc,
		Amount:      amt(amount),
		Kind:        kind,
		Date:        date,
		Settled:     settled,
	}
}

func onCard(t core.Transaction, cardID string) core.Transaction {
	t.CardID = cardID
	return t
}

func ids(ts []core.Transaction) map[string]bool {
	out := map[string]bool{}
	for _, t := range ts {
		out[t.ID] = true
	}
	return out
}
