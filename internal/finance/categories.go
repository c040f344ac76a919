package finance

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

// RenameCategory returns a copy of ledger with every entry labelled oldName
// relabelled newName, and the number of entries changed. An empty oldName
// matches nothing.
func RenameCategory(ledger []core.Transaction, oldName, newName string) ([]core.Transaction, int) {
	out := slices.Clone(ledger)
	if oldName == "" || oldName == newName {
		return out, 0
	}
	n := 0
	for i := range out {
		if out[i].Category == oldName {
			out[i].Category = newName
			n++
		}
	}
	return out, n
}

// DeleteCategory clears the label name from every entry. Entries are kept.
func DeleteCategory(ledger []core.Transaction, name string) ([]core.Transaction, int) {
	return RenameCategory(ledger, name, "")
}

// Categories lists the distinct non-empty category labels in ledger order.
func Categories(ledger []core.Transaction) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range ledger {
		if t.Category == "" || seen[t.Category] {
			continue
		}
		seen[t.Category] = true
		out = append(out, t.Category)
	}
	return out
}

var ErrInstallmentCount = errors.New("installment count must be at least 1")

// SplitInstallments spreads an expense over n consecutive months. The amount
// is divided into cents; any remainder goes to the first installment. Each
// entry is unsettled, not recurring, and described as "<desc> (i/n)".
func SplitInstallments(t core.Transaction, n int) ([]core.Transaction, error) {
	if n < 1 {
		return nil, ErrInstallmentCount
	}
	if t.Kind != core.Expense {
		return nil, fmt.Errorf("installments apply to expenses, got %q: %w", t.Kind, core.ErrInvalidKind)
	}
	if n == 1 {
		return []core.Transaction{t}, nil
	}

	count := decimal.NewFromInt(int64(n))
	per := t.Amount.Div(count).Truncate(2)
	first := t.Amount.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))

	start := t.Date.Period()
	day := t.Date.Day()
	out := make([]core.Transaction, 0, n)
	for i := 0; i < n; i++ {
		inst := t
		inst.ID = ""
		inst.Description = fmt.Sprintf("%s (%d/%d)", t.Description, i+1, n)
		inst.Amount = per
		if i == 0 {
			inst.Amount = first
		}
		inst.Date = core.NewPeriod(start.Year, start.Month+i).Date(day)
		inst.Settled = false
		inst.Recurring = false
		inst.RecurringGroupID = ""
		out = append(out, inst)
	}
	return out, nil
}
