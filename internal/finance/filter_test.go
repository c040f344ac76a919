package finance

import (
	"testing"

	"fincontrol/internal/core"
)

func TestFilterForPeriod(t *testing.T) {
	cards := []core.Card{{ID: "C1", Name: "Visa", CreditLimit: amt("1000"), ClosingDay: 10, DueDay: 20}}
	ledger := []core.Transaction{
		cash("cash-mar", "Groceries", "50", core.Expense, core.NewDate(2024, 3, 31), true),
		cash("cash-apr", "Salary", "3000", core.Income, core.NewDate(2024, 4, 1), false),
		onCard(cash("card-mar-5", "Books", "20", core.Expense, core.NewDate(2024, 3, 5), false), "C1"),
		onCard(cash("card-mar-12", "Shoes", "80", core.Expense, core.NewDate(2024, 3, 12), false), "C1"),
		onCard(cash("card-feb-20", "Dinner", "40", core.Expense, core.NewDate(2024, 2, 20), false), "C1"),
		onCard(cash("orphan", "Ghost", "10", core.Expense, core.NewDate(2024, 3, 1), false), "GONE"),
	}

	tests := []struct {
		name   string
		period core.Period
		want   []string
	}{
		{
			name:   "march",
			period: core.Period{Year: 2024, Month: 3},
			want:   []string{"cash-mar", "card-mar-5", "card-feb-20"},
		},
		{
			name:   "april",
			period: core.Period{Year: 2024, Month: 4},
			want:   []string{"cash-apr", "card-mar-12"},
		},
		{
			name:   "february",
			period: core.Period{Year: 2024, Month: 2},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(FilterForPeriod(ledger, cards, tt.period))
			if len(got) != len(tt.want) {
				t.Fatalf("FilterForPeriod() = %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("expected %s in %s view, got %v", id, tt.period, got)
				}
			}
			if got["orphan"] {
				t.Errorf("orphaned card transaction must be excluded")
			}
		})
	}
}

func TestFilterForPeriod_CashIgnoresClosingDay(t *testing.T) {
	// A cash entry after every card's closing day still belongs to its own month.
	cards := []core.Card{{ID: "C1", ClosingDay: 1, DueDay: 5}}
	ledger := []core.Transaction{cash("t", "Rent", "1", core.Expense, core.NewDate(2024, 5, 28), false)}

	if got := FilterForPeriod(ledger, cards, core.Period{Year: 2024, Month: 5}); len(got) != 1 {
		t.Fatalf("cash entry missing from own month: %v", got)
	}
	if got := FilterForPeriod(ledger, cards, core.Period{Year: 2024, Month: 6}); len(got) != 0 {
		t.Fatalf("cash entry leaked into next month: %v", got)
	}
}

func TestSortByDateDescAndRecentSample(t *testing.T) {
	ledger := []core.Transaction{
		cash("a", "a", "1", core.Expense, core.NewDate(2024, 1, 1), true),
		cash("b", "b", "1", core.Expense, core.NewDate(2024, 3, 1), true),
		cash("c", "c", "1", core.Expense, core.NewDate(2024, 2, 1), true),
	}

	sample := RecentSample(ledger, 2)
	if len(sample) != 2 || sample[0].ID != "b" || sample[1].ID != "c" {
		t.Fatalf("RecentSample() = %v", sample)
	}
	if ledger[0].ID != "a" {
		t.Fatalf("RecentSample must not reorder its input")
	}
	if got := RecentSample(ledger, 50); len(got) != 3 {
		t.Fatalf("expected whole ledger when n exceeds it, got %d", len(got))
	}
}

func TestMostFrequentCategory(t *testing.T) {
	ledger := []core.Transaction{
		{Description: "Coffee", Category: "Food"},
		{Description: "coffee ", Category: "Leisure"},
		{Description: "COFFEE", Category: "Leisure"},
		{Description: "Coffee", Category: ""},
		{Description: "Fuel", Category: "Car"},
	}

	got, ok := MostFrequentCategory(ledger, "Coffee")
	if !ok || got != "Leisure" {
		t.Fatalf("MostFrequentCategory() = %q, %v", got, ok)
	}
	if _, ok := MostFrequentCategory(ledger, "Tea"); ok {
		t.Fatalf("expected no suggestion for unknown description")
	}
	if _, ok := MostFrequentCategory(ledger, ""); ok {
		t.Fatalf("expected no suggestion for empty description")
	}
}
