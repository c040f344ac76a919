package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
	"fincontrol/internal/ledger"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSummaryCache(t *testing.T) {
	c := NewSummaryCache(8, time.Minute)
	period := core.Period{Year: 2024, Month: 3}
	snap := ledger.Snapshot{
		UserID:  "u",
		Version: 1,
		Transactions: []core.Transaction{{
			ID: "a", Description: "Salary", Amount: decimal.NewFromInt(100),
			Kind: core.Income, Date: core.NewDate(2024, 3, 1), Settled: true,
		}},
	}

	first, cached := c.Get(snap, period)
	if cached || first.Summary.Balance.String() != "100" {
		t.Fatalf("first Get() = %+v, cached=%v", first.Summary, cached)
	}
	if _, cached := c.Get(snap, period); !cached {
		t.Error("second Get() for the same version should hit")
	}

	snap.Version = 2
	snap.Transactions = append(snap.Transactions, core.Transaction{
		ID: "b", Description: "Rent", Amount: decimal.NewFromInt(40),
		Kind: core.Expense, Date: core.NewDate(2024, 3, 2), Settled: true,
	})
	next, cached := c.Get(snap, period)
	if cached || next.Summary.Balance.String() != "60" {
		t.Errorf("Get() after change = %+v, cached=%v", next.Summary, cached)
	}
}

func TestSummaryKey(t *testing.T) {
	if got := SummaryKey("u", core.Period{Year: 2024, Month: 2}, 7); got != "u/2024-02@7" {
		t.Errorf("SummaryKey() = %q", got)
	}
}
