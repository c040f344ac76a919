package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
)

type fakeGenerator struct {
	prompt string
	reply  string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

func entries(n int) []core.Transaction {
	out := make([]core.Transaction, n)
	for i := range out {
		out[i] = core.Transaction{
			ID:          fmt.Sprintf("t%03d", i),
			Description: fmt.Sprintf("entry %d", i),
			Amount:      decimal.NewFromInt(int64(i + 1)),
			Kind:        core.Expense,
			Date:        core.NewDate(2024, 1+i/28%12, 1+i%28),
		}
	}
	return out
}

func TestAdvise(t *testing.T) {
	gen := &fakeGenerator{reply: "  Spend less on coffee.  "}
	a := New(gen)

	got, err := a.Advise(context.Background(), entries(3), decimal.RequireFromString("1500"))
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if got != "Spend less on coffee." {
		t.Errorf("Advise() = %q, want trimmed reply", got)
	}
	for _, want := range []string{"Current balance: 1500.00", `"id": "t002"`, "Brazilian Portuguese"} {
		if !strings.Contains(gen.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, gen.prompt)
		}
	}
}

func TestAdvise_SampleCap(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		entries  int
		wantSent int
	}{
		{"default cap", nil, 80, 50},
		{"fewer than cap", nil, 10, 10},
		{"smaller sample", []Option{WithSampleSize(5)}, 80, 5},
		{"sample above cap clamped", []Option{WithSampleSize(500)}, 80, 50},
		{"zero sample clamped", []Option{WithSampleSize(0)}, 80, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{reply: "ok"}
			a := New(gen, tt.opts...)
			if _, err := a.Advise(context.Background(), entries(tt.entries), decimal.Zero); err != nil {
				t.Fatalf("Advise() error = %v", err)
			}
			if got := strings.Count(gen.prompt, `"id":`); got != tt.wantSent {
				t.Errorf("prompt holds %d transactions, want %d", got, tt.wantSent)
			}
		})
	}
}

func TestAdvise_NewestFirst(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	ledger := []core.Transaction{
		{ID: "old", Description: "a", Kind: core.Expense, Amount: decimal.NewFromInt(1), Date: core.NewDate(2023, 5, 1)},
		{ID: "new", Description: "b", Kind: core.Expense, Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 5, 1)},
	}
	if _, err := New(gen, WithSampleSize(1)).Advise(context.Background(), ledger, decimal.Zero); err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if !strings.Contains(gen.prompt, `"new"`) || strings.Contains(gen.prompt, `"old"`) {
		t.Errorf("prompt should hold only the newest entry:\n%s", gen.prompt)
	}
}

func TestAdvise_Errors(t *testing.T) {
	modelErr := errors.New("quota")

	tests := []struct {
		name    string
		advisor *Advisor
		wantErr error
	}{
		{"no generator", New(nil), ErrNoGenerator},
		{"generator failure", New(&fakeGenerator{err: modelErr}), modelErr},
		{"blank reply", New(&fakeGenerator{reply: " \n"}), ErrEmptyAdvice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.advisor.Advise(context.Background(), entries(2), decimal.Zero)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Advise() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildPrompt_NoLanguage(t *testing.T) {
	prompt, err := BuildPrompt(nil, decimal.RequireFromString("-3.5"), "")
	if err != nil {
		t.Fatalf("BuildPrompt() error = %v", err)
	}
	if strings.Contains(prompt, "Answer strictly") {
		t.Errorf("prompt should not force a language:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Current balance: -3.50") {
		t.Errorf("prompt missing balance:\n%s", prompt)
	}
}

func TestNewGeminiGenerator_MissingKey(t *testing.T) {
	if _, err := NewGeminiGenerator(context.Background(), "", ""); err == nil {
		t.Error("NewGeminiGenerator() expected error without API key")
	}
}
