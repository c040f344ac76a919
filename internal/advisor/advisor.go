// Package advisor asks a language model for short financial advice based on
// the most recent ledger entries.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/log"
	"fincontrol/internal/storage/record"
)

// DefaultSampleSize caps how many transactions are sent to the model.
const DefaultSampleSize = 50

var (
	ErrNoGenerator = errors.New("advice generator not configured")
	ErrEmptyAdvice = errors.New("empty response from model")
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Advisor struct {
	gen        Generator
	sampleSize int
	language   string
	logger     *log.Logger
}

type Option func(*Advisor)

// WithSampleSize sets the number of recent transactions in the prompt.
// Values outside 1..DefaultSampleSize are clamped.
func WithSampleSize(n int) Option {
	return func(a *Advisor) { a.sampleSize = max(1, min(n, DefaultSampleSize)) }
}

// WithLanguage sets the language the advice is written in.
func WithLanguage(lang string) Option {
	return func(a *Advisor) { a.language = lang }
}

func WithLogger(l *log.Logger) Option {
	return func(a *Advisor) { a.logger = l }
}

func New(gen Generator, opts ...Option) *Advisor {
	a := &Advisor{
		gen:        gen,
		sampleSize: DefaultSampleSize,
		language:   "Brazilian Portuguese",
		logger:     log.Default(log.ComponentAdvisor),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advise sends the balance and the most recent entries of the ledger to the
// generator and returns its answer.
func (a *Advisor) Advise(ctx context.Context, ledger []core.Transaction, balance decimal.Decimal) (string, error) {
	if a == nil || a.gen == nil {
		return "", ErrNoGenerator
	}
	sample := finance.RecentSample(ledger, a.sampleSize)
	prompt, err := BuildPrompt(sample, balance, a.language)
	if err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "Requesting advice", log.FieldCount, len(sample))
	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate advice: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyAdvice
	}
	return text, nil
}

// BuildPrompt renders the instructions, the balance and the sample as JSON
// in storage record format.
func BuildPrompt(sample []core.Transaction, balance decimal.Decimal, language string) (string, error) {
	data, err := record.EncodeTransactions(sample)
	if err != nil {
		return "", fmt.Errorf("encode sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("Act as an experienced personal financial advisor. ")
	b.WriteString("Analyse the following financial data and give 3 concise, actionable insights ")
	b.WriteString("to improve financial health. Focus on spending habits, saving potential and recurring expenses. ")
	b.WriteString("Keep a professional but encouraging tone.")
	if language != "" {
		fmt.Fprintf(&b, " Answer strictly in %s.", language)
	}
	fmt.Fprintf(&b, "\n\nCurrent balance: %s\n", core.FormatAmount(balance))
	b.WriteString("Recent transactions:\n")
	b.Write(data)
	b.WriteString("\n")
	return b.String(), nil
}
