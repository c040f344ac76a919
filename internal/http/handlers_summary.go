package http

import (
	"net/http"

	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/log"
	"fincontrol/internal/storage/record"
)

// defaultSampleEvery keeps the forecast chart readable on a phone screen.
const defaultSampleEvery = 5

type pointResponse struct {
	Day     int    `json:"day"`
	Label   string `json:"label"`
	Delta   string `json:"delta"`
	Balance string `json:"balance"`
}

type cardUsageResponse struct {
	Card         record.Card `json:"card"`
	InvoiceTotal string      `json:"invoice_total"`
	Available    string      `json:"available"`
}

type summaryResponse struct {
	Period           string              `json:"period"`
	Balance          string              `json:"balance"`
	Income           string              `json:"income"`
	Expense          string              `json:"expense"`
	PendingIncome    string              `json:"pending_income"`
	PendingExpense   string              `json:"pending_expense"`
	CardInvoiceTotal string              `json:"card_invoice_total"`
	Forecast         string              `json:"forecast"`
	Points           []pointResponse     `json:"points"`
	Cards            []cardUsageResponse `json:"cards"`
}

// handleSummary serves the period summary, the sampled daily forecast and
// the invoice usage of every card.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	period, err := ParsePeriodParams(query, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	every, err := parseIntParam(query, "every", defaultSampleEvery)
	if err != nil {
		writeError(w, r, err)
		return
	}

	snap := s.store.Snapshot()
	entry, cached := s.summaries.Get(snap, period)
	log.FromContext(r.Context()).DebugContext(r.Context(), "Summary computed",
		log.FieldPeriod, period.String(),
		log.FieldVersion, snap.Version,
		"cached", cached)

	sum := entry.Summary
	resp := summaryResponse{
		Period:           period.String(),
		Balance:          core.FormatAmount(sum.Balance),
		Income:           core.FormatAmount(sum.Income),
		Expense:          core.FormatAmount(sum.Expense),
		PendingIncome:    core.FormatAmount(sum.PendingIncome),
		PendingExpense:   core.FormatAmount(sum.PendingExpense),
		CardInvoiceTotal: core.FormatAmount(sum.CardInvoiceTotal),
		Forecast:         core.FormatAmount(sum.Forecast),
		Points:           []pointResponse{},
		Cards:            []cardUsageResponse{},
	}
	for p := range entry.Forecast.Sampled(every) {
		resp.Points = append(resp.Points, pointResponse{
			Day:     p.Day,
			Label:   p.Label,
			Delta:   core.FormatAmount(p.Delta),
			Balance: core.FormatAmount(p.Balance),
		})
	}

	filtered := finance.FilterForPeriod(snap.Transactions, snap.Cards, period)
	for _, card := range snap.Cards {
		usage := finance.UsageForCard(filtered, card)
		resp.Cards = append(resp.Cards, cardUsageResponse{
			Card:         record.FromCard(card),
			InvoiceTotal: core.FormatAmount(usage.InvoiceTotal),
			Available:    core.FormatAmount(usage.Available),
		})
	}

	OK(resp).Write(w)
}

type syncResponse struct {
	Period     string `json:"period"`
	Created    int    `json:"created"`
	Backfilled int    `json:"backfilled"`
	Failed     int    `json:"failed"`
}

// handleRecurringSync creates the missing recurring occurrences of a month.
func (s *Server) handleRecurringSync(w http.ResponseWriter, r *http.Request) {
	if s.recurring == nil {
		ErrorResponse(http.StatusServiceUnavailable, "recurring sync is not configured").Write(w)
		return
	}
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.recurring.Sync(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(syncResponse{
		Period:     period.String(),
		Created:    res.Created,
		Backfilled: res.Backfilled,
		Failed:     res.Failed,
	}).Write(w)
}

type adviceResponse struct {
	Advice string `json:"advice"`
}

// handleAdvice asks the configured advisor about the whole ledger.
func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	if s.advisor == nil {
		ErrorResponse(http.StatusServiceUnavailable, "advice is not configured").Write(w)
		return
	}
	snap := s.store.Snapshot()
	text, err := s.advisor.Advise(r.Context(), snap.Transactions, finance.Balance(snap.Transactions))
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(adviceResponse{Advice: text}).Write(w)
}
