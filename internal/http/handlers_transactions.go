package http

import (
	"net/http"

	"fincontrol/internal/finance"
	"fincontrol/internal/ledger"
	"fincontrol/internal/log"
	"fincontrol/internal/storage/record"
)

func toRecords[T any, R any](items []T, conv func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

// handleListTransactions lists the period view, newest first.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap := s.store.Snapshot()
	filtered := finance.FilterForPeriod(snap.Transactions, snap.Cards, period)
	finance.SortByDateDesc(filtered)
	OK(toRecords(filtered, record.FromTransaction)).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := s.store.AddTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
		log.FieldTransaction, stored.ID,
		log.FieldKind, string(stored.Kind),
		log.FieldAmount, stored.Amount.String())
	Created(record.FromTransaction(stored)).Write(w)
}

// handleEditTransaction replaces the entry named in the path. An id in the
// body is ignored.
func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ID = r.PathValue("id")
	t, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := s.store.EditTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(record.FromTransaction(stored)).Write(w)
}

func (s *Server) handleToggleSettled(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.ToggleSettled(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(record.FromTransaction(stored)).Write(w)
}

type deleteResponse struct {
	Deleted []string `json:"deleted"`
}

// handleDeleteTransaction removes one entry, or with scope=future the entry
// and the rest of its recurring series.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	scope, err := ledger.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ids, err := s.store.DeleteTransaction(r.Context(), r.PathValue("id"), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(deleteResponse{Deleted: ids}).Write(w)
}

// handleCreateInstallments splits an expense into monthly entries.
func (s *Server) handleCreateInstallments(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := s.store.AddInstallments(r.Context(), t, req.Installments)
	if err != nil && len(stored) == 0 {
		writeError(w, r, err)
		return
	}
	if err != nil {
		// Partially stored: report what was kept alongside the failure.
		log.FromContext(r.Context()).WarnContext(r.Context(), "Installments partially stored",
			log.FieldCount, len(stored),
			log.FieldError, err)
		NewJSONResponse().Status(http.StatusMultiStatus).
			Body(toRecords(stored, record.FromTransaction)).
			Write(w)
		return
	}
	Created(toRecords(stored, record.FromTransaction)).Write(w)
}
