package http

import (
	"net/http"

	"fincontrol/internal/finance"
	"fincontrol/internal/storage/record"
)

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	OK(toRecords(s.store.Snapshot().Cards, record.FromCard)).Write(w)
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := s.store.AddCard(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	Created(record.FromCard(stored)).Write(w)
}

// handleDeleteCard removes a card; its entries stay as cash entries.
func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCard(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories := finance.Categories(s.store.Snapshot().Transactions)
	if categories == nil {
		categories = []string{}
	}
	OK(categories).Write(w)
}

type suggestResponse struct {
	Category string `json:"category"`
	Found    bool   `json:"found"`
}

// handleSuggestCategory proposes the category most often used with a
// description.
func (s *Server) handleSuggestCategory(w http.ResponseWriter, r *http.Request) {
	description := sanitizeInput(r.URL.Query().Get("description"))
	if description == "" {
		BadRequestError("description is required").Write(w)
		return
	}
	category, found := finance.MostFrequentCategory(s.store.Snapshot().Transactions, description)
	OK(suggestResponse{Category: category, Found: found}).Write(w)
}

type changedResponse struct {
	Changed int `json:"changed"`
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	oldName, newName := sanitizeInput(req.OldName), sanitizeInput(req.NewName)
	if oldName == "" || newName == "" {
		UnprocessableEntityError("old_name and new_name are required").Write(w)
		return
	}
	n, err := s.store.RenameCategory(r.Context(), oldName, newName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(changedResponse{Changed: n}).Write(w)
}

// handleDeleteCategory clears a label from every entry.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteCategory(r.Context(), sanitizeInput(r.PathValue("name")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	OK(changedResponse{Changed: n}).Write(w)
}
