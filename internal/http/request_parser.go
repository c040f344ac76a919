// Package http serves the ledger as a JSON API.
//
// This file implements utilities for parsing and validating HTTP request data.
// Handlers share them for period extraction, JSON bodies and input
// sanitization.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fincontrol/internal/core"
	"fincontrol/internal/storage/record"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errBadRequest marks input that could not be read at all.
var errBadRequest = errors.New("bad request")

// ParsePeriodParams extracts year and month from query parameters. Missing
// values default to the month containing now. Non-numeric values are
// rejected, and so is a month outside 1-12.
func ParsePeriodParams(query url.Values, now time.Time) (core.Period, error) {
	period := core.PeriodOf(now)

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return core.Period{}, fmt.Errorf("year %q: %w", v, errBadRequest)
		}
		period.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return core.Period{}, fmt.Errorf("month %q: %w", v, errBadRequest)
		}
		period.Month = m
	}
	if err := period.Validate(); err != nil {
		return core.Period{}, fmt.Errorf("month %d: %w", period.Month, err)
	}
	return period, nil
}

// parseIntParam reads a positive integer query parameter, falling back to def.
func parseIntParam(query url.Values, name string, def int) (int, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s %q: %w", name, v, errBadRequest)
	}
	return n, nil
}

// decodeJSON reads one JSON value from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body: %w", errBadRequest)
		}
		return fmt.Errorf("decode body: %v: %w", err, errBadRequest)
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON body: %w", errBadRequest)
	}
	return nil
}

// transactionRequest is the body of create, edit and installment requests.
type transactionRequest struct {
	record.Transaction
	Installments int `json:"installments,omitempty"`
}

// toDomain maps the request to a domain transaction with sanitized text.
func (req transactionRequest) toDomain() (core.Transaction, error) {
	rec := req.Transaction
	rec.Description = sanitizeInput(rec.Description)
	rec.Category = sanitizeInput(rec.Category)
	rec.Type = strings.ToLower(strings.TrimSpace(rec.Type))
	t, err := rec.ToDomain()
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// cardRequest is the body of card creation.
type cardRequest struct {
	record.Card
}

func (req cardRequest) toDomain() (core.Card, error) {
	rec := req.Card
	rec.Name = sanitizeInput(rec.Name)
	rec.Color = sanitizeInput(rec.Color)
	return rec.ToDomain()
}

// renameRequest is the body of a category rename.
type renameRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
