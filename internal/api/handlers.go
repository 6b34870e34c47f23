package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/metrics"
)

// ─── Accounts ───────────────────────────────────────────────────────────────

type createAccountRequest struct {
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	Type     string          `json:"type"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	acct, err := s.registry.Create(r.Context(), req.Name, req.Currency, domain.AccountType(req.Type), req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	acct, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bal, err := s.balances.GetBalance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := s.reader.EventsByAccount(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRebuildBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bal, err := s.projector.Rebuild(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ─── Transfers ──────────────────────────────────────────────────────────────

type transferRequest struct {
	SourceAccountID string          `json:"source_account_id"`
	DestAccountID   string          `json:"destination_account_id"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	Metadata        domain.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	sourceID, err := uuid.Parse(req.SourceAccountID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid source_account_id"})
		return
	}
	destID, err := uuid.Parse(req.DestAccountID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid destination_account_id"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid amount"})
		return
	}

	pair, err := s.processor.RecordTransfer(r.Context(), sourceID, destID, amount, req.Currency, req.Metadata)
	metrics.ObserveTransfer(err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	events, err := s.reader.EventsByTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, apiError{Error: "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

type reconRunRequest struct {
	Source string `json:"source"`
	Date   string `json:"date"`
}

func (s *Server) handleReconRun(w http.ResponseWriter, r *http.Request) {
	var req reconRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "date must be YYYY-MM-DD"})
		return
	}
	job, err := s.runner.Submit(r.Context(), req.Source, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	jobs, err := s.jobs.ListJobs(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var matched *bool
	if v := r.URL.Query().Get("matched"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "matched must be true or false"})
			return
		}
		matched = &b
	}
	if _, err := s.jobs.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.jobs.LogsByJob(r.Context(), id, matched)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.jobs.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.jobs.SummaryByJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "summary not available"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ─── Request plumbing ───────────────────────────────────────────────────────

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}
