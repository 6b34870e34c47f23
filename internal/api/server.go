// Package api provides the HTTP server: a thin JSON surface over the
// ledger core and the reconciliation engine. Validation and business
// rules live in the core; handlers only translate.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/recon"
)

// Server is the clearbook HTTP API server.
type Server struct {
	registry       *ledger.Registry
	processor      *ledger.Processor
	projector      *ledger.Projector
	reader         *ledger.Reader
	balances       domain.BalanceStore
	jobs           domain.JobRepository
	runner         *recon.Runner
	metricsEnabled bool
}

// NewServer creates an API server over the assembled core.
func NewServer(registry *ledger.Registry, processor *ledger.Processor, projector *ledger.Projector, reader *ledger.Reader, balances domain.BalanceStore, jobs domain.JobRepository, runner *recon.Runner) *Server {
	return &Server{
		registry:  registry,
		processor: processor,
		projector: projector,
		reader:    reader,
		balances:  balances,
		jobs:      jobs,
		runner:    runner,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{id}", s.handleGetAccount)
		r.Get("/accounts/{id}/balance", s.handleGetBalance)
		r.Get("/accounts/{id}/events", s.handleAccountEvents)
		r.Post("/accounts/{id}/rebuild", s.handleRebuildBalance)

		r.Post("/transfers", s.handleTransfer)
		r.Get("/transactions/{id}", s.handleTransaction)

		r.Post("/recon/run", s.handleReconRun)
		r.Get("/recon/jobs", s.handleListJobs)
		r.Get("/recon/jobs/{id}", s.handleGetJob)
		r.Get("/recon/jobs/{id}/logs", s.handleJobLogs)
		r.Get("/recon/jobs/{id}/summary", s.handleJobSummary)
	})

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAmountTooLarge),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrUnknownSource):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrJobAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}
