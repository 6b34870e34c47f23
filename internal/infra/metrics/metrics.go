// Package metrics registers the Prometheus collectors for the ledger and
// the reconciliation engine. Collectors are package-level via promauto,
// exposed on /metrics by the API server.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clearbook/clearbook/internal/domain"
)

var (
	// TransfersTotal counts transfer commands by outcome.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearbook_transfers_total",
		Help: "Transfer commands processed, by outcome.",
	}, []string{"outcome"})

	// TransferConflicts counts optimistic-version conflicts, including
	// ones later resolved by retry.
	TransferConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearbook_transfer_version_conflicts_total",
		Help: "Balance version conflicts observed during transfer commits.",
	})

	// ReconJobsTotal counts reconciliation jobs by source and final status.
	ReconJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearbook_recon_jobs_total",
		Help: "Reconciliation jobs run, by source and final status.",
	}, []string{"source", "status"})

	// ReconJobDuration observes wall time per job run.
	ReconJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clearbook_recon_job_duration_seconds",
		Help:    "Reconciliation job duration from start to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"source"})

	// ReconMatchRate records the last completed job's match rate per source.
	ReconMatchRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clearbook_recon_match_rate",
		Help: "Match rate of the most recent completed job, by source.",
	}, []string{"source"})
)

// ObserveTransfer records a transfer outcome.
func ObserveTransfer(err error) {
	switch {
	case err == nil:
		TransfersTotal.WithLabelValues("committed").Inc()
	case errors.Is(err, domain.ErrInsufficientFunds):
		TransfersTotal.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, domain.ErrConcurrencyConflict):
		TransfersTotal.WithLabelValues("conflict").Inc()
	default:
		TransfersTotal.WithLabelValues("rejected").Inc()
	}
}

// ObserveReconJob records a job's terminal status.
func ObserveReconJob(source string, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	ReconJobsTotal.WithLabelValues(source, status).Inc()
}
