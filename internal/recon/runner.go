package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/metrics"
)

// RunnerConfig controls concurrent job execution.
type RunnerConfig struct {
	MaxConcurrent int           // Maximum jobs in flight (default: 4)
	JobTimeout    time.Duration // Per-job deadline (default: 10m)
}

// DefaultRunnerConfig returns safe runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrent: 4,
		JobTimeout:    10 * time.Minute,
	}
}

// Runner executes reconciliation jobs on a bounded pool. Each job runs as
// one logical task from start to finalize; jobs for different
// (source, date) pairs may overlap, while same-pair exclusivity is
// enforced at trigger time by the repository.
type Runner struct {
	config RunnerConfig
	orch   *Orchestrator
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a job runner over the orchestrator.
func NewRunner(cfg RunnerConfig, orch *Orchestrator) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultRunnerConfig().MaxConcurrent
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultRunnerConfig().JobTimeout
	}
	return &Runner{
		config: cfg,
		orch:   orch,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Submit triggers a job for (source, date) and schedules it for
// asynchronous execution. The PENDING job row is created synchronously, so
// exclusivity errors surface to the caller; execution itself happens on
// the pool under the configured timeout.
func (r *Runner) Submit(ctx context.Context, source string, date time.Time) (*domain.ReconJob, error) {
	job, err := r.orch.Trigger(ctx, source, date)
	if err != nil {
		return nil, err
	}

	select {
	case r.sem <- struct{}{}:
	default:
		// Pool full: fail the job rather than queue unbounded work.
		r.orch.fail(*job, fmt.Errorf("runner at capacity (%d concurrent jobs)", r.config.MaxConcurrent))
		return nil, fmt.Errorf("runner at capacity (%d concurrent jobs)", r.config.MaxConcurrent)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.execute(*job)
	}()
	return job, nil
}

// RunSync triggers and executes a job on the calling goroutine, for the
// CLI path where the process exits after the run.
func (r *Runner) RunSync(ctx context.Context, source string, date time.Time) (*domain.ReconJob, error) {
	job, err := r.orch.Trigger(ctx, source, date)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()
	runErr := r.orch.Run(runCtx, *job)
	metrics.ObserveReconJob(job.Source, runErr)
	final, err := r.orch.repo.GetJob(ctx, job.ID)
	if err != nil {
		return job, runErr
	}
	return final, runErr
}

func (r *Runner) execute(job domain.ReconJob) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.config.JobTimeout)
	defer cancel()

	err := r.orch.Run(ctx, job)
	metrics.ObserveReconJob(job.Source, err)
	metrics.ReconJobDuration.WithLabelValues(job.Source).Observe(time.Since(start).Seconds())
}

// Wait blocks until all in-flight jobs finish. Used at shutdown.
func (r *Runner) Wait() { r.wg.Wait() }
