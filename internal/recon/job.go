package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/metrics"
)

// LedgerReader is the slice of the ledger's read surface reconciliation
// needs: a per-currency snapshot of one day's settled events.
type LedgerReader interface {
	SettledEventsForDay(ctx context.Context, currency string, day time.Time) ([]domain.LedgerEvent, error)
}

// Orchestrator drives one reconciliation job from trigger to terminal
// state: PENDING → IN_PROGRESS → {COMPLETED, FAILED}.
type Orchestrator struct {
	repo    domain.JobRepository
	reader  LedgerReader
	engine  *Engine
	sources map[string]domain.ExternalRecordSource
	clock   domain.Clock
}

// NewOrchestrator creates a job orchestrator. Sources are registered by
// name; triggering an unregistered source fails without creating a job.
func NewOrchestrator(repo domain.JobRepository, reader LedgerReader, engine *Engine, clock domain.Clock) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		reader:  reader,
		engine:  engine,
		sources: make(map[string]domain.ExternalRecordSource),
		clock:   clock,
	}
}

// RegisterSource adds an external record source under its name.
func (o *Orchestrator) RegisterSource(src domain.ExternalRecordSource) {
	o.sources[src.Name()] = src
}

// Sources returns the registered source names.
func (o *Orchestrator) Sources() []string {
	names := make([]string, 0, len(o.sources))
	for name := range o.sources {
		names = append(names, name)
	}
	return names
}

// Trigger creates a PENDING job for (source, date). The repository
// enforces exclusivity: if the pair is already pending or in progress,
// domain.ErrJobAlreadyRunning comes back and no row is created. Reruns of
// finished pairs get a fresh job id.
func (o *Orchestrator) Trigger(ctx context.Context, source string, date time.Time) (*domain.ReconJob, error) {
	if _, ok := o.sources[source]; !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
	job := domain.ReconJob{
		ID:        uuid.New(),
		Source:    source,
		JobDate:   date,
		Status:    domain.JobPending,
		CreatedAt: o.clock.Now(),
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Run executes a PENDING job to a terminal state. Fetching, matching, and
// the single finalize transaction happen here; any unrecoverable error
// marks the job FAILED with no logs or summary retained. Run never
// returns job-level errors to the caller beyond reporting; they are
// absorbed into the job row.
func (o *Orchestrator) Run(ctx context.Context, job domain.ReconJob) error {
	src, ok := o.sources[job.Source]
	if !ok {
		return o.fail(job, fmt.Errorf("%w: %q", domain.ErrUnknownSource, job.Source))
	}

	startedAt := o.clock.Now()
	if err := o.repo.MarkInProgress(ctx, job.ID, startedAt); err != nil {
		return o.fail(job, fmt.Errorf("start job: %w", err))
	}
	log.Printf("[recon] job %s started source=%s date=%s",
		job.ID, job.Source, job.JobDate.Format("2006-01-02"))

	records, malformed, err := src.Fetch(ctx, job.JobDate)
	if err != nil {
		return o.fail(job, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
	}

	internal, err := o.loadInternal(ctx, records, job.JobDate)
	if err != nil {
		return o.fail(job, fmt.Errorf("read ledger window: %w", err))
	}

	results := o.engine.Match(records, internal)
	if err := ctx.Err(); err != nil {
		return o.fail(job, err)
	}

	return o.finalize(ctx, job, results, malformed, len(internal))
}

// loadInternal snapshots the day's settled events for every currency the
// feed mentions. The snapshot belongs to this job alone; concurrent
// transfers cannot alter it.
func (o *Orchestrator) loadInternal(ctx context.Context, records []domain.ExternalRecord, day time.Time) ([]domain.LedgerEvent, error) {
	seen := make(map[string]bool)
	var internal []domain.LedgerEvent
	for _, rec := range records {
		if seen[rec.Currency] {
			continue
		}
		seen[rec.Currency] = true
		events, err := o.reader.SettledEventsForDay(ctx, rec.Currency, day)
		if err != nil {
			return nil, err
		}
		internal = append(internal, events...)
	}
	return internal, nil
}

// finalize turns match results into audit rows and commits them with the
// summary and the COMPLETED transition in one transaction.
func (o *Orchestrator) finalize(ctx context.Context, job domain.ReconJob, results []domain.MatchResult, malformed []domain.MalformedRecord, totalLedger int) error {
	now := o.clock.Now()

	var logs []domain.ReconLog
	matched, unmatched := 0, 0
	high, low := 0, 0
	for _, res := range results {
		if res.Matched {
			matched++
			if res.MatchScore >= o.engine.config.HighConfidenceScore {
				high++
			} else {
				low++
			}
		} else {
			unmatched++
		}
		logs = append(logs, domain.ReconLog{
			ID:                   uuid.New(),
			JobID:                job.ID,
			ExternalTxnID:        res.ExternalTxnID,
			LedgerTxnID:          res.LedgerTxnID,
			Matched:              res.Matched,
			MatchScore:           res.MatchScore,
			Reason:               res.Reason,
			AmountDiff:           res.AmountDiff,
			Currency:             res.Currency,
			TimestampDiffSeconds: res.TimestampDiffSeconds,
			CreatedAt:            now,
		})
	}
	for _, m := range malformed {
		unmatched++
		logs = append(logs, domain.ReconLog{
			ID:            uuid.New(),
			JobID:         job.ID,
			ExternalTxnID: m.TxnID,
			Matched:       false,
			Reason:        ReasonMalformed + ": " + m.Reason,
			CreatedAt:     now,
		})
	}

	total := len(results) + len(malformed)
	matchRate := 0.0
	if total > 0 {
		matchRate = math.Round(float64(matched)/float64(total)*10000) / 10000
	}

	job.Status = domain.JobCompleted
	job.MatchedCount = matched
	job.UnmatchedCount = unmatched
	job.CompletedAt = &now

	summary := domain.ReconSummary{
		ID:                  uuid.New(),
		JobID:               job.ID,
		MatchRate:           matchRate,
		HighConfidenceCount: high,
		LowConfidenceCount:  low,
		UnmatchedCount:      unmatched,
		TotalExternalTxns:   total,
		TotalLedgerTxns:     totalLedger,
		CreatedAt:           now,
	}

	if err := o.repo.FinalizeCompleted(ctx, job, logs, summary); err != nil {
		return o.fail(job, fmt.Errorf("finalize: %w", err))
	}
	metrics.ReconMatchRate.WithLabelValues(job.Source).Set(matchRate)
	log.Printf("[recon] job %s completed matched=%d unmatched=%d rate=%.4f",
		job.ID, matched, unmatched, matchRate)
	return nil
}

// fail moves the job to FAILED, recording the cause. The terminal write
// uses a background context so a cancelled or timed-out job can still be
// marked.
func (o *Orchestrator) fail(job domain.ReconJob, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = domain.ErrJobTimeout
	}
	now := o.clock.Now()
	if err := o.repo.MarkFailed(context.Background(), job.ID, cause.Error(), now); err != nil {
		log.Printf("[recon] job %s: could not record failure: %v", job.ID, err)
	}
	log.Printf("[recon] job %s failed: %v", job.ID, cause)
	return cause
}
