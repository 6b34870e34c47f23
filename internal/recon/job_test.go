package recon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/sqlite"
	"github.com/clearbook/clearbook/internal/ledger"
)

// ─── Fixtures ───────────────────────────────────────────────────────────────

var jobDate = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

// feedSource is a seam for job tests: a fixed feed or a fixed error.
type feedSource struct {
	name      string
	records   []domain.ExternalRecord
	malformed []domain.MalformedRecord
	err       error
}

func (s *feedSource) Name() string { return s.name }

func (s *feedSource) Fetch(ctx context.Context, date time.Time) ([]domain.ExternalRecord, []domain.MalformedRecord, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.records, s.malformed, nil
}

type harness struct {
	db   *sqlite.DB
	orch *Orchestrator
	src  *feedSource
}

// setupJob opens a fresh database, seeds one settled transfer on jobDate,
// and wires an orchestrator over a controllable feed source.
func setupJob(t *testing.T) (*harness, *domain.TransferPair) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "recon_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Fixed clock inside the job's day so seeded events land in the window.
	clock := domain.ClockFunc(func() time.Time { return jobDate.Add(12 * time.Hour) })

	registry := ledger.NewRegistry(db, clock)
	ctx := context.Background()
	float, err := registry.Create(ctx, "float", "USD", domain.AccountInternal, nil)
	if err != nil {
		t.Fatalf("create float: %v", err)
	}
	user, err := registry.Create(ctx, "user", "USD", domain.AccountUser, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	processor := ledger.NewProcessor(ledger.DefaultProcessorConfig(), db, db, db, clock)
	pair, err := processor.RecordTransfer(ctx, float.ID, user.ID, decimal.RequireFromString("250.00"), "USD", nil)
	if err != nil {
		t.Fatalf("seed transfer: %v", err)
	}

	src := &feedSource{name: "bank_csv"}
	orch := NewOrchestrator(db, ledger.NewReader(db), NewEngine(DefaultMatchConfig()), clock)
	orch.RegisterSource(src)

	return &harness{db: db, orch: orch, src: src}, pair
}

func runJob(t *testing.T, h *harness) *domain.ReconJob {
	t.Helper()
	ctx := context.Background()
	job, err := h.orch.Trigger(ctx, h.src.name, jobDate)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.orch.Run(ctx, *job)
	got, err := h.db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return got
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestTrigger_UnknownSource(t *testing.T) {
	h, _ := setupJob(t)
	_, err := h.orch.Trigger(context.Background(), "nope", jobDate)
	if !errors.Is(err, domain.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	jobs, err := h.db.ListJobs(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no job row for unknown source, got %d", len(jobs))
	}
}

func TestTrigger_Exclusivity(t *testing.T) {
	h, _ := setupJob(t)
	ctx := context.Background()

	first, err := h.orch.Trigger(ctx, h.src.name, jobDate)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	// Same (source, date) while the first is still PENDING.
	if _, err := h.orch.Trigger(ctx, h.src.name, jobDate); !errors.Is(err, domain.ErrJobAlreadyRunning) {
		t.Fatalf("expected ErrJobAlreadyRunning, got %v", err)
	}

	// A different date is fine.
	if _, err := h.orch.Trigger(ctx, h.src.name, jobDate.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("different date: %v", err)
	}

	// Once the first is terminal, the pair can rerun under a fresh id.
	if err := h.db.MarkFailed(ctx, first.ID, "operator abort", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rerun, err := h.orch.Trigger(ctx, h.src.name, jobDate)
	if err != nil {
		t.Fatalf("rerun after terminal: %v", err)
	}
	if rerun.ID == first.ID {
		t.Error("rerun must get a fresh job id")
	}
}

func TestRun_Completed(t *testing.T) {
	h, pair := setupJob(t)
	h.src.records = []domain.ExternalRecord{
		{
			TxnID:     pair.TransactionID.String(),
			Amount:    decimal.RequireFromString("250.00"),
			Currency:  "USD",
			Timestamp: pair.Debit.Timestamp,
		},
	}

	job := runJob(t, h)
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", job.Status, job.ErrorMessage)
	}
	// Both pair halves are claimable; one feed row claims one of them.
	if job.MatchedCount != 1 || job.UnmatchedCount != 0 {
		t.Errorf("expected 1 matched / 0 unmatched, got %d / %d", job.MatchedCount, job.UnmatchedCount)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("expected started_at and completed_at set")
	}

	ctx := context.Background()
	logs, err := h.db.LogsByJob(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(logs))
	}
	if !logs[0].Matched || logs[0].MatchScore != 1.0 {
		t.Errorf("expected exact match log, got %+v", logs[0])
	}

	summary, err := h.db.SummaryByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summary row")
	}
	if summary.MatchRate != 1.0 {
		t.Errorf("expected match rate 1.0, got %v", summary.MatchRate)
	}
	if summary.HighConfidenceCount != 1 {
		t.Errorf("expected 1 high confidence match, got %d", summary.HighConfidenceCount)
	}
	if summary.TotalLedgerTxns != 2 {
		t.Errorf("expected 2 ledger events in window, got %d", summary.TotalLedgerTxns)
	}
}

func TestRun_MalformedRecordsLogged(t *testing.T) {
	h, pair := setupJob(t)
	h.src.records = []domain.ExternalRecord{
		{
			TxnID:     pair.TransactionID.String(),
			Amount:    decimal.RequireFromString("250.00"),
			Currency:  "USD",
			Timestamp: pair.Debit.Timestamp,
		},
	}
	h.src.malformed = []domain.MalformedRecord{
		{TxnID: "BANK-BROKEN", Reason: "bad amount: not a number"},
	}

	job := runJob(t, h)
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.MatchedCount != 1 || job.UnmatchedCount != 1 {
		t.Errorf("expected 1 matched / 1 unmatched, got %d / %d", job.MatchedCount, job.UnmatchedCount)
	}

	f := false
	unmatched, err := h.db.LogsByJob(context.Background(), job.ID, &f)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(unmatched) != 1 {
		t.Fatalf("expected 1 unmatched log, got %d", len(unmatched))
	}
	if unmatched[0].ExternalTxnID != "BANK-BROKEN" {
		t.Errorf("expected malformed record id, got %s", unmatched[0].ExternalTxnID)
	}

	summary, _ := h.db.SummaryByJob(context.Background(), job.ID)
	if summary.MatchRate != 0.5 {
		t.Errorf("expected match rate 0.5, got %v", summary.MatchRate)
	}
}

func TestRun_SourceUnavailable(t *testing.T) {
	h, _ := setupJob(t)
	h.src.err = errors.New("connection refused")

	job := runJob(t, h)
	if job.Status != domain.JobFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("expected error message recorded")
	}

	// A failed job retains no audit rows and no summary.
	logs, err := h.db.LogsByJob(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs for failed job, got %d", len(logs))
	}
	summary, err := h.db.SummaryByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != nil {
		t.Error("expected no summary for failed job")
	}
}

func TestRun_Timeout(t *testing.T) {
	h, _ := setupJob(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	job, err := h.orch.Trigger(context.Background(), h.src.name, jobDate)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	runErr := h.orch.Run(ctx, *job)
	if runErr == nil {
		t.Fatal("expected an error from a run past its deadline")
	}

	got, err := h.db.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobFailed {
		t.Errorf("expected FAILED after deadline, got %s", got.Status)
	}
}

func TestRun_EmptyFeed(t *testing.T) {
	h, _ := setupJob(t)
	// No records at all: the job still completes, with nothing to match.
	job := runJob(t, h)
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected COMPLETED on empty feed, got %s", job.Status)
	}
	if job.MatchedCount != 0 || job.UnmatchedCount != 0 {
		t.Errorf("expected zero counts, got %d / %d", job.MatchedCount, job.UnmatchedCount)
	}
	summary, _ := h.db.SummaryByJob(context.Background(), job.ID)
	if summary == nil {
		t.Fatal("expected summary row even for empty feed")
	}
	if summary.MatchRate != 0 {
		t.Errorf("expected match rate 0, got %v", summary.MatchRate)
	}
}
