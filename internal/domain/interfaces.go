package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the ledger and recon cores depend on
// them and never on a concrete database client.

// AccountStore abstracts persistent account storage.
type AccountStore interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
}

// BalanceUpdate is one optimistic balance write: it succeeds only if the
// stored row still carries ExpectedVersion.
type BalanceUpdate struct {
	AccountID       uuid.UUID
	NewAvailable    decimal.Decimal
	ExpectedVersion int64
}

// EventStore abstracts the append-only event log and its atomic commit
// boundary. AppendTransfer writes the event pair and both conditioned
// balance updates as a single unit, all four writes or none. A stale
// ExpectedVersion yields ErrConcurrencyConflict with nothing written.
type EventStore interface {
	AppendTransfer(ctx context.Context, pair TransferPair, updates []BalanceUpdate) error
	EventsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]LedgerEvent, error)
	EventsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]LedgerEvent, error)
	SettledEventsByAccount(ctx context.Context, accountID uuid.UUID) ([]LedgerEvent, error)
	SettledEventsInWindow(ctx context.Context, currency string, from, to time.Time) ([]LedgerEvent, error)
}

// BalanceStore abstracts the balance projection rows.
// WriteBalance replaces a row wholesale and is reserved for rebuild;
// incremental maintenance goes through EventStore.AppendTransfer.
type BalanceStore interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error)
	InitBalance(ctx context.Context, accountID uuid.UUID, currency string) error
	WriteBalance(ctx context.Context, balance Balance) error
}

// JobRepository abstracts storage for recon jobs, logs, and summaries.
// CreateJob enforces (source, date) exclusivity against in-flight jobs,
// returning ErrJobAlreadyRunning. FinalizeCompleted commits all log rows,
// the summary, and the COMPLETED transition in one transaction.
type JobRepository interface {
	CreateJob(ctx context.Context, job ReconJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ReconJob, error)
	ListJobs(ctx context.Context, source string, limit int) ([]ReconJob, error)
	MarkInProgress(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time) error
	FinalizeCompleted(ctx context.Context, job ReconJob, logs []ReconLog, summary ReconSummary) error
	LogsByJob(ctx context.Context, jobID uuid.UUID, matched *bool) ([]ReconLog, error)
	SummaryByJob(ctx context.Context, jobID uuid.UUID) (*ReconSummary, error)
}

// ExternalRecordSource produces normalized external records for a date.
// Adapters (CSV files, processor APIs) are opaque behind this boundary.
// Individually malformed records are reported alongside the good ones so
// the job can log them without aborting; only a whole-feed failure is an
// error.
type ExternalRecordSource interface {
	Name() string
	Fetch(ctx context.Context, date time.Time) ([]ExternalRecord, []MalformedRecord, error)
}

// Clock abstracts wall-clock time so schedulers and state machines are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }
