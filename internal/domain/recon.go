package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Reconciliation Types ───────────────────────────────────────────────────

// JobStatus tracks a reconciliation job through its lifecycle.
// Transitions are monotonic: PENDING → IN_PROGRESS → {COMPLETED, FAILED}.
// Terminal rows are immutable.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobInProgress || next == JobFailed
	case JobInProgress:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// Terminal reports whether s is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ExternalRecord is a normalized transaction from an external feed
// (bank statement, CSV export, processor API). Source adapters produce
// this shape; the matching engine never sees raw feed formats.
type ExternalRecord struct {
	TxnID       string          `json:"txn_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description,omitempty"`
	Metadata    Metadata        `json:"metadata,omitempty"`
}

// MalformedRecord is an external feed entry that could not be normalized.
// It still gets an unmatched audit row; it never fails the job.
type MalformedRecord struct {
	TxnID  string `json:"txn_id"`
	Reason string `json:"reason"`
}

// MatchResult is the matching engine's decision for one external record.
type MatchResult struct {
	ExternalTxnID        string          `json:"external_txn_id"`
	LedgerTxnID          *uuid.UUID      `json:"ledger_txn_id,omitempty"`
	Matched              bool            `json:"matched"`
	MatchScore           float64         `json:"match_score"`
	Reason               string          `json:"reason"`
	AmountDiff           decimal.Decimal `json:"amount_diff"`
	Currency             string          `json:"currency"`
	TimestampDiffSeconds int64           `json:"timestamp_diff_seconds"`
}

// ReconJob is one reconciliation run for a (source, date) pair.
// Rerunning a finished pair creates a fresh job id; prior jobs are
// never mutated.
type ReconJob struct {
	ID             uuid.UUID  `json:"id"`
	Source         string     `json:"source"`
	JobDate        time.Time  `json:"job_date"`
	Status         JobStatus  `json:"status"`
	MatchedCount   int        `json:"matched_count"`
	UnmatchedCount int        `json:"unmatched_count"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ReconLog is one audit row per external record processed by a job.
// Write-once; owned by the job and cascade-deleted with it.
type ReconLog struct {
	ID                   uuid.UUID       `json:"id"`
	JobID                uuid.UUID       `json:"job_id"`
	ExternalTxnID        string          `json:"external_txn_id"`
	LedgerTxnID          *uuid.UUID      `json:"ledger_txn_id,omitempty"`
	Matched              bool            `json:"matched"`
	MatchScore           float64         `json:"match_score"`
	Reason               string          `json:"reason"`
	AmountDiff           decimal.Decimal `json:"amount_diff"`
	Currency             string          `json:"currency"`
	TimestampDiffSeconds int64           `json:"timestamp_diff_seconds"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ReconSummary is written exactly once, atomically with the job's
// COMPLETED transition.
type ReconSummary struct {
	ID                  uuid.UUID `json:"id"`
	JobID               uuid.UUID `json:"job_id"`
	MatchRate           float64   `json:"match_rate"`
	HighConfidenceCount int       `json:"high_confidence_count"`
	LowConfidenceCount  int       `json:"low_confidence_count"`
	UnmatchedCount      int       `json:"unmatched_count"`
	TotalExternalTxns   int       `json:"total_external_txns"`
	TotalLedgerTxns     int       `json:"total_ledger_txns"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
