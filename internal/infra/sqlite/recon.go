// Reconciliation persistence: job rows, per-record audit logs, and
// summaries. Implements domain.JobRepository.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// jobDateLayout is date-only; a job covers one calendar day per source.
const jobDateLayout = "2006-01-02"

// ─── Job Operations ─────────────────────────────────────────────────────────

// CreateJob inserts a PENDING job row. If another job for the same
// (source, date) is still PENDING or IN_PROGRESS, nothing is inserted and
// domain.ErrJobAlreadyRunning is returned. Finished pairs may be rerun;
// the rerun gets its own id.
func (db *DB) CreateJob(ctx context.Context, job domain.ReconJob) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM recon_jobs
			WHERE source = ? AND job_date = ? AND status IN ('PENDING','IN_PROGRESS')
		`, job.Source, job.JobDate.Format(jobDateLayout)).Scan(&active)
		if err != nil {
			return fmt.Errorf("check running jobs: %w", err)
		}
		if active > 0 {
			return domain.ErrJobAlreadyRunning
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recon_jobs (id, source, job_date, status, matched_count, unmatched_count, created_at)
			VALUES (?, ?, ?, ?, 0, 0, ?)
		`, job.ID.String(), job.Source, job.JobDate.Format(jobDateLayout),
			string(job.Status), fmtTime(job.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

// GetJob retrieves one job, or domain.ErrJobNotFound.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*domain.ReconJob, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, source, job_date, status, matched_count, unmatched_count,
		       started_at, completed_at, error_message, created_at
		FROM recon_jobs WHERE id = ?
	`, id.String())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by source.
func (db *DB) ListJobs(ctx context.Context, source string, limit int) ([]domain.ReconJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source, job_date, status, matched_count, unmatched_count,
		       started_at, completed_at, error_message, created_at
		FROM recon_jobs`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []domain.ReconJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}

func scanJob(r rowScanner) (*domain.ReconJob, error) {
	var (
		j                    domain.ReconJob
		idStr, dateStr, st   string
		startedAt, doneAt    sql.NullString
		errMsg               sql.NullString
		createdStr           string
	)
	if err := r.Scan(&idStr, &j.Source, &dateStr, &st, &j.MatchedCount, &j.UnmatchedCount,
		&startedAt, &doneAt, &errMsg, &createdStr); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = id
	j.Status = domain.JobStatus(st)
	j.JobDate, err = time.Parse(jobDateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("parse job date %q: %w", dateStr, err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseNullTime(doneAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	if j.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkInProgress moves a PENDING job to IN_PROGRESS and stamps started_at.
func (db *DB) MarkInProgress(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE recon_jobs SET status = 'IN_PROGRESS', started_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, fmtTime(startedAt), id.String())
	if err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return domain.ErrJobNotFound
	}
	return nil
}

// MarkFailed moves a non-terminal job to FAILED and records the error.
// Terminal rows are immutable; a second failure report is a no-op error.
func (db *DB) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE recon_jobs SET status = 'FAILED', error_message = ?, completed_at = ?
		WHERE id = ? AND status IN ('PENDING','IN_PROGRESS')
	`, errorMessage, fmtTime(completedAt), id.String())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return domain.ErrJobNotFound
	}
	return nil
}

// FinalizeCompleted commits the job's COMPLETED transition together with
// every log row and the summary, as one transaction. A completed job is
// never visible without consistent logs and summary.
func (db *DB) FinalizeCompleted(ctx context.Context, job domain.ReconJob, logs []domain.ReconLog, summary domain.ReconSummary) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE recon_jobs
			SET status = 'COMPLETED', matched_count = ?, unmatched_count = ?, completed_at = ?
			WHERE id = ? AND status = 'IN_PROGRESS'
		`, job.MatchedCount, job.UnmatchedCount, fmtNullTime(job.CompletedAt), job.ID.String())
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return domain.ErrJobNotFound
		}

		for _, l := range logs {
			var ledgerTxn *string
			if l.LedgerTxnID != nil {
				s := l.LedgerTxnID.String()
				ledgerTxn = &s
			}
			matched := 0
			if l.Matched {
				matched = 1
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO recon_logs (id, job_id, external_txn_id, ledger_txn_id, matched,
					match_score, reason, amount_diff, currency, timestamp_diff_seconds, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, l.ID.String(), l.JobID.String(), l.ExternalTxnID, ledgerTxn, matched,
				l.MatchScore, l.Reason, l.AmountDiff.String(), l.Currency,
				l.TimestampDiffSeconds, fmtTime(l.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert log %s: %w", l.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO recon_summary (id, job_id, match_rate, high_confidence_count,
				low_confidence_count, unmatched_count, total_external_txns, total_ledger_txns,
				notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.ID.String(), summary.JobID.String(), summary.MatchRate,
			summary.HighConfidenceCount, summary.LowConfidenceCount, summary.UnmatchedCount,
			summary.TotalExternalTxns, summary.TotalLedgerTxns, summary.Notes,
			fmtTime(summary.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	})
}

// ─── Log and Summary Reads ──────────────────────────────────────────────────

// LogsByJob returns a job's audit rows in processing order, optionally
// filtered by the matched flag.
func (db *DB) LogsByJob(ctx context.Context, jobID uuid.UUID, matched *bool) ([]domain.ReconLog, error) {
	query := `
		SELECT id, job_id, external_txn_id, ledger_txn_id, matched, match_score,
		       reason, amount_diff, currency, timestamp_diff_seconds, created_at
		FROM recon_logs WHERE job_id = ?`
	args := []any{jobID.String()}
	if matched != nil {
		query += ` AND matched = ?`
		m := 0
		if *matched {
			m = 1
		}
		args = append(args, m)
	}
	query += ` ORDER BY rowid`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("logs by job: %w", err)
	}
	defer rows.Close()

	var result []domain.ReconLog
	for rows.Next() {
		var (
			l                    domain.ReconLog
			idStr, jobStr        string
			ledgerTxn            sql.NullString
			matchedInt           int
			amtDiffStr, created  string
		)
		if err := rows.Scan(&idStr, &jobStr, &l.ExternalTxnID, &ledgerTxn, &matchedInt,
			&l.MatchScore, &l.Reason, &amtDiffStr, &l.Currency,
			&l.TimestampDiffSeconds, &created); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse log id %q: %w", idStr, err)
		}
		jid, err := uuid.Parse(jobStr)
		if err != nil {
			return nil, fmt.Errorf("parse log job id %q: %w", jobStr, err)
		}
		l.ID = id
		l.JobID = jid
		l.Matched = matchedInt == 1
		if ledgerTxn.Valid {
			u, err := uuid.Parse(ledgerTxn.String)
			if err != nil {
				return nil, fmt.Errorf("parse ledger txn id %q: %w", ledgerTxn.String, err)
			}
			l.LedgerTxnID = &u
		}
		if l.AmountDiff, err = decimal.NewFromString(amtDiffStr); err != nil {
			return nil, fmt.Errorf("parse amount diff %q: %w", amtDiffStr, err)
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// SummaryByJob returns the job's summary row, or nil if the job has not
// completed.
func (db *DB) SummaryByJob(ctx context.Context, jobID uuid.UUID) (*domain.ReconSummary, error) {
	var (
		s             domain.ReconSummary
		idStr, jobStr string
		createdStr    string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, job_id, match_rate, high_confidence_count, low_confidence_count,
		       unmatched_count, total_external_txns, total_ledger_txns, notes, created_at
		FROM recon_summary WHERE job_id = ?
	`, jobID.String()).Scan(&idStr, &jobStr, &s.MatchRate, &s.HighConfidenceCount,
		&s.LowConfidenceCount, &s.UnmatchedCount, &s.TotalExternalTxns,
		&s.TotalLedgerTxns, &s.Notes, &createdStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary for job %s: %w", jobID, err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse summary id %q: %w", idStr, err)
	}
	jid, err := uuid.Parse(jobStr)
	if err != nil {
		return nil, fmt.Errorf("parse summary job id %q: %w", jobStr, err)
	}
	s.ID = id
	s.JobID = jid
	if s.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &s, nil
}
