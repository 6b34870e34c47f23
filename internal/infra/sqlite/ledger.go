// Ledger persistence: accounts, the append-only event log, and balance
// projections. Implements domain.AccountStore, domain.EventStore, and
// domain.BalanceStore.

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────

// CreateAccount inserts the account and its zero balance row atomically.
func (db *DB) CreateAccount(ctx context.Context, account domain.Account) error {
	meta, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, name, currency, type, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, account.ID.String(), account.Name, account.Currency, string(account.Type),
			string(meta), fmtTime(account.CreatedAt), fmtTime(account.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO balances (account_id, currency, available_balance, pending_balance, last_updated, version)
			VALUES (?, ?, '0', '0', ?, 0)
		`, account.ID.String(), account.Currency, fmtTime(account.CreatedAt))
		if err != nil {
			return fmt.Errorf("init balance: %w", err)
		}
		return nil
	})
}

// GetAccount retrieves one account, or domain.ErrAccountNotFound.
func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, name, currency, type, metadata, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id.String())
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account %s: %w", id, err)
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (db *DB) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, currency, type, metadata, created_at, updated_at
		FROM accounts ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var (
		a                    domain.Account
		idStr, typ, metaStr  string
		createdStr, updated  string
	)
	if err := r.Scan(&idStr, &a.Name, &a.Currency, &typ, &metaStr, &createdStr, &updated); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse account id %q: %w", idStr, err)
	}
	a.ID = id
	a.Type = domain.AccountType(typ)
	if err := json.Unmarshal([]byte(metaStr), &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

// ─── Event Operations ───────────────────────────────────────────────────────

// AppendTransfer commits one transfer: both events of the pair plus both
// conditioned balance updates, as a single transaction. If any balance row
// no longer carries its expected version, nothing is written and
// domain.ErrConcurrencyConflict is returned.
func (db *DB) AppendTransfer(ctx context.Context, pair domain.TransferPair, updates []domain.BalanceUpdate) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range []domain.LedgerEvent{pair.Debit, pair.Credit} {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		for _, u := range updates {
			res, err := tx.ExecContext(ctx, `
				UPDATE balances
				SET available_balance = ?, version = version + 1, last_updated = ?
				WHERE account_id = ? AND version = ?
			`, u.NewAvailable.String(), fmtTime(pair.Debit.Timestamp), u.AccountID.String(), u.ExpectedVersion)
			if err != nil {
				return fmt.Errorf("update balance %s: %w", u.AccountID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return domain.ErrConcurrencyConflict
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.LedgerEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	var src, dst *string
	if ev.SourceAccountID != nil {
		s := ev.SourceAccountID.String()
		src = &s
	}
	if ev.DestinationAccountID != nil {
		s := ev.DestinationAccountID.String()
		dst = &s
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events (id, timestamp, source_account_id, destination_account_id,
			amount, currency, event_type, transaction_id, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), fmtTime(ev.Timestamp), src, dst, ev.Amount.String(), ev.Currency,
		string(ev.EventType), ev.TransactionID.String(), string(meta), string(ev.Status), fmtTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

const eventColumns = `id, timestamp, source_account_id, destination_account_id,
	amount, currency, event_type, transaction_id, metadata, status, created_at`

// EventsByAccount returns events referencing the account on either side,
// newest first.
func (db *DB) EventsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE source_account_id = ? OR destination_account_id = ?
		ORDER BY timestamp DESC, id LIMIT ?
	`, accountID.String(), accountID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("events by account: %w", err)
	}
	return collectEvents(rows)
}

// EventsByTransaction returns the event pair of a transaction.
func (db *DB) EventsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEvent, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE transaction_id = ? ORDER BY event_type
	`, transactionID.String())
	if err != nil {
		return nil, fmt.Errorf("events by transaction: %w", err)
	}
	return collectEvents(rows)
}

// SettledEventsByAccount returns all SETTLED events touching the account
// in timestamp order, for rebuild-by-replay.
func (db *DB) SettledEventsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEvent, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE status = 'SETTLED' AND (source_account_id = ? OR destination_account_id = ?)
		ORDER BY timestamp, id
	`, accountID.String(), accountID.String())
	if err != nil {
		return nil, fmt.Errorf("settled events by account: %w", err)
	}
	return collectEvents(rows)
}

// SettledEventsInWindow returns SETTLED events of one currency inside
// [from, to), in timestamp order. This is the reconciliation snapshot.
func (db *DB) SettledEventsInWindow(ctx context.Context, currency string, from, to time.Time) ([]domain.LedgerEvent, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE status = 'SETTLED' AND currency = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id
	`, currency, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("settled events in window: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]domain.LedgerEvent, error) {
	defer rows.Close()
	var result []domain.LedgerEvent
	for rows.Next() {
		var (
			ev                     domain.LedgerEvent
			idStr, tsStr, amtStr   string
			srcStr, dstStr         sql.NullString
			typ, txnStr, metaStr   string
			statusStr, createdStr  string
		)
		if err := rows.Scan(&idStr, &tsStr, &srcStr, &dstStr, &amtStr, &ev.Currency,
			&typ, &txnStr, &metaStr, &statusStr, &createdStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", idStr, err)
		}
		txn, err := uuid.Parse(txnStr)
		if err != nil {
			return nil, fmt.Errorf("parse transaction id %q: %w", txnStr, err)
		}
		amt, err := decimal.NewFromString(amtStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amtStr, err)
		}
		ev.ID = id
		ev.TransactionID = txn
		ev.Amount = amt
		if ev.Timestamp, err = parseTime(tsStr); err != nil {
			return nil, err
		}
		ev.EventType = domain.EventType(typ)
		ev.Status = domain.EventStatus(statusStr)
		if ev.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		if srcStr.Valid {
			u, err := uuid.Parse(srcStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse source id %q: %w", srcStr.String, err)
			}
			ev.SourceAccountID = &u
		}
		if dstStr.Valid {
			u, err := uuid.Parse(dstStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse destination id %q: %w", dstStr.String, err)
			}
			ev.DestinationAccountID = &u
		}
		if err := json.Unmarshal([]byte(metaStr), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ─── Balance Operations ─────────────────────────────────────────────────────

// GetBalance retrieves the balance projection row for an account.
func (db *DB) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	var (
		b                  domain.Balance
		idStr, availStr    string
		pendStr, updatedAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT account_id, currency, available_balance, pending_balance, last_updated, version
		FROM balances WHERE account_id = ?
	`, accountID.String()).Scan(&idStr, &b.Currency, &availStr, &pendStr, &updatedAt, &b.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query balance %s: %w", accountID, err)
	}
	b.AccountID = accountID
	if b.AvailableBalance, err = decimal.NewFromString(availStr); err != nil {
		return nil, fmt.Errorf("parse available balance %q: %w", availStr, err)
	}
	if b.PendingBalance, err = decimal.NewFromString(pendStr); err != nil {
		return nil, fmt.Errorf("parse pending balance %q: %w", pendStr, err)
	}
	if b.LastUpdated, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// InitBalance creates a zero balance row if the account has none yet.
func (db *DB) InitBalance(ctx context.Context, accountID uuid.UUID, currency string) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO balances (account_id, currency, available_balance, pending_balance, last_updated, version)
		VALUES (?, ?, '0', '0', ?, 0)
	`, accountID.String(), currency, fmtTime(time.Now()))
	return err
}

// WriteBalance replaces a balance row wholesale. Reserved for
// rebuild-by-replay; normal maintenance goes through AppendTransfer.
func (db *DB) WriteBalance(ctx context.Context, balance domain.Balance) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE balances
		SET currency = ?, available_balance = ?, pending_balance = ?, last_updated = ?, version = version + 1
		WHERE account_id = ?
	`, balance.Currency, balance.AvailableBalance.String(), balance.PendingBalance.String(),
		fmtTime(balance.LastUpdated), balance.AccountID.String())
	return err
}
