package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Ledger Event Types ─────────────────────────────────────────────────────
// The event log is the single source of truth for money movement.
// Rows are append-only: once written, never mutated or deleted.

// EventType represents the accounting side of a ledger event.
type EventType string

const (
	EventDebit  EventType = "DEBIT"
	EventCredit EventType = "CREDIT"
)

// EventStatus tracks settlement state of an event.
type EventStatus string

const (
	StatusPending EventStatus = "PENDING"
	StatusSettled EventStatus = "SETTLED"
	StatusFailed  EventStatus = "FAILED"
)

// AmountScale is the fixed-point scale for all ledger amounts:
// six fractional digits.
const AmountScale = 6

// LedgerEvent is a single row in the double-entry event log.
// A DEBIT carries only the source account; a CREDIT carries only the
// destination account. The two events of a transfer share a TransactionID.
type LedgerEvent struct {
	ID                   uuid.UUID       `json:"id"`
	Timestamp            time.Time       `json:"timestamp"`
	SourceAccountID      *uuid.UUID      `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID      `json:"destination_account_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	EventType            EventType       `json:"event_type"`
	TransactionID        uuid.UUID       `json:"transaction_id"`
	Status               EventStatus     `json:"status"`
	Metadata             Metadata        `json:"metadata,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// SignedAmount returns the event amount with its accounting sign:
// credits positive, debits negative. The two events of any transaction
// sum to zero.
func (e LedgerEvent) SignedAmount() decimal.Decimal {
	if e.EventType == EventDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NormalizeAmount fixes amount to the ledger's six-digit scale.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// TransferPair holds the DEBIT and CREDIT events of one committed transfer.
type TransferPair struct {
	TransactionID uuid.UUID   `json:"transaction_id"`
	Debit         LedgerEvent `json:"debit"`
	Credit        LedgerEvent `json:"credit"`
}

// Validate enforces the double-entry invariant on the pair: one DEBIT and
// one CREDIT, equal amount and currency, signed sum zero.
func (p TransferPair) Validate() error {
	if p.Debit.EventType != EventDebit || p.Credit.EventType != EventCredit {
		return ErrUnbalancedTransaction
	}
	if p.Debit.TransactionID != p.TransactionID || p.Credit.TransactionID != p.TransactionID {
		return ErrUnbalancedTransaction
	}
	if !p.Debit.Amount.Equal(p.Credit.Amount) || p.Debit.Currency != p.Credit.Currency {
		return ErrUnbalancedTransaction
	}
	if !p.Debit.SignedAmount().Add(p.Credit.SignedAmount()).IsZero() {
		return ErrUnbalancedTransaction
	}
	return nil
}
