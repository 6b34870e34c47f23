package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// ProcessorConfig controls transfer business rules.
type ProcessorConfig struct {
	// OverdraftAllowed skips the sufficient-funds check when true.
	OverdraftAllowed bool
	// MaxTransactionAmount caps a single transfer. Zero means no cap.
	MaxTransactionAmount decimal.Decimal
	// MaxRetries bounds optimistic-concurrency retries per transfer.
	MaxRetries int
}

// DefaultProcessorConfig returns safe transfer defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		OverdraftAllowed:     false,
		MaxTransactionAmount: decimal.NewFromInt(1_000_000),
		MaxRetries:           3,
	}
}

// Processor validates double-entry business rules and atomically commits
// transfers: one DEBIT plus one CREDIT event and both balance updates, all
// in a single transaction. No partial transfer is ever observable.
type Processor struct {
	config   ProcessorConfig
	accounts domain.AccountStore
	events   domain.EventStore
	balances domain.BalanceStore
	clock    domain.Clock
}

// NewProcessor creates a transfer command processor.
func NewProcessor(cfg ProcessorConfig, accounts domain.AccountStore, events domain.EventStore, balances domain.BalanceStore, clock domain.Clock) *Processor {
	return &Processor{config: cfg, accounts: accounts, events: events, balances: balances, clock: clock}
}

// RecordTransfer moves amount from source to destination. On success the
// committed event pair is returned. Every failure is pre-commit: a
// rejected transfer appends no events and touches no balances.
func (p *Processor) RecordTransfer(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, currency string, metadata domain.Metadata) (*domain.TransferPair, error) {
	amount = domain.NormalizeAmount(amount)
	if amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if p.config.MaxTransactionAmount.Sign() > 0 && amount.GreaterThan(p.config.MaxTransactionAmount) {
		return nil, domain.ErrAmountTooLarge
	}
	if sourceID == destID {
		return nil, domain.ErrSameAccount
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	source, err := p.accounts.GetAccount(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("source account: %w", err)
	}
	dest, err := p.accounts.GetAccount(ctx, destID)
	if err != nil {
		return nil, fmt.Errorf("destination account: %w", err)
	}
	if source.Currency != currency || dest.Currency != currency {
		return nil, domain.ErrCurrencyMismatch
	}

	// Internal accounts (floats, clearing) are funding origins and may go
	// negative regardless of the overdraft setting.
	overdraftOK := p.config.OverdraftAllowed || source.Type == domain.AccountInternal

	var committed domain.TransferPair
	err = withVersionRetry(ctx, p.config.MaxRetries, func(ctx context.Context) error {
		pair, updates, err := p.prepare(ctx, sourceID, destID, amount, currency, metadata, overdraftOK)
		if err != nil {
			return err
		}
		if err := p.events.AppendTransfer(ctx, *pair, updates); err != nil {
			return err
		}
		committed = *pair
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[ledger] transfer committed txn=%s %s %s %s→%s",
		committed.TransactionID, amount, currency, sourceID, destID)
	return &committed, nil
}

// prepare reads both balances at their current versions and builds the
// event pair plus the conditioned updates. Re-run on each retry so a
// conflicting attempt starts from fresh versions.
func (p *Processor) prepare(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, currency string, metadata domain.Metadata, overdraftOK bool) (*domain.TransferPair, []domain.BalanceUpdate, error) {
	srcBal, err := p.balances.GetBalance(ctx, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("source balance: %w", err)
	}
	dstBal, err := p.balances.GetBalance(ctx, destID)
	if err != nil {
		return nil, nil, fmt.Errorf("destination balance: %w", err)
	}

	if !overdraftOK && !srcBal.CanDebit(amount) {
		return nil, nil, domain.ErrInsufficientFunds
	}

	now := p.clock.Now()
	txnID := uuid.New()
	meta := metadata.Clone()
	pair := domain.TransferPair{
		TransactionID: txnID,
		Debit: domain.LedgerEvent{
			ID:              uuid.New(),
			Timestamp:       now,
			SourceAccountID: &sourceID,
			Amount:          amount,
			Currency:        currency,
			EventType:       domain.EventDebit,
			TransactionID:   txnID,
			Status:          domain.StatusSettled,
			Metadata:        meta,
			CreatedAt:       now,
		},
		Credit: domain.LedgerEvent{
			ID:                   uuid.New(),
			Timestamp:            now,
			DestinationAccountID: &destID,
			Amount:               amount,
			Currency:             currency,
			EventType:            domain.EventCredit,
			TransactionID:        txnID,
			Status:               domain.StatusSettled,
			Metadata:             meta,
			CreatedAt:            now,
		},
	}

	updates := []domain.BalanceUpdate{
		{AccountID: sourceID, NewAvailable: srcBal.AvailableBalance.Sub(amount), ExpectedVersion: srcBal.Version},
		{AccountID: destID, NewAvailable: dstBal.AvailableBalance.Add(amount), ExpectedVersion: dstBal.Version},
	}
	return &pair, updates, nil
}
