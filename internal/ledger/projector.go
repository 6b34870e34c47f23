package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// Projector keeps Balance rows consistent with the event log. Incremental
// maintenance happens inside the transfer commit; Projector adds the
// recovery path: recomputing a balance by full replay and, on request,
// writing the replayed value back over the projection.
type Projector struct {
	events   domain.EventStore
	balances domain.BalanceStore
	clock    domain.Clock
}

// NewProjector creates a balance projector.
func NewProjector(events domain.EventStore, balances domain.BalanceStore, clock domain.Clock) *Projector {
	return &Projector{events: events, balances: balances, clock: clock}
}

// Replay folds all SETTLED events for the account in timestamp order:
// credits to the account add, debits from it subtract. The result must
// equal the incrementally maintained balance; that equivalence is the
// projection's core correctness property.
func (p *Projector) Replay(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	events, err := p.events.SettledEventsByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay events: %w", err)
	}
	return FoldBalance(accountID, events), nil
}

// FoldBalance computes an account's balance from an event sequence.
// Events not referencing the account on the relevant side are ignored, so
// callers may pass mixed streams.
func FoldBalance(accountID uuid.UUID, events []domain.LedgerEvent) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		switch ev.EventType {
		case domain.EventCredit:
			if ev.DestinationAccountID != nil && *ev.DestinationAccountID == accountID {
				total = total.Add(ev.Amount)
			}
		case domain.EventDebit:
			if ev.SourceAccountID != nil && *ev.SourceAccountID == accountID {
				total = total.Sub(ev.Amount)
			}
		}
	}
	return total
}

// Rebuild replays the account's events and writes the result over the
// stored projection. Used for recovery and audit; idempotent.
func (p *Projector) Rebuild(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	current, err := p.balances.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	replayed, err := p.Replay(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !current.AvailableBalance.Equal(replayed) {
		log.Printf("[projector] drift on account %s: stored=%s replayed=%s",
			accountID, current.AvailableBalance, replayed)
	}

	rebuilt := *current
	rebuilt.AvailableBalance = replayed
	rebuilt.LastUpdated = p.clock.Now()
	if err := p.balances.WriteBalance(ctx, rebuilt); err != nil {
		return nil, fmt.Errorf("write rebuilt balance: %w", err)
	}
	rebuilt.Version = current.Version + 1
	return &rebuilt, nil
}

// Verify reports whether the stored projection matches full replay.
func (p *Projector) Verify(ctx context.Context, accountID uuid.UUID) (bool, error) {
	current, err := p.balances.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	replayed, err := p.Replay(ctx, accountID)
	if err != nil {
		return false, err
	}
	return current.AvailableBalance.Equal(replayed), nil
}
