package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearbook/clearbook/internal/domain"
)

// Reader is the read-only query surface over the event log used by
// reconciliation. Each call returns a fresh snapshot slice; concurrent
// transfers never mutate a list already handed out.
type Reader struct {
	events domain.EventStore
}

// NewReader creates a ledger reader.
func NewReader(events domain.EventStore) *Reader {
	return &Reader{events: events}
}

// SettledEventsForDay returns the SETTLED events of one currency whose
// timestamps fall on day (UTC), in timestamp order.
func (r *Reader) SettledEventsForDay(ctx context.Context, currency string, day time.Time) ([]domain.LedgerEvent, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	events, err := r.events.SettledEventsInWindow(ctx, currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("read day window: %w", err)
	}
	return events, nil
}

// SettledEventsInWindow exposes an arbitrary [from, to) window.
func (r *Reader) SettledEventsInWindow(ctx context.Context, currency string, from, to time.Time) ([]domain.LedgerEvent, error) {
	return r.events.SettledEventsInWindow(ctx, currency, from, to)
}

// EventsByAccount returns recent events touching the account.
func (r *Reader) EventsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEvent, error) {
	return r.events.EventsByAccount(ctx, accountID, limit)
}

// EventsByTransaction returns the pair recorded under one transaction id.
func (r *Reader) EventsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEvent, error) {
	return r.events.EventsByTransaction(ctx, transactionID)
}
