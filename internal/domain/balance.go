package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Balance Projection ─────────────────────────────────────────────────────

// Balance is the derived per-account projection over SETTLED events:
// available = Σ credits − Σ debits. It is mutated only by the projector,
// in lockstep with event appends, never computed ad hoc by callers.
// Version increases monotonically and backs optimistic concurrency:
// a balance write succeeds only against the version it was read at.
type Balance struct {
	AccountID        uuid.UUID       `json:"account_id"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	LastUpdated      time.Time       `json:"last_updated"`
	Version          int64           `json:"version"`
}

// CanDebit reports whether amount can leave the account without
// overdrawing it.
func (b Balance) CanDebit(amount decimal.Decimal) bool {
	return b.AvailableBalance.Sub(amount).Sign() >= 0
}
