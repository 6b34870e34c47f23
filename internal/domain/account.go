// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture: it depends on nothing.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ─── Account Types ──────────────────────────────────────────────────────────

// AccountType classifies who an account belongs to.
type AccountType string

const (
	AccountUser     AccountType = "user"
	AccountInternal AccountType = "internal"
	AccountMerchant AccountType = "merchant"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountUser, AccountInternal, AccountMerchant:
		return true
	}
	return false
}

// Account is a ledger participant. The currency is fixed at creation and
// never changes; accounts are never deleted, only referenced by events.
type Account struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Currency  string      `json:"currency"`
	Type      AccountType `json:"type"`
	Metadata  Metadata    `json:"metadata,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ValidCurrencyCode reports whether code looks like an ISO 4217 code:
// exactly three uppercase ASCII letters. The registry does not ship the
// full ISO table; shape validation is enough to keep the ledger consistent.
func ValidCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// ─── Metadata ───────────────────────────────────────────────────────────────

// Metadata is an opaque key/value mapping carried by accounts and events.
// It is validated only at the system boundary and never inspected by
// ledger invariants.
type Metadata map[string]any

// Validate checks that every value is one of the serializable kinds the
// system accepts: string, bool, or a JSON number (float64 / int / int64).
func (m Metadata) Validate() error {
	for k, v := range m {
		if k == "" {
			return ErrInvalidMetadata
		}
		switch v.(type) {
		case string, bool, float64, int, int64:
		default:
			return ErrInvalidMetadata
		}
	}
	return nil
}

// Clone returns a shallow copy so callers can hold metadata without
// aliasing stored state.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
