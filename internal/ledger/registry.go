// Package ledger implements the event-sourced double-entry core: account
// registry, append-only event store, balance projection, and the transfer
// command processor that ties them together under one atomic commit.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clearbook/clearbook/internal/domain"
)

// Registry holds account identity, currency, and metadata. It is the leaf
// dependency of the ledger: events reference accounts, never the reverse.
type Registry struct {
	store domain.AccountStore
	clock domain.Clock
}

// NewRegistry creates an account registry over store.
func NewRegistry(store domain.AccountStore, clock domain.Clock) *Registry {
	return &Registry{store: store, clock: clock}
}

// Create registers a new account with a zero balance. Currency is fixed
// for the account's lifetime.
func (r *Registry) Create(ctx context.Context, name, currency string, accountType domain.AccountType, metadata domain.Metadata) (*domain.Account, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !domain.ValidCurrencyCode(currency) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, currency)
	}
	if !accountType.Valid() {
		return nil, fmt.Errorf("invalid account type %q", accountType)
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	account := domain.Account{
		ID:        uuid.New(),
		Name:      name,
		Currency:  currency,
		Type:      accountType,
		Metadata:  metadata.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &account, nil
}

// Get returns one account by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.store.GetAccount(ctx, id)
}

// Exists reports whether the account id is registered.
func (r *Registry) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.store.GetAccount(ctx, id)
	if err == domain.ErrAccountNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns all registered accounts.
func (r *Registry) List(ctx context.Context) ([]domain.Account, error) {
	return r.store.ListAccounts(ctx)
}
