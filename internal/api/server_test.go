package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/sqlite"
	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/recon"
)

// ─── Test harness ───────────────────────────────────────────────────────────

func setupServer(t *testing.T) (*Server, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "clearbook.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := domain.ClockFunc(time.Now)
	registry := ledger.NewRegistry(db, clock)
	processor := ledger.NewProcessor(ledger.DefaultProcessorConfig(), db, db, db, clock)
	projector := ledger.NewProjector(db, db, clock)
	reader := ledger.NewReader(db)

	orch := recon.NewOrchestrator(db, reader, recon.NewEngine(recon.DefaultMatchConfig()), clock)
	runner := recon.NewRunner(recon.DefaultRunnerConfig(), orch)

	return NewServer(registry, processor, projector, reader, db, db, runner), db
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createTestAccount(t *testing.T, h http.Handler, name, currency, accountType string) uuid.UUID {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/v1/accounts", map[string]any{
		"name":     name,
		"currency": currency,
		"type":     accountType,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create account %s: expected 201, got %d: %s", name, w.Code, w.Body.String())
	}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.ID
}

// fundAccount credits an account from a fresh internal float so transfer
// tests start from a known balance.
func fundAccount(t *testing.T, h http.Handler, dest uuid.UUID, currency, amount string) {
	t.Helper()
	float := createTestAccount(t, h, "float-"+uuid.NewString()[:8], currency, "internal")
	w := doJSON(t, h, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id":      float.String(),
		"destination_account_id": dest.String(),
		"amount":                 amount,
		"currency":               currency,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("fund account: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

// ─── Health and accounts ────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateAccount(t *testing.T) {
	srv, _ := setupServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/accounts", map[string]any{
		"name":     "alice",
		"currency": "USD",
		"type":     "user",
		"metadata": map[string]any{"team": "payments"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var acct domain.Account
	if err := json.Unmarshal(w.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.ID == uuid.Nil {
		t.Error("expected non-nil account id")
	}
	if acct.Currency != "USD" {
		t.Errorf("expected USD, got %s", acct.Currency)
	}

	// New accounts start with a zero balance row.
	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/balance", acct.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", w.Code)
	}
	var bal domain.Balance
	json.Unmarshal(w.Body.Bytes(), &bal)
	if !bal.AvailableBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", bal.AvailableBalance)
	}
	if bal.Version != 0 {
		t.Errorf("expected version 0, got %d", bal.Version)
	}
}

func TestCreateAccount_InvalidCurrency(t *testing.T) {
	srv, _ := setupServer(t)

	for _, currency := range []string{"usd", "US", "USDX", ""} {
		w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/accounts", map[string]any{
			"name":     "bad",
			"currency": currency,
			"type":     "user",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("currency %q: expected 400, got %d", currency, w.Code)
		}
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetAccount_BadID(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/accounts/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ─── Transfers ──────────────────────────────────────────────────────────────

func TestTransfer(t *testing.T) {
	srv, _ := setupServer(t)
	h := srv.Handler()

	alice := createTestAccount(t, h, "alice", "USD", "user")
	bob := createTestAccount(t, h, "bob", "USD", "user")
	fundAccount(t, h, alice, "USD", "500")

	w := doJSON(t, h, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id":      alice.String(),
		"destination_account_id": bob.String(),
		"amount":                 "125.50",
		"currency":               "USD",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var pair domain.TransferPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.Debit.TransactionID != pair.Credit.TransactionID {
		t.Error("expected events to share a transaction id")
	}

	// Both sides visible through the transaction endpoint.
	w = doJSON(t, h, http.MethodGet, "/v1/transactions/"+pair.TransactionID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transaction lookup: expected 200, got %d", w.Code)
	}
	var resp struct {
		Events []domain.LedgerEvent `json:"events"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}

	// Balances after the transfer.
	var bal domain.Balance
	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/balance", bob), nil)
	json.Unmarshal(w.Body.Bytes(), &bal)
	if !bal.AvailableBalance.Equal(decimal.RequireFromString("125.50")) {
		t.Errorf("bob: expected 125.50, got %s", bal.AvailableBalance)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	srv, _ := setupServer(t)
	h := srv.Handler()

	alice := createTestAccount(t, h, "alice", "USD", "user")
	bob := createTestAccount(t, h, "bob", "USD", "user")

	w := doJSON(t, h, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id":      alice.String(),
		"destination_account_id": bob.String(),
		"amount":                 "10",
		"currency":               "USD",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransfer_Invalid(t *testing.T) {
	srv, _ := setupServer(t)
	h := srv.Handler()

	alice := createTestAccount(t, h, "alice", "USD", "user")
	eur := createTestAccount(t, h, "claire", "EUR", "user")
	fundAccount(t, h, alice, "USD", "100")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "zero amount",
			body: map[string]any{
				"source_account_id":      alice.String(),
				"destination_account_id": eur.String(),
				"amount":                 "0",
				"currency":               "USD",
			},
			want: http.StatusBadRequest,
		},
		{
			name: "same account",
			body: map[string]any{
				"source_account_id":      alice.String(),
				"destination_account_id": alice.String(),
				"amount":                 "5",
				"currency":               "USD",
			},
			want: http.StatusBadRequest,
		},
		{
			name: "currency mismatch",
			body: map[string]any{
				"source_account_id":      alice.String(),
				"destination_account_id": eur.String(),
				"amount":                 "5",
				"currency":               "USD",
			},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown destination",
			body: map[string]any{
				"source_account_id":      alice.String(),
				"destination_account_id": uuid.NewString(),
				"amount":                 "5",
				"currency":               "USD",
			},
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/v1/transfers", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// ─── Reconciliation endpoints ───────────────────────────────────────────────

func TestReconRun_UnknownSource(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/recon/run", map[string]any{
		"source": "nope",
		"date":   "2026-08-31",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReconRun_BadDate(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/recon/run", map[string]any{
		"source": "bank_csv",
		"date":   "31/08/2026",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReconJob_NotFound(t *testing.T) {
	srv, _ := setupServer(t)
	h := srv.Handler()

	for _, path := range []string{
		"/v1/recon/jobs/" + uuid.NewString(),
		"/v1/recon/jobs/" + uuid.NewString() + "/logs",
		"/v1/recon/jobs/" + uuid.NewString() + "/summary",
	} {
		w := doJSON(t, h, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestReconJobs_List(t *testing.T) {
	srv, _ := setupServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/recon/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Jobs []domain.ReconJob `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(resp.Jobs))
	}
}
