package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// APISource pulls settlement records from a payment processor's HTTP API:
// GET {baseURL}/transactions?date=YYYY-MM-DD with optional bearer auth.
type APISource struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

// NewAPISource creates an HTTP feed adapter.
func NewAPISource(name, baseURL, token string) *APISource {
	return &APISource{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements domain.ExternalRecordSource.
func (s *APISource) Name() string { return s.name }

// apiTxn is the wire shape of one feed entry.
type apiTxn struct {
	TxnID       string `json:"txn_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
}

// Fetch implements domain.ExternalRecordSource. Transport and decoding
// failures are source failures; entries that fail normalization are
// reported individually.
func (s *APISource) Fetch(ctx context.Context, date time.Time) ([]domain.ExternalRecord, []domain.MalformedRecord, error) {
	u := fmt.Sprintf("%s/transactions?date=%s", s.baseURL, url.QueryEscape(date.Format("2006-01-02")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch %s: status %d", s.name, resp.StatusCode)
	}

	var payload struct {
		Transactions []apiTxn `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("decode %s feed: %w", s.name, err)
	}

	var (
		records   []domain.ExternalRecord
		malformed []domain.MalformedRecord
	)
	for i, t := range payload.Transactions {
		rec, reason := normalizeAPITxn(t)
		if reason != "" {
			id := t.TxnID
			if id == "" {
				id = fmt.Sprintf("entry-%d", i)
			}
			malformed = append(malformed, domain.MalformedRecord{TxnID: id, Reason: reason})
			continue
		}
		records = append(records, rec)
	}
	return records, malformed, nil
}

func normalizeAPITxn(t apiTxn) (domain.ExternalRecord, string) {
	if t.TxnID == "" {
		return domain.ExternalRecord{}, "empty txn_id"
	}
	amt, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return domain.ExternalRecord{}, fmt.Sprintf("bad amount: %v", err)
	}
	if amt.Sign() <= 0 {
		return domain.ExternalRecord{}, "amount must be positive"
	}
	currency := strings.ToUpper(t.Currency)
	if !domain.ValidCurrencyCode(currency) {
		return domain.ExternalRecord{}, fmt.Sprintf("bad currency %q", t.Currency)
	}
	ts, err := time.Parse(time.RFC3339, t.Timestamp)
	if err != nil {
		return domain.ExternalRecord{}, fmt.Sprintf("bad timestamp: %v", err)
	}
	return domain.ExternalRecord{
		TxnID:       t.TxnID,
		Amount:      domain.NormalizeAmount(amt),
		Currency:    currency,
		Timestamp:   ts,
		Description: t.Description,
	}, ""
}
