// Package source contains external record adapters. Each adapter turns an
// opaque feed (CSV drop directory, processor API) into normalized
// domain.ExternalRecord values for one (source, date).
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// CSVSource reads bank-statement style CSV drops. One file per day, named
// <date>.csv inside the source's directory, with the header
// txn_id,amount,currency,timestamp,description.
type CSVSource struct {
	name string
	dir  string
}

// NewCSVSource creates a CSV adapter named name reading from dir.
func NewCSVSource(name, dir string) *CSVSource {
	return &CSVSource{name: name, dir: dir}
}

// Name implements domain.ExternalRecordSource.
func (s *CSVSource) Name() string { return s.name }

// Fetch reads the day's file. A missing or unreadable file is a source
// failure; individually bad rows come back as malformed records and do
// not abort the feed.
func (s *CSVSource) Fetch(ctx context.Context, date time.Time) ([]domain.ExternalRecord, []domain.MalformedRecord, error) {
	path := filepath.Join(s.dir, date.Format("2006-01-02")+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(ctx, f)
}

func parseCSV(ctx context.Context, r io.Reader) ([]domain.ExternalRecord, []domain.MalformedRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"txn_id", "amount", "currency", "timestamp"} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("feed missing column %q", required)
		}
	}

	var (
		records   []domain.ExternalRecord
		malformed []domain.MalformedRecord
	)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			malformed = append(malformed, domain.MalformedRecord{
				TxnID:  fmt.Sprintf("line-%d", line),
				Reason: err.Error(),
			})
			continue
		}

		rec, reason := parseRow(row, col)
		if reason != "" {
			id := field(row, col, "txn_id")
			if id == "" {
				id = fmt.Sprintf("line-%d", line)
			}
			malformed = append(malformed, domain.MalformedRecord{TxnID: id, Reason: reason})
			continue
		}
		records = append(records, rec)
	}
	return records, malformed, nil
}

func parseRow(row []string, col map[string]int) (domain.ExternalRecord, string) {
	txnID := field(row, col, "txn_id")
	if txnID == "" {
		return domain.ExternalRecord{}, "empty txn_id"
	}

	amt, err := decimal.NewFromString(field(row, col, "amount"))
	if err != nil {
		return domain.ExternalRecord{}, fmt.Sprintf("bad amount: %v", err)
	}
	if amt.Sign() <= 0 {
		return domain.ExternalRecord{}, "amount must be positive"
	}

	currency := strings.ToUpper(field(row, col, "currency"))
	if !domain.ValidCurrencyCode(currency) {
		return domain.ExternalRecord{}, fmt.Sprintf("bad currency %q", currency)
	}

	ts, err := time.Parse(time.RFC3339, field(row, col, "timestamp"))
	if err != nil {
		return domain.ExternalRecord{}, fmt.Sprintf("bad timestamp: %v", err)
	}

	return domain.ExternalRecord{
		TxnID:       txnID,
		Amount:      domain.NormalizeAmount(amt),
		Currency:    currency,
		Timestamp:   ts,
		Description: field(row, col, "description"),
	}, ""
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
