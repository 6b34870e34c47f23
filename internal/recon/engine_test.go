package recon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

var baseTime = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func mkEvent(amount string, ts time.Time) domain.LedgerEvent {
	txn := uuid.New()
	src := uuid.New()
	return domain.LedgerEvent{
		ID:              uuid.New(),
		Timestamp:       ts,
		SourceAccountID: &src,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		EventType:       domain.EventDebit,
		TransactionID:   txn,
		Status:          domain.StatusSettled,
	}
}

func mkRecord(txnID, amount string, ts time.Time) domain.ExternalRecord {
	return domain.ExternalRecord{
		TxnID:     txnID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Timestamp: ts,
	}
}

// ─── Exact tier ─────────────────────────────────────────────────────────────

func TestMatch_ExactByTransactionID(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	rec := mkRecord(ev.TransactionID.String(), "100.00", baseTime)

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if !res.Matched {
		t.Fatalf("expected match, got reason %q", res.Reason)
	}
	if res.MatchScore != 1.0 {
		t.Errorf("expected score 1.0, got %v", res.MatchScore)
	}
	if res.Reason != ReasonExact {
		t.Errorf("expected reason %q, got %q", ReasonExact, res.Reason)
	}
	if res.LedgerTxnID == nil || *res.LedgerTxnID != ev.ID {
		t.Errorf("expected ledger event %s claimed", ev.ID)
	}
	if !res.AmountDiff.IsZero() {
		t.Errorf("expected zero amount diff, got %s", res.AmountDiff)
	}
}

func TestMatch_ExactByMetadataID(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("75.00", baseTime)
	ev.Metadata = domain.Metadata{"external_txn_id": "BANK-REF-42"}
	rec := mkRecord("BANK-REF-42", "75.00", baseTime)

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	if !results[0].Matched || results[0].Reason != ReasonExact {
		t.Fatalf("expected exact match via metadata id, got %+v", results[0])
	}
}

func TestMatch_ExactRequiresEqualAmount(t *testing.T) {
	// Same transaction id but a penny off drops to the fuzzy tier.
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	rec := mkRecord(ev.TransactionID.String(), "100.01", baseTime)

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	res := results[0]
	if !res.Matched {
		t.Fatalf("expected fuzzy match, got reason %q", res.Reason)
	}
	if res.Reason != ReasonFuzzy {
		t.Errorf("expected reason %q, got %q", ReasonFuzzy, res.Reason)
	}
	if res.MatchScore >= 1.0 {
		t.Errorf("fuzzy score must be below 1.0, got %v", res.MatchScore)
	}
}

// ─── Fuzzy tier ─────────────────────────────────────────────────────────────

func TestMatch_FuzzyScore(t *testing.T) {
	// amount diff 0.10 of 1.00 allowed → closeness 0.9
	// time diff 30s of 300s max      → closeness 0.9
	// score = 0.6·0.9 + 0.4·0.9 = 0.9
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	rec := mkRecord("EXT-1", "100.10", baseTime.Add(30*time.Second))

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	res := results[0]
	if !res.Matched || res.Reason != ReasonFuzzy {
		t.Fatalf("expected fuzzy match, got %+v", res)
	}
	if res.MatchScore != 0.9 {
		t.Errorf("expected score 0.9, got %v", res.MatchScore)
	}
	if res.TimestampDiffSeconds != 30 {
		t.Errorf("expected 30s time diff, got %d", res.TimestampDiffSeconds)
	}
	if !res.AmountDiff.Equal(decimal.RequireFromString("0.10")) {
		t.Errorf("expected amount diff 0.10, got %s", res.AmountDiff)
	}
}

func TestMatch_FuzzyBelowThreshold(t *testing.T) {
	// amount diff 0.50 → closeness 0.5; time diff 60s → closeness 0.8
	// score = 0.6·0.5 + 0.4·0.8 = 0.62 < 0.8 → unmatched.
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	rec := mkRecord("EXT-1", "100.50", baseTime.Add(60*time.Second))

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	res := results[0]
	if res.Matched {
		t.Fatalf("expected no match at score 0.62, got %+v", res)
	}
	if res.Reason != ReasonNoCandidate {
		t.Errorf("expected reason %q, got %q", ReasonNoCandidate, res.Reason)
	}
}

func TestMatch_FuzzyToleranceGates(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)

	tests := []struct {
		name string
		rec  domain.ExternalRecord
	}{
		{"amount outside tolerance", mkRecord("EXT-1", "101.01", baseTime)},
		{"time outside tolerance", mkRecord("EXT-2", "100.00", baseTime.Add(5*time.Minute+time.Second))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := engine.Match([]domain.ExternalRecord{tt.rec}, []domain.LedgerEvent{ev})
			if results[0].Matched {
				t.Errorf("expected no match, got %+v", results[0])
			}
		})
	}
}

func TestMatch_CurrencyMissing(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	rec := mkRecord("EXT-1", "100.00", baseTime)
	rec.Currency = "EUR"

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{ev})
	res := results[0]
	if res.Matched {
		t.Fatal("expected no match across currencies")
	}
	if res.Reason != ReasonCurrencyMissing {
		t.Errorf("expected reason %q, got %q", ReasonCurrencyMissing, res.Reason)
	}
}

// ─── Claiming and determinism ───────────────────────────────────────────────

func TestMatch_EventClaimedOnce(t *testing.T) {
	// Two externals both within fuzzy range of one internal event: the
	// earlier external claims it, the later one goes unmatched.
	engine := NewEngine(DefaultMatchConfig())
	ev := mkEvent("100.00", baseTime)
	first := mkRecord("EXT-A", "100.00", baseTime)
	second := mkRecord("EXT-B", "100.05", baseTime.Add(10*time.Second))

	results := engine.Match([]domain.ExternalRecord{second, first}, []domain.LedgerEvent{ev})

	matched := 0
	for _, res := range results {
		if res.Matched {
			matched++
			if res.ExternalTxnID != "EXT-A" {
				t.Errorf("expected earlier record EXT-A to claim the event, got %s", res.ExternalTxnID)
			}
		}
	}
	if matched != 1 {
		t.Fatalf("expected exactly 1 match for 1 internal event, got %d", matched)
	}
}

func TestMatch_DeterministicAcrossInputOrder(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())

	events := []domain.LedgerEvent{
		mkEvent("10.00", baseTime),
		mkEvent("20.00", baseTime.Add(time.Minute)),
		mkEvent("30.00", baseTime.Add(2*time.Minute)),
	}
	records := []domain.ExternalRecord{
		mkRecord("EXT-1", "10.00", baseTime),
		mkRecord("EXT-2", "20.10", baseTime.Add(time.Minute)),
		mkRecord("EXT-3", "99.99", baseTime),
	}

	want := engine.Match(records, events)

	shuffledRecords := []domain.ExternalRecord{records[2], records[0], records[1]}
	shuffledEvents := []domain.LedgerEvent{events[1], events[2], events[0]}
	got := engine.Match(shuffledRecords, shuffledEvents)

	if len(got) != len(want) {
		t.Fatalf("result count changed: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ExternalTxnID != want[i].ExternalTxnID ||
			got[i].Matched != want[i].Matched ||
			got[i].MatchScore != want[i].MatchScore {
			t.Errorf("result %d differs across input order: %+v vs %+v", i, got[i], want[i])
		}
		switch {
		case got[i].LedgerTxnID == nil && want[i].LedgerTxnID == nil:
		case got[i].LedgerTxnID == nil || want[i].LedgerTxnID == nil,
			*got[i].LedgerTxnID != *want[i].LedgerTxnID:
			t.Errorf("result %d claimed different events across input order", i)
		}
	}
}

func TestMatch_TieBreakPrefersSmallerAmountDiff(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())

	// Two candidates at the same timestamp; the closer amount wins even
	// though both clear the threshold.
	closer := mkEvent("100.02", baseTime)
	further := mkEvent("100.10", baseTime)
	rec := mkRecord("EXT-1", "100.00", baseTime)

	results := engine.Match([]domain.ExternalRecord{rec}, []domain.LedgerEvent{further, closer})
	res := results[0]
	if !res.Matched {
		t.Fatalf("expected match, got %+v", res)
	}
	if *res.LedgerTxnID != closer.ID {
		t.Errorf("expected closer amount candidate %s, got %s", closer.ID, *res.LedgerTxnID)
	}
}

func TestMatch_DailyScenario(t *testing.T) {
	// A typical day: two feed rows carrying ledger transaction ids match
	// exactly, one row with amount drift matches fuzzily.
	engine := NewEngine(DefaultMatchConfig())

	ev1 := mkEvent("250.00", baseTime)
	ev2 := mkEvent("42.42", baseTime.Add(time.Hour))
	ev3 := mkEvent("13.37", baseTime.Add(2*time.Hour))

	records := []domain.ExternalRecord{
		mkRecord(ev1.TransactionID.String(), "250.00", baseTime),
		mkRecord(ev2.TransactionID.String(), "42.42", baseTime.Add(time.Hour)),
		mkRecord("BANK-303", "13.40", baseTime.Add(2*time.Hour+20*time.Second)),
	}

	results := engine.Match(records, []domain.LedgerEvent{ev1, ev2, ev3})

	matched, exact, fuzzy := 0, 0, 0
	for _, res := range results {
		if !res.Matched {
			t.Errorf("record %s unmatched: %s", res.ExternalTxnID, res.Reason)
			continue
		}
		matched++
		switch res.Reason {
		case ReasonExact:
			exact++
		case ReasonFuzzy:
			fuzzy++
		}
	}
	if matched != 3 || exact != 2 || fuzzy != 1 {
		t.Errorf("expected 3 matched (2 exact, 1 fuzzy), got %d (%d exact, %d fuzzy)", matched, exact, fuzzy)
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	engine := NewEngine(DefaultMatchConfig())

	if results := engine.Match(nil, nil); len(results) != 0 {
		t.Errorf("expected no results for empty feed, got %d", len(results))
	}

	ev := mkEvent("5.00", baseTime)
	if results := engine.Match(nil, []domain.LedgerEvent{ev}); len(results) != 0 {
		t.Errorf("expected no results for empty feed with events, got %d", len(results))
	}

	rec := mkRecord("EXT-1", "5.00", baseTime)
	results := engine.Match([]domain.ExternalRecord{rec}, nil)
	if len(results) != 1 || results[0].Matched {
		t.Errorf("expected 1 unmatched result against empty ledger, got %+v", results)
	}
}
