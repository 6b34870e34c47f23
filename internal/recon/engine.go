// Package recon implements the reconciliation engine: a deterministic
// two-tier matching algorithm over external feeds and ledger events, the
// job lifecycle state machine around it, and a bounded runner.
package recon

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/domain"
)

// Unmatched reasons recorded on audit rows.
const (
	ReasonExact           = "exact"
	ReasonFuzzy           = "fuzzy"
	ReasonNoCandidate     = "no candidate within tolerance"
	ReasonCurrencyMissing = "currency mismatch"
	ReasonMalformed       = "malformed record"
)

// MatchConfig holds the matching tolerances. All fields must be positive
// for the fuzzy tier to accept anything.
type MatchConfig struct {
	// AllowedAmountDiff is the absolute amount tolerance for fuzzy
	// candidates.
	AllowedAmountDiff decimal.Decimal
	// MaxTimeDiff is the fuzzy timestamp tolerance.
	MaxTimeDiff time.Duration
	// MinScore is the fuzzy acceptance threshold in [0,1].
	MinScore float64
	// ExactTimeTolerance is the (small) timestamp tolerance of the exact
	// tier, configured separately from the fuzzy window. Zero means the
	// timestamps must be identical.
	ExactTimeTolerance time.Duration
	// HighConfidenceScore splits matched rows into high and low
	// confidence buckets for the summary.
	HighConfidenceScore float64
}

// DefaultMatchConfig returns the standard tolerances.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		AllowedAmountDiff:   decimal.RequireFromString("1.00"),
		MaxTimeDiff:         5 * time.Minute,
		MinScore:            0.8,
		ExactTimeTolerance:  0,
		HighConfidenceScore: 0.95,
	}
}

// fuzzy score weights: amount closeness dominates time closeness.
const (
	amountWeight = 0.6
	timeWeight   = 0.4
)

// Engine is the matching engine. It is pure computation: no persistence,
// no clock, no goroutines. Given the same two input sets it always
// produces the same results: jobs are logged and audited, so
// reproducibility is guaranteed by fixed processing order and
// deterministic tie-breaking.
type Engine struct {
	config MatchConfig
}

// NewEngine creates a matching engine with the given tolerances.
func NewEngine(cfg MatchConfig) *Engine {
	return &Engine{config: cfg}
}

// Match classifies every external record against the internal event pool.
// Internal events are exhaustible: once claimed by one external record
// they are unavailable to all later ones. External records are processed
// in ascending timestamp order, ties broken by txn id, so results are
// reproducible.
func (e *Engine) Match(external []domain.ExternalRecord, internal []domain.LedgerEvent) []domain.MatchResult {
	ordered := make([]domain.ExternalRecord, len(external))
	copy(ordered, external)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].TxnID < ordered[j].TxnID
	})

	pool := make([]domain.LedgerEvent, len(internal))
	copy(pool, internal)
	sort.SliceStable(pool, func(i, j int) bool {
		if !pool[i].Timestamp.Equal(pool[j].Timestamp) {
			return pool[i].Timestamp.Before(pool[j].Timestamp)
		}
		return pool[i].ID.String() < pool[j].ID.String()
	})

	claimed := make(map[uuid.UUID]bool, len(pool))
	results := make([]domain.MatchResult, 0, len(ordered))
	for _, rec := range ordered {
		results = append(results, e.matchOne(rec, pool, claimed))
	}
	return results
}

// matchOne finds the best unclaimed candidate for one record, trying the
// exact tier first and falling back to fuzzy.
func (e *Engine) matchOne(rec domain.ExternalRecord, pool []domain.LedgerEvent, claimed map[uuid.UUID]bool) domain.MatchResult {
	sameCurrency := false
	for i := range pool {
		if pool[i].Currency == rec.Currency {
			sameCurrency = true
			break
		}
	}
	if !sameCurrency {
		return domain.MatchResult{
			ExternalTxnID: rec.TxnID,
			Matched:       false,
			Reason:        ReasonCurrencyMissing,
			Currency:      rec.Currency,
			AmountDiff:    decimal.Zero,
		}
	}

	if best := e.bestExact(rec, pool, claimed); best != nil {
		claimed[best.ID] = true
		id := best.ID
		return domain.MatchResult{
			ExternalTxnID:        rec.TxnID,
			LedgerTxnID:          &id,
			Matched:              true,
			MatchScore:           1.0,
			Reason:               ReasonExact,
			AmountDiff:           rec.Amount.Sub(best.Amount).Abs(),
			Currency:             rec.Currency,
			TimestampDiffSeconds: timeDiffSeconds(rec.Timestamp, best.Timestamp),
		}
	}

	if best, score := e.bestFuzzy(rec, pool, claimed); best != nil {
		claimed[best.ID] = true
		id := best.ID
		return domain.MatchResult{
			ExternalTxnID:        rec.TxnID,
			LedgerTxnID:          &id,
			Matched:              true,
			MatchScore:           score,
			Reason:               ReasonFuzzy,
			AmountDiff:           rec.Amount.Sub(best.Amount).Abs(),
			Currency:             rec.Currency,
			TimestampDiffSeconds: timeDiffSeconds(rec.Timestamp, best.Timestamp),
		}
	}

	return domain.MatchResult{
		ExternalTxnID: rec.TxnID,
		Matched:       false,
		Reason:        ReasonNoCandidate,
		Currency:      rec.Currency,
		AmountDiff:    decimal.Zero,
	}
}

// bestExact returns the best unclaimed exact candidate: same transaction
// id (or the event advertises the external id in its metadata), equal
// amount, timestamps within the exact tolerance. Ties break on smaller
// time difference, then smallest transaction id.
func (e *Engine) bestExact(rec domain.ExternalRecord, pool []domain.LedgerEvent, claimed map[uuid.UUID]bool) *domain.LedgerEvent {
	var best *domain.LedgerEvent
	var bestTimeDiff time.Duration
	for i := range pool {
		ev := &pool[i]
		if claimed[ev.ID] || ev.Currency != rec.Currency {
			continue
		}
		if !idEquivalent(rec, ev) {
			continue
		}
		if !ev.Amount.Equal(rec.Amount) {
			continue
		}
		td := absDuration(rec.Timestamp.Sub(ev.Timestamp))
		if td > e.config.ExactTimeTolerance {
			continue
		}
		if best == nil || td < bestTimeDiff ||
			(td == bestTimeDiff && ev.TransactionID.String() < best.TransactionID.String()) {
			best = ev
			bestTimeDiff = td
		}
	}
	return best
}

// idEquivalent reports whether the external record identifies the event:
// the external txn id equals the ledger transaction id, or the event's
// metadata carries the external id under "external_txn_id".
func idEquivalent(rec domain.ExternalRecord, ev *domain.LedgerEvent) bool {
	if rec.TxnID == ev.TransactionID.String() {
		return true
	}
	if v, ok := ev.Metadata["external_txn_id"]; ok {
		if s, ok := v.(string); ok && s == rec.TxnID {
			return true
		}
	}
	return false
}

// bestFuzzy returns the best unclaimed fuzzy candidate at or above the
// minimum score. Ties break on smaller amount diff, then smaller time
// diff, then smallest transaction id.
func (e *Engine) bestFuzzy(rec domain.ExternalRecord, pool []domain.LedgerEvent, claimed map[uuid.UUID]bool) (*domain.LedgerEvent, float64) {
	var (
		best         *domain.LedgerEvent
		bestScore    float64
		bestAmtDiff  decimal.Decimal
		bestTimeDiff time.Duration
	)
	for i := range pool {
		ev := &pool[i]
		if claimed[ev.ID] || ev.Currency != rec.Currency {
			continue
		}
		td := absDuration(rec.Timestamp.Sub(ev.Timestamp))
		if td > e.config.MaxTimeDiff {
			continue
		}
		amtDiff := rec.Amount.Sub(ev.Amount).Abs()
		if amtDiff.GreaterThan(e.config.AllowedAmountDiff) {
			continue
		}
		score := e.score(amtDiff, td)
		if score < e.config.MinScore {
			continue
		}

		better := false
		switch {
		case best == nil:
			better = true
		case score > bestScore:
			better = true
		case score < bestScore:
		case amtDiff.LessThan(bestAmtDiff):
			better = true
		case amtDiff.GreaterThan(bestAmtDiff):
		case td < bestTimeDiff:
			better = true
		case td > bestTimeDiff:
		case ev.TransactionID.String() < best.TransactionID.String():
			better = true
		}
		if better {
			best = ev
			bestScore = score
			bestAmtDiff = amtDiff
			bestTimeDiff = td
		}
	}
	return best, bestScore
}

// score combines normalized amount closeness and timestamp closeness:
//
//	0.6·(1 − amountDiff/allowed) + 0.4·(1 − timeDiff/max)
//
// clipped to [0,1] and rounded to 4 decimals. Closer amount or time
// always yields a higher score.
func (e *Engine) score(amountDiff decimal.Decimal, timeDiff time.Duration) float64 {
	amountCloseness := 1.0
	if e.config.AllowedAmountDiff.Sign() > 0 {
		ratio, _ := amountDiff.Div(e.config.AllowedAmountDiff).Float64()
		amountCloseness = 1.0 - ratio
	} else if amountDiff.Sign() > 0 {
		amountCloseness = 0.0
	}

	timeCloseness := 1.0
	if e.config.MaxTimeDiff > 0 {
		timeCloseness = 1.0 - float64(timeDiff)/float64(e.config.MaxTimeDiff)
	} else if timeDiff > 0 {
		timeCloseness = 0.0
	}

	s := amountWeight*amountCloseness + timeWeight*timeCloseness
	s = math.Max(0, math.Min(1, s))
	return math.Round(s*10000) / 10000
}

func timeDiffSeconds(a, b time.Time) int64 {
	return int64(absDuration(a.Sub(b)) / time.Second)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
