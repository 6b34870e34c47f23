package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearbook/clearbook/internal/domain"
)

type firing struct {
	source string
	date   time.Time
}

func TestTick_FiresAtConfiguredHour(t *testing.T) {
	now := time.Date(2026, 8, 31, 1, 59, 0, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })

	var fired []firing
	s := New(Config{Hour: 2, Sources: []string{"bank_csv", "stripe_api"}}, clock,
		func(ctx context.Context, source string, date time.Time) error {
			fired = append(fired, firing{source, date})
			return nil
		})

	ctx := context.Background()

	// Before the hour: nothing.
	s.Tick(ctx)
	if len(fired) != 0 {
		t.Fatalf("fired before the hour: %+v", fired)
	}

	// At the hour: every source fires once, for yesterday.
	now = time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	s.Tick(ctx)
	if len(fired) != 2 {
		t.Fatalf("expected 2 firings, got %d", len(fired))
	}
	wantDate := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for _, f := range fired {
		if !f.date.Equal(wantDate) {
			t.Errorf("%s fired for %s, want %s", f.source, f.date, wantDate)
		}
	}

	// Later ticks within the same hour do not refire.
	now = now.Add(30 * time.Minute)
	s.Tick(ctx)
	if len(fired) != 2 {
		t.Fatalf("refired within the hour: %d", len(fired))
	}

	// The next day fires again for the new yesterday.
	now = time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
	s.Tick(ctx)
	if len(fired) != 4 {
		t.Fatalf("expected 4 firings after day rollover, got %d", len(fired))
	}
	if !fired[2].date.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day rollover fired for %s", fired[2].date)
	}
}

func TestTick_NonUTCClock(t *testing.T) {
	zone := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, zone)
	clock := domain.ClockFunc(func() time.Time { return now })

	var fired []firing
	s := New(Config{Hour: 2, Sources: []string{"bank_csv"}}, clock,
		func(ctx context.Context, source string, date time.Time) error {
			fired = append(fired, firing{source, date})
			return nil
		})

	ctx := context.Background()

	// Local hour 2 fires for the local yesterday, even though UTC is
	// still on the previous day.
	s.Tick(ctx)
	if len(fired) != 1 {
		t.Fatalf("expected 1 firing at local hour 2, got %d", len(fired))
	}
	wantDate := time.Date(2026, 8, 30, 0, 0, 0, 0, zone)
	if !fired[0].date.Equal(wantDate) {
		t.Errorf("fired for %s, want %s", fired[0].date, wantDate)
	}

	// Same local hour does not refire.
	now = now.Add(30 * time.Minute)
	s.Tick(ctx)
	if len(fired) != 1 {
		t.Fatalf("refired within the hour: %d", len(fired))
	}

	// The local day rollover resets and the next local hour 2 refires.
	now = time.Date(2026, 9, 1, 2, 0, 0, 0, zone)
	s.Tick(ctx)
	if len(fired) != 2 {
		t.Fatalf("expected a firing on the next local day, got %d", len(fired))
	}
	if !fired[1].date.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, zone)) {
		t.Errorf("day rollover fired for %s", fired[1].date)
	}
}

func TestTick_RetriesFailedTrigger(t *testing.T) {
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })

	calls := 0
	s := New(Config{Hour: 2, Sources: []string{"bank_csv"}}, clock,
		func(ctx context.Context, source string, date time.Time) error {
			calls++
			if calls == 1 {
				return errors.New("database locked")
			}
			return nil
		})

	ctx := context.Background()
	s.Tick(ctx)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	// Failure keeps the pair due; the next tick retries.
	now = now.Add(time.Minute)
	s.Tick(ctx)
	if calls != 2 {
		t.Fatalf("expected retry, got %d calls", calls)
	}

	// Success marks it done.
	now = now.Add(time.Minute)
	s.Tick(ctx)
	if calls != 2 {
		t.Fatalf("retried after success, got %d calls", calls)
	}
}

func TestTick_AlreadyRunningCountsAsDone(t *testing.T) {
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })

	calls := 0
	s := New(Config{Hour: 2, Sources: []string{"bank_csv"}}, clock,
		func(ctx context.Context, source string, date time.Time) error {
			calls++
			return domain.ErrJobAlreadyRunning
		})

	ctx := context.Background()
	s.Tick(ctx)
	now = now.Add(time.Minute)
	s.Tick(ctx)
	if calls != 1 {
		t.Fatalf("expected a single call when already running, got %d", calls)
	}
}
