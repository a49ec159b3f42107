package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/lookout/faults"
	"github.com/justapithecus/lookout/types"
)

// Tracker computes the non-overlapping time window to scan on each
// invocation. One Tracker serves exactly one run: NextWindow records
// the watermark value it observed, and Commit swaps that exact value
// for the issued window's end. Windows issued by successive successful
// runs tile the covered range with no gaps and no overlaps.
type Tracker struct {
	store    Store
	lookback time.Duration
	now      func() time.Time

	expected time.Time // watermark observed at NextWindow; zero when absent
	issued   types.Window
}

// NewTracker creates a tracker over the given durable store.
// lookback is the default window length when no watermark exists.
func NewTracker(store Store, lookback time.Duration) *Tracker {
	return &Tracker{
		store:    store,
		lookback: lookback,
		now:      time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// NextWindow computes the window to scan for this run.
//
// If no watermark exists the window defaults to [now-lookback, now).
// Fails with faults.ErrClockSkew when now does not lie strictly after
// the watermark: scheduler ticks are minutes apart, so a zero-width or
// inverted window indicates a clock problem, not a fast tick.
func (t *Tracker) NextWindow(ctx context.Context) (types.Window, error) {
	now := t.now().UTC().Truncate(time.Millisecond)

	wm, ok, err := t.store.Load(ctx)
	if err != nil {
		return types.Window{}, fmt.Errorf("load watermark: %w", err)
	}

	start := now.Add(-t.lookback)
	if ok {
		if !now.After(wm) {
			return types.Window{}, fmt.Errorf("%w: now=%s watermark=%s",
				faults.ErrClockSkew, now.Format(time.RFC3339Nano), wm.Format(time.RFC3339Nano))
		}
		start = wm
		t.expected = wm
	}

	w := types.Window{Start: start, End: now}
	if err := w.Validate(); err != nil {
		return types.Window{}, err
	}
	t.issued = w
	return w, nil
}

// Commit atomically advances the watermark past the issued window.
// Called only after the run reaches a terminal state; a run that
// aborts or is cancelled never commits, so its window is retried on
// the next tick (duplicate findings are absorbed downstream by
// content-hash dedup).
func (t *Tracker) Commit(ctx context.Context) error {
	if t.issued.IsZero() {
		return fmt.Errorf("commit before NextWindow")
	}
	if err := t.store.CompareAndSwap(ctx, t.expected, t.issued.End); err != nil {
		return fmt.Errorf("advance watermark to %s: %w",
			t.issued.End.Format(time.RFC3339Nano), err)
	}
	return nil
}
