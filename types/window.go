// Package types defines core domain types for the Lookout pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// Window is a contiguous, non-overlapping time interval scanned for
// log matches. Immutable once issued by the window tracker; successive
// windows tile the covered range (window[n].End == window[n+1].Start).
type Window struct {
	// Start is the inclusive lower bound of the scan interval.
	Start time.Time `json:"start"`
	// End is the exclusive upper bound of the scan interval.
	End time.Time `json:"end"`
}

// ErrInvalidWindow is returned when a window violates Start < End.
var ErrInvalidWindow = errors.New("window start must precede end")

// Validate checks the Start < End invariant.
func (w Window) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Day returns the UTC calendar day of the window end, used as the
// partition key for archived run reports.
func (w Window) Day() string {
	return w.End.UTC().Format("2006-01-02")
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
