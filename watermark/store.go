// Package watermark tracks the boundary of processed log windows.
//
// The watermark is a single durable timestamp owned by an external
// store and advanced by atomic compare-and-swap, keyed on the value
// the run observed. A stale or slow invocation can therefore never
// regress or double-advance the boundary.
package watermark

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lookout/faults"
)

// Store is a durable single-value timestamp store.
//
// A zero expected time in CompareAndSwap means "the watermark must not
// exist yet" (first-ever run). Implementations return an error
// matching faults.ErrWatermarkConflict when the stored value does not
// equal the expected one.
type Store interface {
	// Load returns the persisted watermark. ok is false when no
	// watermark has ever been written.
	Load(ctx context.Context) (wm time.Time, ok bool, err error)
	// CompareAndSwap atomically replaces expected with next.
	CompareAndSwap(ctx context.Context, expected, next time.Time) error
}

// MemoryStore is an in-process Store for tests and local dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	value time.Time
	set   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the current value.
func (s *MemoryStore) Load(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set, nil
}

// CompareAndSwap replaces expected with next under the store mutex.
func (s *MemoryStore) CompareAndSwap(_ context.Context, expected, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expected.IsZero() {
		if s.set {
			return fmt.Errorf("%w: watermark already exists", faults.ErrWatermarkConflict)
		}
	} else if !s.set || !s.value.Equal(expected) {
		return fmt.Errorf("%w: stored watermark does not match expected", faults.ErrWatermarkConflict)
	}

	s.value = next
	s.set = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
