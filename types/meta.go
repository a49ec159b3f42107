package types

import "errors"

// RunMeta is the identity of one pipeline invocation, attached to every
// log entry emitted during the run.
type RunMeta struct {
	// RunID uniquely identifies this invocation.
	RunID string
	// Attempt is the 1-based attempt number for the consumed window.
	// Retried windows (a prior run failed to reach a terminal state)
	// carry attempt > 1.
	Attempt int
}

// Validate checks that run identity is usable.
func (m *RunMeta) Validate() error {
	if m == nil {
		return errors.New("run metadata is required")
	}
	if m.RunID == "" {
		return errors.New("run_id must not be empty")
	}
	if m.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	return nil
}
