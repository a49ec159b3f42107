package types

import "time"

// RunStatus is the terminal status of one pipeline invocation.
type RunStatus string

const (
	// RunSuccess indicates every pattern, batch, and delivery succeeded
	// (including the empty-window case with nothing to do).
	RunSuccess RunStatus = "success"
	// RunPartialFailure indicates the run reached a terminal state but
	// at least one pattern, batch, or delivery failed.
	RunPartialFailure RunStatus = "partial_failure"
	// RunAborted indicates a run-level failure (clock skew, watermark
	// conflict, invocation timeout). The watermark is not advanced.
	RunAborted RunStatus = "aborted"
)

// Stage names identify where a recorded failure occurred.
const (
	StageFetch    = "fetch"
	StageEnrich   = "enrich"
	StageDispatch = "dispatch"
	// StageRun marks run-level failures (window acquisition, watermark
	// commit, invocation timeout).
	StageRun = "run"
)

// Failure is one recorded per-pattern, per-batch, or per-delivery
// failure. Key is the pattern id for fetch failures and the batch id
// for enrich/dispatch failures.
type Failure struct {
	Stage   string `json:"stage"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

// RunSummary is the terminal record of one invocation. Logged and
// returned to the invoking host, never mutated after creation.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Window         Window        `json:"window"`
	Status         RunStatus     `json:"status"`
	FindingsCount  int           `json:"findings_count"`
	BatchesCount   int           `json:"batches_count"`
	DeliveredCount int           `json:"delivered_count"`
	Failures       []Failure     `json:"failures,omitempty"`
	Duration       time.Duration `json:"-"`
	// WatermarkAdvanced records whether the run committed its window.
	WatermarkAdvanced bool `json:"watermark_advanced"`
}
