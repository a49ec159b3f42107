package types

// EnrichmentStatus classifies the outcome of one oracle call.
type EnrichmentStatus string

const (
	// EnrichmentSuccess indicates a well-formed report was produced.
	EnrichmentSuccess EnrichmentStatus = "success"
	// EnrichmentPartialFailure indicates a response was produced but
	// required sections are missing; the raw text is kept as-is.
	EnrichmentPartialFailure EnrichmentStatus = "partial_failure"
	// EnrichmentFailure indicates retries were exhausted without a
	// usable response. The batch is not dispatched.
	EnrichmentFailure EnrichmentStatus = "failure"
)

// EnrichmentResult is the per-batch output of the enrichment client,
// consumed exactly once by the dispatcher.
type EnrichmentResult struct {
	// BatchID is the batch this result belongs to.
	BatchID string `json:"batch_id"`
	// ReportText is the oracle-produced report. Untrusted text: only
	// transported, never interpreted.
	ReportText string `json:"report_text,omitempty"`
	// Status classifies the outcome.
	Status EnrichmentStatus `json:"status"`
	// Message carries the last error on failure, or the validation
	// finding on partial failure.
	Message string `json:"message,omitempty"`
}
