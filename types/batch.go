package types

// Batch is a size-bounded, ordered group of findings sent together to
// the enrichment oracle. ID is a stable content hash of member raw_text
// values, reused across retries so duplicate oracle calls are
// detectable server-side.
type Batch struct {
	// ID is the stable content hash identifying this batch.
	ID string `json:"batch_id"`
	// Findings is the ordered member list (first-occurrence order).
	Findings []Finding `json:"findings"`
}

// Empty reports whether the batch has no findings. Empty batches are
// never enriched or dispatched.
func (b Batch) Empty() bool {
	return len(b.Findings) == 0
}
