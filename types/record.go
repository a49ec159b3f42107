package types

import "time"

// LogRecord is one matching log event returned by the log store.
// Read-only downstream of the fetcher.
type LogRecord struct {
	// Timestamp is the event time assigned by the log store.
	Timestamp time.Time `json:"timestamp"`
	// SourceID identifies the originating stream or host.
	SourceID string `json:"source_id"`
	// RawText is the unparsed log line. Dedup identity downstream.
	RawText string `json:"raw_text"`
}

// Finding is one pattern-to-record match surfaced by the log scan.
// The same record may produce findings under multiple patterns; the
// batcher collapses findings with identical RawText.
type Finding struct {
	// PatternID is the stable identifier of the matched pattern from
	// configuration (never the pattern literal).
	PatternID string `json:"pattern_id"`
	// Pattern is the matched pattern string.
	Pattern string `json:"pattern"`
	// Record is the matching log record.
	Record LogRecord `json:"record"`
}
