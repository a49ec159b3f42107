// Package batch collapses duplicate findings and groups them into
// bounded-size batches suitable for one enrichment call.
package batch

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// Config bounds batch size to respect the oracle's input limits.
type Config struct {
	// MaxFindings is the item-count limit per batch.
	MaxFindings int
	// MaxBytes is the serialized-size limit per batch.
	MaxBytes int
}

// Batcher deduplicates findings and packs them into batches.
type Batcher struct {
	config    Config
	collector *metrics.Collector
}

// NewBatcher creates a batcher with the given bounds.
func NewBatcher(config Config, collector *metrics.Collector) *Batcher {
	if config.MaxFindings <= 0 {
		config.MaxFindings = 20
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 16 * 1024
	}
	return &Batcher{config: config, collector: collector}
}

// Group deduplicates findings by exact raw_text equality
// (case-sensitive, keeping first occurrence order) and packs the
// survivors into batches greedily in original order: a new batch
// starts whenever adding the next finding would exceed either bound.
// This is a first-fit streaming bin-pack, not optimal packing: it is
// O(n), deterministic, and keeps batch IDs stable across retries. A
// single finding larger than MaxBytes gets a batch of its own; the
// enrichment prompt truncates per-finding text separately.
//
// Empty input yields zero batches.
func (b *Batcher) Group(findings []types.Finding) []types.Batch {
	if len(findings) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(findings))
	deduped := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		if _, dup := seen[f.Record.RawText]; dup {
			continue
		}
		seen[f.Record.RawText] = struct{}{}
		deduped = append(deduped, f)
	}
	b.collector.AddDuplicatesCollapsed(int64(len(findings) - len(deduped)))

	var batches []types.Batch
	var current []types.Finding
	currentBytes := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, types.Batch{
			ID:       batchID(current),
			Findings: current,
		})
		current = nil
		currentBytes = 0
	}

	for _, f := range deduped {
		size := findingBytes(f)
		if len(current) > 0 &&
			(len(current)+1 > b.config.MaxFindings || currentBytes+size > b.config.MaxBytes) {
			flush()
		}
		current = append(current, f)
		currentBytes += size
	}
	flush()

	b.collector.AddBatchesBuilt(int64(len(batches)))
	return batches
}

// findingBytes is the serialized-size contribution of one finding.
// The raw text dominates prompt size; pattern and source id are
// counted because they are rendered into the prompt too.
func findingBytes(f types.Finding) int {
	return len(f.Record.RawText) + len(f.Record.SourceID) + len(f.Pattern)
}

// batchID produces a deterministic identifier from the ordered member
// raw_text values. Identical ordered content always hashes to the same
// id, so a retried run reuses the id and duplicate oracle calls are
// detectable server-side.
func batchID(findings []types.Finding) string {
	h := sha256.New()
	for _, f := range findings {
		h.Write([]byte(f.Record.RawText))
		h.Write([]byte{0x00}) // separator
	}
	return hex.EncodeToString(h.Sum(nil))
}
