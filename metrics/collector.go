// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single pipeline
// invocation. It is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so stages never need to
// guard against a missing collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Fetch
	PatternsQueried int64
	PagesFetched    int64
	RecordsFetched  int64
	PatternFailures int64

	// Batching
	DuplicatesCollapsed int64
	BatchesBuilt        int64

	// Enrichment
	OracleCalls    int64
	OracleRetries  int64
	OracleFailures int64
	OraclePartials int64

	// Dispatch
	Delivered        int64
	DeliveryFailures int64

	// Watermark
	WatermarkAdvanced  int64
	WatermarkConflicts int64

	// Dimensions (informational, set at construction)
	Sink           string
	WatermarkStore string
	RunID          string
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	patternsQueried int64
	pagesFetched    int64
	recordsFetched  int64
	patternFailures int64

	duplicatesCollapsed int64
	batchesBuilt        int64

	oracleCalls    int64
	oracleRetries  int64
	oracleFailures int64
	oraclePartials int64

	delivered        int64
	deliveryFailures int64

	watermarkAdvanced  int64
	watermarkConflicts int64

	sink           string
	watermarkStore string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sink, watermarkStore, runID string) *Collector {
	return &Collector{
		sink:           sink,
		watermarkStore: watermarkStore,
		runID:          runID,
	}
}

// add increments a counter field. Callers perform the nil-receiver
// check before taking a field address.
func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Fetch ---

// IncPatternsQueried records one pattern query issued.
func (c *Collector) IncPatternsQueried() {
	if c == nil {
		return
	}
	c.add(&c.patternsQueried, 1)
}

// AddPagesFetched records fully drained result pages.
func (c *Collector) AddPagesFetched(n int64) {
	if c == nil {
		return
	}
	c.add(&c.pagesFetched, n)
}

// AddRecordsFetched records matching log records returned.
func (c *Collector) AddRecordsFetched(n int64) {
	if c == nil {
		return
	}
	c.add(&c.recordsFetched, n)
}

// IncPatternFailures records one pattern query that exhausted retries.
func (c *Collector) IncPatternFailures() {
	if c == nil {
		return
	}
	c.add(&c.patternFailures, 1)
}

// --- Batching ---

// AddDuplicatesCollapsed records findings dropped by content dedup.
func (c *Collector) AddDuplicatesCollapsed(n int64) {
	if c == nil {
		return
	}
	c.add(&c.duplicatesCollapsed, n)
}

// AddBatchesBuilt records batches produced by the batcher.
func (c *Collector) AddBatchesBuilt(n int64) {
	if c == nil {
		return
	}
	c.add(&c.batchesBuilt, n)
}

// --- Enrichment ---

// IncOracleCalls records one oracle invocation attempt.
func (c *Collector) IncOracleCalls() {
	if c == nil {
		return
	}
	c.add(&c.oracleCalls, 1)
}

// IncOracleRetries records one oracle retry after a transient failure.
func (c *Collector) IncOracleRetries() {
	if c == nil {
		return
	}
	c.add(&c.oracleRetries, 1)
}

// IncOracleFailures records one batch whose retries were exhausted.
func (c *Collector) IncOracleFailures() {
	if c == nil {
		return
	}
	c.add(&c.oracleFailures, 1)
}

// IncOraclePartials records one response missing required sections.
func (c *Collector) IncOraclePartials() {
	if c == nil {
		return
	}
	c.add(&c.oraclePartials, 1)
}

// --- Dispatch ---

// IncDelivered records one accepted sink publish.
func (c *Collector) IncDelivered() {
	if c == nil {
		return
	}
	c.add(&c.delivered, 1)
}

// IncDeliveryFailures records one failed sink publish.
func (c *Collector) IncDeliveryFailures() {
	if c == nil {
		return
	}
	c.add(&c.deliveryFailures, 1)
}

// --- Watermark ---

// IncWatermarkAdvanced records a successful watermark commit.
func (c *Collector) IncWatermarkAdvanced() {
	if c == nil {
		return
	}
	c.add(&c.watermarkAdvanced, 1)
}

// IncWatermarkConflicts records a lost compare-and-swap.
func (c *Collector) IncWatermarkConflicts() {
	if c == nil {
		return
	}
	c.add(&c.watermarkConflicts, 1)
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector
// can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PatternsQueried: c.patternsQueried,
		PagesFetched:    c.pagesFetched,
		RecordsFetched:  c.recordsFetched,
		PatternFailures: c.patternFailures,

		DuplicatesCollapsed: c.duplicatesCollapsed,
		BatchesBuilt:        c.batchesBuilt,

		OracleCalls:    c.oracleCalls,
		OracleRetries:  c.oracleRetries,
		OracleFailures: c.oracleFailures,
		OraclePartials: c.oraclePartials,

		Delivered:        c.delivered,
		DeliveryFailures: c.deliveryFailures,

		WatermarkAdvanced:  c.watermarkAdvanced,
		WatermarkConflicts: c.watermarkConflicts,

		Sink:           c.sink,
		WatermarkStore: c.watermarkStore,
		RunID:          c.runID,
	}
}
