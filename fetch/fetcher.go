// Package fetch retrieves matching log records for a set of patterns
// within a time window.
//
// Each pattern is queried independently with full pagination: every
// continuation token is followed until the store reports exhaustion,
// so no records are silently dropped. A pattern whose query fails
// after bounded retries is recorded as a partial failure and the fetch
// continues with the remaining patterns.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/lookout/faults"
	"github.com/justapithecus/lookout/log"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// LogStore is the paginated query surface of the external log store.
type LogStore interface {
	// Query returns one page of records matching pattern within window,
	// in store-return order. nextToken is empty on the first page; the
	// returned token is empty when the result set is exhausted.
	Query(ctx context.Context, window types.Window, pattern, nextToken string, pageSize int) ([]types.LogRecord, string, error)
}

// Config bounds fetch behavior.
type Config struct {
	// PageSize is the per-page event limit.
	PageSize int
	// Retries is the per-page retry attempt count on retryable errors.
	Retries int
	// Parallel is the bounded concurrency across pattern queries.
	Parallel int
	// RetryBackoff is the base backoff between page retries
	// (exponential, default 500ms).
	RetryBackoff time.Duration
}

// PatternFailure records one pattern whose query exhausted retries.
type PatternFailure struct {
	PatternID string
	Err       error
}

// Fetcher queries the log store per pattern and yields findings.
type Fetcher struct {
	store     LogStore
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
}

// NewFetcher creates a fetcher over the given log store.
func NewFetcher(store LogStore, config Config, logger *log.Logger, collector *metrics.Collector) *Fetcher {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.Parallel <= 0 {
		config.Parallel = 1
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	return &Fetcher{store: store, config: config, logger: logger, collector: collector}
}

// Fetch queries every pattern within the window and returns the
// findings plus any per-pattern failures.
//
// Pattern queries run concurrently up to Config.Parallel. Findings are
// concatenated in sorted pattern-id order for deterministic output;
// within a pattern, records keep store-return order. There is no
// cross-pattern ordering guarantee beyond that.
func (f *Fetcher) Fetch(ctx context.Context, window types.Window, patterns map[string]string) ([]types.Finding, []PatternFailure) {
	ids := make([]string, 0, len(patterns))
	for id := range patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	perPattern := make([][]types.Finding, len(ids))
	perFailure := make([]*PatternFailure, len(ids))

	sem := make(chan struct{}, f.config.Parallel)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(slot int, patternID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			findings, err := f.fetchPattern(ctx, window, patternID, patterns[patternID])
			if err != nil {
				f.collector.IncPatternFailures()
				f.logger.Warn("pattern query failed", map[string]any{
					"pattern_id": patternID,
					"error":      err.Error(),
				})
				perFailure[slot] = &PatternFailure{PatternID: patternID, Err: err}
				return
			}
			perPattern[slot] = findings
		}(i, id)
	}
	wg.Wait()

	var findings []types.Finding
	var failures []PatternFailure
	for i := range ids {
		findings = append(findings, perPattern[i]...)
		if perFailure[i] != nil {
			failures = append(failures, *perFailure[i])
		}
	}

	f.collector.AddRecordsFetched(int64(len(findings)))
	return findings, failures
}

// fetchPattern drains every result page for one pattern.
func (f *Fetcher) fetchPattern(ctx context.Context, window types.Window, patternID, pattern string) ([]types.Finding, error) {
	f.collector.IncPatternsQueried()

	var findings []types.Finding
	nextToken := ""
	for {
		records, token, err := f.queryPage(ctx, window, patternID, pattern, nextToken)
		if err != nil {
			return nil, err
		}
		f.collector.AddPagesFetched(1)

		for _, r := range records {
			findings = append(findings, types.Finding{
				PatternID: patternID,
				Pattern:   pattern,
				Record:    r,
			})
		}

		if token == "" {
			return findings, nil
		}
		nextToken = token
	}
}

// queryPage fetches one page, retrying retryable failures with
// exponential backoff up to the configured attempt cap.
func (f *Fetcher) queryPage(ctx context.Context, window types.Window, patternID, pattern, nextToken string) ([]types.LogRecord, string, error) {
	var lastErr error
	attempts := 1 + f.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("query canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * f.config.RetryBackoff
			select {
			case <-ctx.Done():
				return nil, "", fmt.Errorf("query canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		records, token, err := f.store.Query(ctx, window, pattern, nextToken, f.config.PageSize)
		if err == nil {
			return records, token, nil
		}

		lastErr = faults.Wrap(err, "query", patternID)
		if !faults.Retryable(lastErr) {
			return nil, "", lastErr
		}
	}

	return nil, "", fmt.Errorf("query failed after %d attempts: %w", attempts, lastErr)
}
