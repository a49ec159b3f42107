// Package runtime orchestrates one scheduled pipeline invocation.
//
// Each invocation walks a fixed state machine:
//
//	Idle -> FetchingLogs -> Batching -> Enriching -> Dispatching -> Done
//
// with a barrier between stages: all batches complete a stage before
// the next begins. Per-pattern and per-batch failures are absorbed and
// recorded; only watermark/clock inconsistencies and the invocation
// timeout abort the run. The next scheduled tick is the sole retry
// mechanism, and the watermark only advances past a run that reached a
// terminal state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lookout/dispatch"
	"github.com/justapithecus/lookout/faults"
	"github.com/justapithecus/lookout/fetch"
	"github.com/justapithecus/lookout/log"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// State is the orchestrator's position in the run state machine.
type State string

// State machine positions. Every run reaches StateDone (or aborts at a
// named stage); there is no unbounded state.
const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching_logs"
	StateBatching    State = "batching"
	StateEnriching   State = "enriching"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
)

// Fetcher retrieves findings for a window (see the fetch package).
type Fetcher interface {
	Fetch(ctx context.Context, window types.Window, patterns map[string]string) ([]types.Finding, []fetch.PatternFailure)
}

// Batcher dedupes and packs findings (see the batch package).
type Batcher interface {
	Group(findings []types.Finding) []types.Batch
}

// Enricher invokes the oracle per batch (see the enrich package).
type Enricher interface {
	Analyze(ctx context.Context, b types.Batch) types.EnrichmentResult
}

// Dispatcher delivers results to the sink (see the dispatch package).
type Dispatcher interface {
	Deliver(ctx context.Context, result types.EnrichmentResult) dispatch.Outcome
}

// WindowSource issues the run's window and commits it on completion.
// Satisfied by *watermark.Tracker.
type WindowSource interface {
	NextWindow(ctx context.Context) (types.Window, error)
	Commit(ctx context.Context) error
}

// RunConfig configures a single invocation.
type RunConfig struct {
	// RunMeta is the run identity attached to all log entries.
	RunMeta *types.RunMeta
	// Patterns maps stable pattern ids to substring patterns.
	Patterns map[string]string
	// Windows issues and commits the scan window.
	Windows WindowSource
	// Override, when set, replaces the tracked window for manual
	// backfill. Backfill runs never advance the watermark.
	Override *types.Window
	// Fetcher, Batcher, Enricher, Dispatcher are the pipeline stages.
	Fetcher    Fetcher
	Batcher    Batcher
	Enricher   Enricher
	Dispatcher Dispatcher
	// EnrichParallel bounds concurrent oracle calls (default 4).
	// Dispatch uses the same bound.
	EnrichParallel int
	// RunTimeout bounds the whole invocation, aligned to the host's
	// execution time budget. Zero means no invocation-level timeout.
	RunTimeout time.Duration
	// Collector receives run metrics. Nil-safe.
	Collector *metrics.Collector
}

// RunResult is the terminal output of one invocation.
type RunResult struct {
	// Summary is the structured run summary returned to the host.
	Summary types.RunSummary
	// EnrichmentResults holds the per-batch oracle outcomes, in batch
	// order.
	EnrichmentResults []types.EnrichmentResult
	// DeliveryOutcomes holds the per-batch delivery outcomes, in batch
	// order, for dispatched batches.
	DeliveryOutcomes []dispatch.Outcome
}

// Orchestrator sequences the pipeline stages for one invocation.
type Orchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	state     State
	startTime time.Time
}

// NewOrchestrator creates an orchestrator for one run.
// Returns an error if run metadata or the override window is invalid.
func NewOrchestrator(config *RunConfig) (*Orchestrator, error) {
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	if config.Override != nil {
		if err := config.Override.Validate(); err != nil {
			return nil, fmt.Errorf("invalid override window: %w", err)
		}
	}
	if len(config.Patterns) == 0 {
		return nil, errors.New("at least one pattern is required")
	}
	if config.EnrichParallel <= 0 {
		config.EnrichParallel = 4
	}

	return &Orchestrator{
		config: config,
		logger: log.NewLogger(config.RunMeta),
		state:  StateIdle,
	}, nil
}

// transition moves the state machine forward and logs the step.
func (o *Orchestrator) transition(next State) {
	o.logger.Debug("state transition", map[string]any{
		"from": string(o.state),
		"to":   string(next),
	})
	o.state = next
}

// State returns the orchestrator's current state machine position.
func (o *Orchestrator) State() State {
	return o.state
}

// Execute runs the pipeline end-to-end and always produces a
// RunResult. The returned error is non-nil only for run-level aborts
// (clock skew, watermark conflict, invocation timeout); per-pattern
// and per-batch failures are recorded in the summary instead.
func (o *Orchestrator) Execute(ctx context.Context) (*RunResult, error) {
	o.startTime = time.Now()

	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancel()
	}

	// Acquire the window.
	backfill := o.config.Override != nil
	var window types.Window
	if backfill {
		window = *o.config.Override
		o.logger.Info("using override window for backfill", map[string]any{
			"window": window.String(),
		})
	} else {
		var err error
		window, err = o.config.Windows.NextWindow(ctx)
		if err != nil {
			o.logger.Error("cannot acquire window", map[string]any{
				"error": err.Error(),
			})
			return o.abort(types.Window{}, nil, nil, err), err
		}
	}

	o.logger.Info("starting run", map[string]any{
		"window":   window.String(),
		"patterns": len(o.config.Patterns),
		"backfill": backfill,
	})

	// FetchingLogs: per-pattern failures are absorbed here.
	o.transition(StateFetching)
	findings, patternFailures := o.config.Fetcher.Fetch(ctx, window, o.config.Patterns)

	var failures []types.Failure
	for _, pf := range patternFailures {
		failures = append(failures, types.Failure{
			Stage:   types.StageFetch,
			Key:     pf.PatternID,
			Message: pf.Err.Error(),
		})
	}

	// Batching. Empty input short-circuits: no oracle or dispatch calls.
	o.transition(StateBatching)
	batches := o.config.Batcher.Group(findings)
	if len(batches) == 0 {
		o.logger.Info("no findings, short-circuiting", map[string]any{
			"pattern_failures": len(patternFailures),
		})
		return o.finish(ctx, window, backfill, len(findings), 0, nil, nil, failures)
	}

	// Enriching: bounded worker pool, barrier before dispatch.
	o.transition(StateEnriching)
	results := runStagePool(o.config.EnrichParallel, len(batches), func(i int) types.EnrichmentResult {
		return o.config.Enricher.Analyze(ctx, batches[i])
	})
	if ctx.Err() != nil {
		err := fmt.Errorf("%w: run canceled during enrichment: %v", faults.ErrTimeout, ctx.Err())
		return o.abort(window, results, nil, err), err
	}

	// Dispatching: failed batches are never delivered.
	o.transition(StateDispatching)
	dispatchable := make([]int, 0, len(results))
	for i, r := range results {
		switch r.Status {
		case types.EnrichmentFailure:
			failures = append(failures, types.Failure{
				Stage:   types.StageEnrich,
				Key:     r.BatchID,
				Message: r.Message,
			})
		case types.EnrichmentPartialFailure:
			// Delivered with the raw text as-is, but still a failure in
			// the summary: no silent partial success.
			failures = append(failures, types.Failure{
				Stage:   types.StageEnrich,
				Key:     r.BatchID,
				Message: r.Message,
			})
			dispatchable = append(dispatchable, i)
		default:
			dispatchable = append(dispatchable, i)
		}
	}

	outcomes := runStagePool(o.config.EnrichParallel, len(dispatchable), func(i int) dispatch.Outcome {
		return o.config.Dispatcher.Deliver(ctx, results[dispatchable[i]])
	})
	if ctx.Err() != nil {
		err := fmt.Errorf("%w: run canceled during dispatch: %v", faults.ErrTimeout, ctx.Err())
		return o.abort(window, results, outcomes, err), err
	}

	delivered := 0
	for _, out := range outcomes {
		switch out.Status {
		case dispatch.Delivered:
			delivered++
		case dispatch.DeliveryFailed:
			failures = append(failures, types.Failure{
				Stage:   types.StageDispatch,
				Key:     out.BatchID,
				Message: out.Err.Error(),
			})
		}
	}

	return o.finishFull(ctx, window, backfill, len(findings), len(batches), delivered, results, outcomes, failures)
}

// runStage executes fn for each of n items on a bounded worker pool
// and waits for all of them (a barrier, not a pipeline overlap).
// Results keep item order regardless of completion order.
func runStagePool[T any](parallel, n int, fn func(i int) T) []T {
	results := make([]T, n)
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}
	wg.Wait()
	return results
}

// finish completes a short-circuited run (no batches).
func (o *Orchestrator) finish(ctx context.Context, window types.Window, backfill bool, findings, batches int, results []types.EnrichmentResult, outcomes []dispatch.Outcome, failures []types.Failure) (*RunResult, error) {
	return o.finishFull(ctx, window, backfill, findings, batches, 0, results, outcomes, failures)
}

// finishFull reaches the Done state, commits the watermark for
// scheduled (non-backfill) runs, and assembles the summary.
func (o *Orchestrator) finishFull(ctx context.Context, window types.Window, backfill bool, findings, batches, delivered int, results []types.EnrichmentResult, outcomes []dispatch.Outcome, failures []types.Failure) (*RunResult, error) {
	o.transition(StateDone)

	advanced := false
	if !backfill {
		if err := o.config.Windows.Commit(ctx); err != nil {
			if errors.Is(err, faults.ErrWatermarkConflict) {
				o.config.Collector.IncWatermarkConflicts()
			}
			// The pipeline work is already done and possibly delivered;
			// the lost commit is surfaced rather than retried so the
			// next tick re-covers the window (dedup absorbs repeats).
			o.logger.Error("watermark commit failed", map[string]any{
				"error": err.Error(),
			})
			failures = append(failures, types.Failure{
				Stage:   types.StageRun,
				Key:     "watermark",
				Message: err.Error(),
			})
		} else {
			advanced = true
			o.config.Collector.IncWatermarkAdvanced()
		}
	}

	status := types.RunSuccess
	if len(failures) > 0 {
		status = types.RunPartialFailure
	}

	summary := types.RunSummary{
		RunID:             o.config.RunMeta.RunID,
		Window:            window,
		Status:            status,
		FindingsCount:     findings,
		BatchesCount:      batches,
		DeliveredCount:    delivered,
		Failures:          failures,
		Duration:          time.Since(o.startTime),
		WatermarkAdvanced: advanced,
	}

	o.logger.Info("run completed", map[string]any{
		"status":    string(status),
		"findings":  findings,
		"batches":   batches,
		"delivered": delivered,
		"failures":  len(failures),
		"duration":  summary.Duration.String(),
	})

	return &RunResult{
		Summary:           summary,
		EnrichmentResults: results,
		DeliveryOutcomes:  outcomes,
	}, nil
}

// abort builds the terminal result for a run-level failure. The
// watermark is never advanced on this path.
func (o *Orchestrator) abort(window types.Window, results []types.EnrichmentResult, outcomes []dispatch.Outcome, cause error) *RunResult {
	o.transition(StateDone)

	summary := types.RunSummary{
		RunID:  o.config.RunMeta.RunID,
		Window: window,
		Status: types.RunAborted,
		Failures: []types.Failure{{
			Stage:   types.StageRun,
			Key:     "run",
			Message: cause.Error(),
		}},
		Duration: time.Since(o.startTime),
	}

	o.logger.Error("run aborted", map[string]any{
		"error":    cause.Error(),
		"duration": summary.Duration.String(),
	})

	return &RunResult{
		Summary:           summary,
		EnrichmentResults: results,
		DeliveryOutcomes:  outcomes,
	}
}
