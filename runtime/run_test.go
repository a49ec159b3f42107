package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/lookout/batch"
	"github.com/justapithecus/lookout/dispatch"
	"github.com/justapithecus/lookout/fetch"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
	"github.com/justapithecus/lookout/watermark"
)

const okReport = "Verdict: tp. Urgency: low. Remediation: fix. Follow-up: check."

type fakeFetcher struct {
	findings []types.Finding
	failures []fetch.PatternFailure
	calls    atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, _ types.Window, _ map[string]string) ([]types.Finding, []fetch.PatternFailure) {
	f.calls.Add(1)
	return f.findings, f.failures
}

type fakeEnricher struct {
	calls   atomic.Int32
	results map[string]types.EnrichmentResult
	block   chan struct{}
}

func (f *fakeEnricher) Analyze(ctx context.Context, b types.Batch) types.EnrichmentResult {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return types.EnrichmentResult{BatchID: b.ID, Status: types.EnrichmentFailure, Message: ctx.Err().Error()}
		}
	}
	if r, ok := f.results[b.ID]; ok {
		return r
	}
	return types.EnrichmentResult{BatchID: b.ID, ReportText: okReport, Status: types.EnrichmentSuccess}
}

type fakeDispatcher struct {
	calls     atomic.Int32
	delivered []string
	fail      bool
}

func (f *fakeDispatcher) Deliver(_ context.Context, r types.EnrichmentResult) dispatch.Outcome {
	f.calls.Add(1)
	if f.fail {
		return dispatch.Outcome{BatchID: r.BatchID, Status: dispatch.DeliveryFailed, Err: errors.New("sink down")}
	}
	f.delivered = append(f.delivered, r.BatchID)
	return dispatch.Outcome{BatchID: r.BatchID, Status: dispatch.Delivered, AckID: "ack"}
}

func findings(texts ...string) []types.Finding {
	out := make([]types.Finding, 0, len(texts))
	for _, txt := range texts {
		out = append(out, types.Finding{
			PatternID: "p1",
			Pattern:   "outdated",
			Record: types.LogRecord{
				Timestamp: time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC),
				SourceID:  "app-1",
				RawText:   txt,
			},
		})
	}
	return out
}

type testEnv struct {
	store      *watermark.MemoryStore
	fetcher    *fakeFetcher
	enricher   *fakeEnricher
	dispatcher *fakeDispatcher
	collector  *metrics.Collector
	config     *RunConfig
}

func newTestEnv(t *testing.T, f *fakeFetcher) *testEnv {
	t.Helper()
	store := watermark.NewMemoryStore()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tracker := watermark.NewTracker(store, 24*time.Hour).
		WithClock(func() time.Time { return now })

	env := &testEnv{
		store:      store,
		fetcher:    f,
		enricher:   &fakeEnricher{},
		dispatcher: &fakeDispatcher{},
		collector:  metrics.NewCollector("test", "memory", "run-1"),
	}
	env.config = &RunConfig{
		RunMeta:    &types.RunMeta{RunID: "run-1", Attempt: 1},
		Patterns:   map[string]string{"p1": "outdated"},
		Windows:    tracker,
		Fetcher:    env.fetcher,
		Batcher:    batch.NewBatcher(batch.Config{MaxFindings: 20, MaxBytes: 1 << 20}, env.collector),
		Enricher:   env.enricher,
		Dispatcher: env.dispatcher,
		Collector:  env.collector,
	}
	return env
}

func (e *testEnv) watermark(t *testing.T) (time.Time, bool) {
	t.Helper()
	wm, ok, err := e.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load watermark: %v", err)
	}
	return wm, ok
}

func TestExecute_EndToEnd(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a", "b", "c")})
	o, err := NewOrchestrator(env.config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	s := result.Summary
	if s.Status != types.RunSuccess {
		t.Fatalf("expected success, got %s: %+v", s.Status, s.Failures)
	}
	if s.FindingsCount != 3 || s.BatchesCount != 1 || s.DeliveredCount != 1 {
		t.Errorf("unexpected counts: findings=%d batches=%d delivered=%d",
			s.FindingsCount, s.BatchesCount, s.DeliveredCount)
	}
	if !s.WatermarkAdvanced {
		t.Error("expected watermark advanced")
	}
	if o.State() != StateDone {
		t.Errorf("expected done state, got %s", o.State())
	}

	wm, ok := env.watermark(t)
	if !ok || !wm.Equal(s.Window.End) {
		t.Errorf("expected watermark at window end %v, got %v (ok=%v)", s.Window.End, wm, ok)
	}
	if len(result.EnrichmentResults) != 1 || len(result.DeliveryOutcomes) != 1 {
		t.Errorf("unexpected result lengths: %d / %d",
			len(result.EnrichmentResults), len(result.DeliveryOutcomes))
	}
}

func TestExecute_EmptyFetchShortCircuits(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{})
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.Summary.Status != types.RunSuccess {
		t.Fatalf("expected success, got %s", result.Summary.Status)
	}
	if env.enricher.calls.Load() != 0 || env.dispatcher.calls.Load() != 0 {
		t.Errorf("expected no oracle or dispatch calls, got %d / %d",
			env.enricher.calls.Load(), env.dispatcher.calls.Load())
	}
	// A clean empty window still advances the watermark.
	if !result.Summary.WatermarkAdvanced {
		t.Error("expected watermark advanced for a clean empty run")
	}
}

func TestExecute_PatternFailureIsPartial(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{
		findings: findings("a"),
		failures: []fetch.PatternFailure{{PatternID: "p2", Err: errors.New("access denied")}},
	})
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	s := result.Summary
	if s.Status != types.RunPartialFailure {
		t.Fatalf("expected partial failure, got %s", s.Status)
	}
	if len(s.Failures) != 1 || s.Failures[0].Stage != types.StageFetch || s.Failures[0].Key != "p2" {
		t.Errorf("unexpected failures: %+v", s.Failures)
	}
	// The healthy pattern's findings still flow end to end.
	if s.DeliveredCount != 1 {
		t.Errorf("expected 1 delivered, got %d", s.DeliveredCount)
	}
	if !s.WatermarkAdvanced {
		t.Error("expected watermark advanced despite the absorbed failure")
	}
}

func TestExecute_FailedEnrichmentIsNotDispatched(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	// Batch ids are content hashes, so the id the run will see can be
	// precomputed through the same batcher.
	batches := env.config.Batcher.Group(findings("a"))
	env.enricher.results = map[string]types.EnrichmentResult{
		batches[0].ID: {
			BatchID: batches[0].ID,
			Status:  types.EnrichmentFailure,
			Message: "oracle failed after 3 attempts",
		},
	}
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	s := result.Summary
	if s.Status != types.RunPartialFailure {
		t.Fatalf("expected partial failure, got %s", s.Status)
	}
	if env.dispatcher.calls.Load() != 0 {
		t.Errorf("expected failed batch not dispatched, got %d calls", env.dispatcher.calls.Load())
	}
	if len(s.Failures) != 1 || s.Failures[0].Stage != types.StageEnrich || s.Failures[0].Key != batches[0].ID {
		t.Errorf("expected batch id in enrich failure, got %+v", s.Failures)
	}
}

func TestExecute_PartialEnrichmentIsDispatchedButRecorded(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	batches := env.config.Batcher.Group(findings("a"))
	env.enricher.results = map[string]types.EnrichmentResult{
		batches[0].ID: {
			BatchID:    batches[0].ID,
			ReportText: "Verdict: tp. Urgency: low.",
			Status:     types.EnrichmentPartialFailure,
			Message:    "response missing sections: Remediation, Follow-up",
		},
	}
	o, _ := NewOrchestrator(env.config)

	result, _ := o.Execute(context.Background())
	s := result.Summary
	if s.Status != types.RunPartialFailure {
		t.Fatalf("expected partial failure, got %s", s.Status)
	}
	if s.DeliveredCount != 1 {
		t.Errorf("expected degraded report still delivered, got %d", s.DeliveredCount)
	}
	if len(s.Failures) != 1 || s.Failures[0].Stage != types.StageEnrich {
		t.Errorf("expected enrich failure recorded, got %+v", s.Failures)
	}
}

func TestExecute_DeliveryFailureIsPartial(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	env.dispatcher.fail = true
	o, _ := NewOrchestrator(env.config)

	result, _ := o.Execute(context.Background())
	s := result.Summary
	if s.Status != types.RunPartialFailure {
		t.Fatalf("expected partial failure, got %s", s.Status)
	}
	if s.DeliveredCount != 0 {
		t.Errorf("expected nothing delivered, got %d", s.DeliveredCount)
	}
	if len(s.Failures) != 1 || s.Failures[0].Stage != types.StageDispatch {
		t.Errorf("expected dispatch failure, got %+v", s.Failures)
	}
	// Delivery failures do not block the watermark; the run reached Done.
	if !s.WatermarkAdvanced {
		t.Error("expected watermark advanced")
	}
}

func TestExecute_ClockSkewAborts(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	// Seed a watermark ahead of the tracker's clock.
	if err := env.store.CompareAndSwap(context.Background(), time.Time{},
		time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err == nil {
		t.Fatal("expected abort error")
	}
	if result.Summary.Status != types.RunAborted {
		t.Fatalf("expected aborted, got %s", result.Summary.Status)
	}
	if env.fetcher.calls.Load() != 0 {
		t.Error("expected no fetch after window acquisition failure")
	}
}

func TestExecute_CancellationDuringEnrichmentAborts(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	env.enricher.block = make(chan struct{})
	o, _ := NewOrchestrator(env.config)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := o.Execute(ctx)
	if err == nil {
		t.Fatal("expected abort error")
	}
	if result.Summary.Status != types.RunAborted {
		t.Fatalf("expected aborted, got %s", result.Summary.Status)
	}
	if env.dispatcher.calls.Load() != 0 {
		t.Error("expected no dispatch after cancellation")
	}
	if _, ok := env.watermark(t); ok {
		t.Error("expected no watermark for an aborted run")
	}
}

func TestExecute_RunTimeoutAborts(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	env.enricher.block = make(chan struct{})
	env.config.RunTimeout = 20 * time.Millisecond
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err == nil {
		t.Fatal("expected abort error")
	}
	if result.Summary.Status != types.RunAborted {
		t.Fatalf("expected aborted, got %s", result.Summary.Status)
	}
	if _, ok := env.watermark(t); ok {
		t.Error("expected no watermark after timeout")
	}
}

func TestExecute_BackfillOverrideNeverAdvancesWatermark(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	env.config.Override = &types.Window{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
	o, _ := NewOrchestrator(env.config)

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	s := result.Summary
	if s.Status != types.RunSuccess {
		t.Fatalf("expected success, got %s", s.Status)
	}
	if !s.Window.Start.Equal(env.config.Override.Start) {
		t.Errorf("expected override window used, got %v", s.Window)
	}
	if s.WatermarkAdvanced {
		t.Error("backfill must not advance the watermark")
	}
	if _, ok := env.watermark(t); ok {
		t.Error("expected no watermark written by backfill")
	}
	if s.DeliveredCount != 1 {
		t.Errorf("expected backfill still delivers, got %d", s.DeliveredCount)
	}
}

func TestExecute_WatermarkConflictAtCommitIsPartial(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{findings: findings("a")})
	o, _ := NewOrchestrator(env.config)

	// A concurrent run commits between NextWindow and our commit, so
	// our expected-absent swap loses at the end of the run.
	env.config.Fetcher = fetcherFunc(func(ctx context.Context, _ types.Window, _ map[string]string) ([]types.Finding, []fetch.PatternFailure) {
		_ = env.store.CompareAndSwap(ctx, time.Time{},
			time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC))
		return findings("a"), nil
	})

	result, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	s := result.Summary
	if s.Status != types.RunPartialFailure {
		t.Fatalf("expected partial failure, got %s", s.Status)
	}
	if s.WatermarkAdvanced {
		t.Error("expected lost commit to leave watermark unadvanced")
	}
	found := false
	for _, f := range s.Failures {
		if f.Stage == types.StageRun && f.Key == "watermark" {
			found = true
			if !strings.Contains(f.Message, "watermark conflict") {
				t.Errorf("unexpected failure message: %q", f.Message)
			}
		}
	}
	if !found {
		t.Errorf("expected a watermark failure entry, got %+v", s.Failures)
	}
	// Work was already delivered before the lost commit.
	if s.DeliveredCount != 1 {
		t.Errorf("expected delivery to stand, got %d", s.DeliveredCount)
	}
}

type fetcherFunc func(ctx context.Context, w types.Window, p map[string]string) ([]types.Finding, []fetch.PatternFailure)

func (f fetcherFunc) Fetch(ctx context.Context, w types.Window, p map[string]string) ([]types.Finding, []fetch.PatternFailure) {
	return f(ctx, w, p)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{})

	bad := *env.config
	bad.RunMeta = &types.RunMeta{}
	if _, err := NewOrchestrator(&bad); err == nil {
		t.Error("expected error for missing run metadata")
	}

	bad = *env.config
	bad.Patterns = nil
	if _, err := NewOrchestrator(&bad); err == nil {
		t.Error("expected error for empty patterns")
	}

	bad = *env.config
	bad.Override = &types.Window{
		Start: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := NewOrchestrator(&bad); err == nil {
		t.Error("expected error for inverted override window")
	}
}

func TestRunStagePool_KeepsOrder(t *testing.T) {
	got := runStagePool(3, 8, func(i int) int {
		time.Sleep(time.Duration(8-i) * time.Millisecond)
		return i * i
	})
	for i, v := range got {
		if v != i*i {
			t.Errorf("index %d: expected %d, got %d", i, i*i, v)
		}
	}
}
