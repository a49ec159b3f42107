// Package enrich invokes the external text-generation oracle per batch
// with timeout, retry-with-backoff, and truncation policy.
//
// Failures are absorbed per batch: exhausting retries yields a
// Failure-status result, never an error that aborts the run. A
// response that omits required sections yields PartialFailure with the
// raw text kept as-is.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/lookout/faults"
	"github.com/justapithecus/lookout/log"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// Oracle is the external text-generation service, treated strictly as
// an opaque enrichment function. Responses are untrusted text: only
// transported, never executed.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one oracle invocation.
type Request struct {
	// BatchID identifies the batch. Reused unchanged across retry
	// attempts so duplicate calls are detectable server-side.
	BatchID string
	// Prompt is the rendered fixed-structure request.
	Prompt string
	// MaxTokens caps the sampled output length.
	MaxTokens int
	// Temperature is the sampling temperature.
	Temperature float64
}

// Config bounds enrichment behavior.
type Config struct {
	// Timeout bounds a single oracle attempt.
	Timeout time.Duration
	// Retries is the retry attempt cap on retryable failures.
	Retries int
	// MaxTokens caps the sampled output length.
	MaxTokens int
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxFindingChars truncates a single finding's raw text in the prompt.
	MaxFindingChars int
	// RetryBackoff is the base backoff for transient failures
	// (exponential, default 1s).
	RetryBackoff time.Duration
	// QuotaBackoff is the base backoff for quota/throttle failures
	// (exponential, default 5s).
	QuotaBackoff time.Duration
}

// Client invokes the oracle per batch.
type Client struct {
	oracle    Oracle
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
}

// NewClient creates an enrichment client over the given oracle.
func NewClient(oracle Oracle, config Config, logger *log.Logger, collector *metrics.Collector) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 45 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.QuotaBackoff <= 0 {
		config.QuotaBackoff = 5 * time.Second
	}
	return &Client{oracle: oracle, config: config, logger: logger, collector: collector}
}

// Analyze invokes the oracle for one batch and classifies the outcome.
// Never returns an error: exhausted retries produce Status=Failure
// with the last error, surfaced later in the run summary.
func (c *Client) Analyze(ctx context.Context, b types.Batch) types.EnrichmentResult {
	if b.Empty() {
		return types.EnrichmentResult{BatchID: b.ID, Status: types.EnrichmentFailure,
			Message: "empty batch"}
	}

	req := Request{
		BatchID:     b.ID,
		Prompt:      BuildPrompt(b, c.config.MaxFindingChars),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	report, err := c.generateWithRetry(ctx, req)
	if err != nil {
		c.collector.IncOracleFailures()
		c.logger.Warn("enrichment failed", map[string]any{
			"batch_id": b.ID,
			"error":    err.Error(),
		})
		return types.EnrichmentResult{
			BatchID: b.ID,
			Status:  types.EnrichmentFailure,
			Message: err.Error(),
		}
	}

	if missing := ValidateReport(report); len(missing) > 0 {
		c.collector.IncOraclePartials()
		c.logger.Warn("enrichment response missing sections", map[string]any{
			"batch_id": b.ID,
			"missing":  missing,
		})
		return types.EnrichmentResult{
			BatchID:    b.ID,
			ReportText: report,
			Status:     types.EnrichmentPartialFailure,
			Message:    fmt.Sprintf("response missing sections: %s", strings.Join(missing, ", ")),
		}
	}

	return types.EnrichmentResult{
		BatchID:    b.ID,
		ReportText: report,
		Status:     types.EnrichmentSuccess,
	}
}

// generateWithRetry runs the bounded retry loop. Quota failures back
// off longer than transient ones; malformed responses and terminal
// provider errors fail immediately.
func (c *Client) generateWithRetry(ctx context.Context, req Request) (string, error) {
	var lastErr error
	attempts := 1 + c.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", faults.ErrTimeout, err)
		}

		if i > 0 {
			c.collector.IncOracleRetries()
			base := c.config.RetryBackoff
			if errors.Is(lastErr, faults.ErrQuotaExceeded) {
				base = c.config.QuotaBackoff
			}
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: canceled during backoff: %v", faults.ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
		}

		c.collector.IncOracleCalls()
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		report, err := c.oracle.Generate(attemptCtx, req)
		cancel()

		if err == nil {
			return report, nil
		}

		lastErr = faults.Wrap(err, "invoke", req.BatchID)
		if errors.Is(lastErr, faults.ErrMalformedResponse) || !faults.Retryable(lastErr) {
			return "", lastErr
		}
		// Attempt timeout with the parent context still live is
		// retryable; parent cancellation surfaces at loop top.
	}

	return "", fmt.Errorf("oracle failed after %d attempts: %w", attempts, lastErr)
}
