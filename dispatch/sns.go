package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/justapithecus/lookout/faults"
)

// DefaultSNSTimeout is the default per-publish timeout.
const DefaultSNSTimeout = 10 * time.Second

// DefaultSNSRetries is the default number of retry attempts.
const DefaultSNSRetries = 3

// SNSAPI is the SNS client surface used by the sink.
// Satisfied by *sns.Client; tests inject stubs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig configures the SNS sink.
type SNSConfig struct {
	// TopicARN is the target topic (required).
	TopicARN string
	// Timeout is the per-publish timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on retryable failures
	// (default 3).
	Retries int
}

// SNSSink publishes reports to an SNS topic. The topic's own
// subscription fan-out (email, SMS) is an external concern.
type SNSSink struct {
	client  SNSAPI
	config  SNSConfig
	backoff time.Duration
}

// NewSNSSink creates an SNS sink from the given config.
func NewSNSSink(client SNSAPI, cfg SNSConfig) (*SNSSink, error) {
	if cfg.TopicARN == "" {
		return nil, errors.New("sns sink requires a topic ARN")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSNSTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &SNSSink{client: client, config: cfg, backoff: 500 * time.Millisecond}, nil
}

// Publish sends subject+body to the topic, retrying retryable failures
// with exponential backoff. Returns the SNS message id on acceptance.
func (s *SNSSink) Publish(ctx context.Context, subject, body string) (string, error) {
	var lastErr error
	attempts := 1 + s.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("sns: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * s.backoff
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("sns: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		out, err := s.client.Publish(publishCtx, &sns.PublishInput{
			TopicArn: aws.String(s.config.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(body),
		})
		cancel()

		if err == nil {
			return aws.ToString(out.MessageId), nil
		}

		lastErr = faults.Wrap(err, "publish", "")
		if !faults.Retryable(lastErr) {
			return "", fmt.Errorf("sns: non-retriable error: %w", lastErr)
		}
	}

	return "", fmt.Errorf("sns: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases sink resources. The SNS client holds no connections
// that need explicit shutdown.
func (s *SNSSink) Close() error {
	return nil
}

var _ Sink = (*SNSSink)(nil)
