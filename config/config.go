package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Defaults applied by Validate when fields are unset.
const (
	DefaultLookback        = 24 * time.Hour
	DefaultRunTimeout      = 10 * time.Minute
	DefaultFetchPageSize   = 100
	DefaultFetchRetries    = 2
	DefaultFetchParallel   = 2
	DefaultMaxFindings     = 20
	DefaultMaxBatchBytes   = 16 * 1024
	DefaultOracleTimeout   = 45 * time.Second
	DefaultOracleRetries   = 3
	DefaultOracleParallel  = 4
	DefaultMaxFindingChars = 2048
	DefaultMaxTokens       = 1024
	DefaultSinkTimeout     = 10 * time.Second
	DefaultSinkRetries     = 3
	DefaultSubject         = "Log pattern findings report"
)

// Config represents a lookout.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	// Patterns maps stable pattern identifiers to the substring
	// patterns scanned for in the log store.
	Patterns map[string]string `yaml:"patterns"`
	// LogGroup is the log store group/stream set to query.
	LogGroup string `yaml:"log_group"`
	// Lookback is the default window length when no watermark exists.
	Lookback Duration `yaml:"lookback"`
	// RunTimeout bounds one whole invocation, aligned to the host's
	// execution time budget.
	RunTimeout Duration `yaml:"run_timeout"`

	Fetch     FetchConfig     `yaml:"fetch"`
	Batch     BatchConfig     `yaml:"batch"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Sink      SinkConfig      `yaml:"sink"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Archive   ArchiveConfig   `yaml:"archive"`
	AWS       AWSConfig       `yaml:"aws"`
}

// FetchConfig holds log store query settings.
type FetchConfig struct {
	// PageSize is the per-page event limit for paginated queries.
	PageSize int `yaml:"page_size"`
	// Retries is the per-page retry attempt count.
	Retries int `yaml:"retries"`
	// Parallel is the bounded concurrency across pattern queries.
	Parallel int `yaml:"parallel"`
}

// BatchConfig bounds batch size to respect the oracle's input limits.
type BatchConfig struct {
	// MaxFindings is the item-count limit per batch.
	MaxFindings int `yaml:"max_findings"`
	// MaxBytes is the serialized-size limit per batch.
	MaxBytes int `yaml:"max_bytes"`
}

// OracleConfig holds enrichment oracle settings.
type OracleConfig struct {
	// ModelID is the hosted model identifier.
	ModelID string `yaml:"model_id"`
	// MaxTokens is the sampling output-length cap.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// Timeout bounds a single oracle attempt.
	Timeout Duration `yaml:"timeout"`
	// Retries is the retry attempt cap on transient failures.
	Retries int `yaml:"retries"`
	// Parallel is the bounded concurrency across batch calls.
	Parallel int `yaml:"parallel"`
	// MaxFindingChars truncates a single finding's raw text in the
	// prompt so one oversized record cannot blow the context budget.
	MaxFindingChars int `yaml:"max_finding_chars"`
}

// SinkConfig selects and configures the notification sink.
type SinkConfig struct {
	// Type is "sns" or "webhook".
	Type string `yaml:"type"`
	// TopicARN is the SNS topic (sns type).
	TopicARN string `yaml:"topic_arn,omitempty"`
	// URL is the HTTP endpoint (webhook type).
	URL string `yaml:"url,omitempty"`
	// Headers are custom HTTP headers (webhook type).
	Headers map[string]string `yaml:"headers,omitempty"`
	// Subject is the fixed notification subject line.
	Subject string `yaml:"subject,omitempty"`
	// Timeout is the per-publish timeout.
	Timeout Duration `yaml:"timeout,omitempty"`
	// Retries is the publish retry attempt count.
	Retries *int `yaml:"retries,omitempty"`
}

// WatermarkConfig selects and configures the durable watermark store.
type WatermarkConfig struct {
	// Backend is "dynamodb", "redis", or "memory" (tests only).
	Backend string `yaml:"backend"`
	// Table is the DynamoDB table name (dynamodb backend).
	Table string `yaml:"table,omitempty"`
	// Key is the watermark item key within the table or keyspace.
	Key string `yaml:"key,omitempty"`
	// URL is the Redis connection URL (redis backend).
	URL string `yaml:"url,omitempty"`
}

// ArchiveConfig configures optional run report archival.
type ArchiveConfig struct {
	// Bucket is the S3 bucket for archived reports. Empty disables
	// archival.
	Bucket string `yaml:"bucket,omitempty"`
	// Prefix is the key prefix within the bucket.
	Prefix string `yaml:"prefix,omitempty"`
}

// AWSConfig holds shared AWS client settings.
type AWSConfig struct {
	// Region overrides the default credential chain's region.
	Region string `yaml:"region,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks required fields and applies defaults in place.
func (c *Config) Validate() error {
	if len(c.Patterns) == 0 {
		return errors.New("at least one pattern is required")
	}
	for id, p := range c.Patterns {
		if id == "" || p == "" {
			return fmt.Errorf("pattern entries must have non-empty id and pattern (id=%q)", id)
		}
	}
	if c.LogGroup == "" {
		return errors.New("log_group is required")
	}
	if c.Lookback.Duration <= 0 {
		c.Lookback.Duration = DefaultLookback
	}
	if c.RunTimeout.Duration <= 0 {
		c.RunTimeout.Duration = DefaultRunTimeout
	}

	if c.Fetch.PageSize <= 0 {
		c.Fetch.PageSize = DefaultFetchPageSize
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must be >= 0, got %d", c.Fetch.Retries)
	}
	if c.Fetch.Retries == 0 {
		c.Fetch.Retries = DefaultFetchRetries
	}
	if c.Fetch.Parallel <= 0 {
		c.Fetch.Parallel = DefaultFetchParallel
	}

	if c.Batch.MaxFindings <= 0 {
		c.Batch.MaxFindings = DefaultMaxFindings
	}
	if c.Batch.MaxBytes <= 0 {
		c.Batch.MaxBytes = DefaultMaxBatchBytes
	}

	if c.Oracle.ModelID == "" {
		return errors.New("oracle.model_id is required")
	}
	if c.Oracle.MaxTokens <= 0 {
		c.Oracle.MaxTokens = DefaultMaxTokens
	}
	if c.Oracle.Timeout.Duration <= 0 {
		c.Oracle.Timeout.Duration = DefaultOracleTimeout
	}
	if c.Oracle.Retries <= 0 {
		c.Oracle.Retries = DefaultOracleRetries
	}
	if c.Oracle.Parallel <= 0 {
		c.Oracle.Parallel = DefaultOracleParallel
	}
	if c.Oracle.MaxFindingChars <= 0 {
		c.Oracle.MaxFindingChars = DefaultMaxFindingChars
	}

	switch c.Sink.Type {
	case "sns":
		if c.Sink.TopicARN == "" {
			return errors.New("sink.topic_arn is required for sns sink")
		}
	case "webhook":
		if c.Sink.URL == "" {
			return errors.New("sink.url is required for webhook sink")
		}
	case "":
		return errors.New("sink.type is required (sns or webhook)")
	default:
		return fmt.Errorf("unknown sink.type %q", c.Sink.Type)
	}
	if c.Sink.Subject == "" {
		c.Sink.Subject = DefaultSubject
	}
	if c.Sink.Timeout.Duration <= 0 {
		c.Sink.Timeout.Duration = DefaultSinkTimeout
	}

	switch c.Watermark.Backend {
	case "dynamodb":
		if c.Watermark.Table == "" {
			return errors.New("watermark.table is required for dynamodb backend")
		}
	case "redis":
		if c.Watermark.URL == "" {
			return errors.New("watermark.url is required for redis backend")
		}
	case "memory":
		// tests and local dry runs only
	case "":
		return errors.New("watermark.backend is required (dynamodb, redis, or memory)")
	default:
		return fmt.Errorf("unknown watermark.backend %q", c.Watermark.Backend)
	}
	if c.Watermark.Key == "" {
		c.Watermark.Key = "lookout:watermark"
	}

	return nil
}

// PatternIDs returns the configured pattern identifiers in sorted
// order. Sorting ensures deterministic fetch order across runs.
func (c *Config) PatternIDs() []string {
	ids := make([]string, 0, len(c.Patterns))
	for id := range c.Patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
