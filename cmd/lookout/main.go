// Command lookout executes one scheduled tick of the log-pattern
// enrichment pipeline: scan a log window for configured patterns,
// batch the findings, enrich each batch through the oracle, and
// deliver the reports to the notification sink.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lookout/archive"
	"github.com/justapithecus/lookout/batch"
	"github.com/justapithecus/lookout/config"
	"github.com/justapithecus/lookout/dispatch"
	"github.com/justapithecus/lookout/enrich"
	"github.com/justapithecus/lookout/fetch"
	"github.com/justapithecus/lookout/log"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/runtime"
	"github.com/justapithecus/lookout/types"
	"github.com/justapithecus/lookout/watermark"
)

// Exit codes returned to the invoking host.
const (
	exitSuccess        = 0
	exitPartialFailure = 1
	exitAborted        = 2
	exitUsage          = 3
)

func main() {
	app := &cli.App{
		Name:  "lookout",
		Usage: "run one tick of the log-pattern enrichment pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "path to lookout.yaml",
				Required: true,
			},
			&cli.TimestampFlag{
				Name:   "window-start",
				Usage:  "backfill override window start (RFC3339)",
				Layout: time.RFC3339,
			},
			&cli.TimestampFlag{
				Name:   "window-end",
				Usage:  "backfill override window end (RFC3339)",
				Layout: time.RFC3339,
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "write the JSON run report to this path ('-' for stderr)",
			},
			&cli.IntFlag{
				Name:  "attempt",
				Usage: "attempt number for this window (set by the scheduler on retries)",
				Value: 1,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}

	override, err := overrideWindow(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	runMeta := &types.RunMeta{
		RunID:   uuid.New().String(),
		Attempt: c.Int("attempt"),
	}
	logger := log.NewLogger(runMeta)
	collector := metrics.NewCollector(cfg.Sink.Type, cfg.Watermark.Backend, runMeta.RunID)

	ctx := context.Background()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load AWS config: %v", err), exitUsage)
	}

	store, closeStore, err := buildWatermarkStore(cfg, awsCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer closeStore()

	logStore, err := fetch.NewCloudWatchStore(cloudwatchlogs.NewFromConfig(awsCfg), cfg.LogGroup)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	oracle, err := enrich.NewBedrockOracle(bedrockruntime.NewFromConfig(awsCfg), cfg.Oracle.ModelID)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	sink, err := buildSink(cfg, awsCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = sink.Close() }()

	orchestrator, err := runtime.NewOrchestrator(&runtime.RunConfig{
		RunMeta:  runMeta,
		Patterns: cfg.Patterns,
		Windows:  watermark.NewTracker(store, cfg.Lookback.Duration),
		Override: override,
		Fetcher: fetch.NewFetcher(logStore, fetch.Config{
			PageSize: cfg.Fetch.PageSize,
			Retries:  cfg.Fetch.Retries,
			Parallel: cfg.Fetch.Parallel,
		}, logger, collector),
		Batcher: batch.NewBatcher(batch.Config{
			MaxFindings: cfg.Batch.MaxFindings,
			MaxBytes:    cfg.Batch.MaxBytes,
		}, collector),
		Enricher: enrich.NewClient(oracle, enrich.Config{
			Timeout:         cfg.Oracle.Timeout.Duration,
			Retries:         cfg.Oracle.Retries,
			MaxTokens:       cfg.Oracle.MaxTokens,
			Temperature:     cfg.Oracle.Temperature,
			MaxFindingChars: cfg.Oracle.MaxFindingChars,
		}, logger, collector),
		Dispatcher:     dispatch.NewDispatcher(sink, cfg.Sink.Subject, logger, collector),
		EnrichParallel: cfg.Oracle.Parallel,
		RunTimeout:     cfg.RunTimeout.Duration,
		Collector:      collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	result, runErr := orchestrator.Execute(ctx)
	report := runtime.BuildRunReport(result, runMeta, collector.Snapshot())

	if reportPath := c.String("report"); reportPath != "" {
		if err := runtime.WriteRunReport(report, reportPath); err != nil {
			logger.Sugar().Errorf("failed to write report: %v", err)
		}
	}

	if cfg.Archive.Bucket != "" && !result.Summary.Window.IsZero() {
		archiver, err := archive.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			logger.Sugar().Errorf("failed to build archiver: %v", err)
		} else if err := archiver.Archive(ctx, result.Summary.Window.Day(), runMeta.RunID, report); err != nil {
			logger.Sugar().Errorf("failed to archive report: %v", err)
		}
	}

	switch {
	case runErr != nil || result.Summary.Status == types.RunAborted:
		return cli.Exit("", exitAborted)
	case result.Summary.Status == types.RunPartialFailure:
		return cli.Exit("", exitPartialFailure)
	default:
		return nil
	}
}

// overrideWindow parses the backfill flags. Both bounds must be given
// together.
func overrideWindow(c *cli.Context) (*types.Window, error) {
	start := c.Timestamp("window-start")
	end := c.Timestamp("window-end")
	if start == nil && end == nil {
		return nil, nil
	}
	if start == nil || end == nil {
		return nil, fmt.Errorf("backfill requires both --window-start and --window-end")
	}
	w := &types.Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// buildWatermarkStore constructs the configured store backend.
func buildWatermarkStore(cfg *config.Config, awsCfg aws.Config) (watermark.Store, func(), error) {
	noop := func() {}
	switch cfg.Watermark.Backend {
	case "dynamodb":
		store, err := watermark.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Watermark.Table, cfg.Watermark.Key)
		return store, noop, err
	case "redis":
		store, err := watermark.NewRedisStore(cfg.Watermark.URL, cfg.Watermark.Key)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case "memory":
		return watermark.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown watermark backend %q", cfg.Watermark.Backend)
	}
}

// buildSink constructs the configured notification sink.
func buildSink(cfg *config.Config, awsCfg aws.Config) (dispatch.Sink, error) {
	retries := -1
	if cfg.Sink.Retries != nil {
		retries = *cfg.Sink.Retries
	}
	switch cfg.Sink.Type {
	case "sns":
		snsCfg := dispatch.SNSConfig{
			TopicARN: cfg.Sink.TopicARN,
			Timeout:  cfg.Sink.Timeout.Duration,
		}
		if retries >= 0 {
			snsCfg.Retries = retries
		} else {
			snsCfg.Retries = dispatch.DefaultSNSRetries
		}
		return dispatch.NewSNSSink(sns.NewFromConfig(awsCfg), snsCfg)
	case "webhook":
		whCfg := dispatch.WebhookConfig{
			URL:     cfg.Sink.URL,
			Headers: cfg.Sink.Headers,
			Timeout: cfg.Sink.Timeout.Duration,
		}
		if retries >= 0 {
			whCfg.Retries = retries
		} else {
			whCfg.Retries = dispatch.DefaultWebhookRetries
		}
		return dispatch.NewWebhookSink(whCfg)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}
