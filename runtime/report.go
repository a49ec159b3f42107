package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// RunReport is the structured JSON report written by --report and
// archived per run. All fields use json tags matching the documented
// report contract.
type RunReport struct {
	RunID             string            `json:"run_id"`
	Attempt           int               `json:"attempt"`
	WindowStart       string            `json:"window_start"`
	WindowEnd         string            `json:"window_end"`
	Status            types.RunStatus   `json:"status"`
	FindingsCount     int               `json:"findings_count"`
	BatchesCount      int               `json:"batches_count"`
	DeliveredCount    int               `json:"delivered_count"`
	Failures          []types.Failure   `json:"failures,omitempty"`
	WatermarkAdvanced bool              `json:"watermark_advanced"`
	DurationMs        int64             `json:"duration_ms"`
	Metrics           *metrics.Snapshot `json:"metrics"`
}

// BuildRunReport composes a RunReport from a run result and a metrics
// snapshot.
func BuildRunReport(result *RunResult, meta *types.RunMeta, snap metrics.Snapshot) *RunReport {
	s := result.Summary
	report := &RunReport{
		RunID:             s.RunID,
		Attempt:           meta.Attempt,
		Status:            s.Status,
		FindingsCount:     s.FindingsCount,
		BatchesCount:      s.BatchesCount,
		DeliveredCount:    s.DeliveredCount,
		Failures:          s.Failures,
		WatermarkAdvanced: s.WatermarkAdvanced,
		DurationMs:        s.Duration.Milliseconds(),
		Metrics:           &snap,
	}
	if !s.Window.IsZero() {
		report.WindowStart = s.Window.Start.UTC().Format(time.RFC3339Nano)
		report.WindowEnd = s.Window.End.UTC().Format(time.RFC3339Nano)
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stderr.Write(data)
		if err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer (for testing).
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
