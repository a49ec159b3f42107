package enrich

import (
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lookout/types"
)

func TestBuildPrompt_RendersFindings(t *testing.T) {
	batch := types.Batch{
		ID: "b1",
		Findings: []types.Finding{
			{
				Pattern: "outdated",
				Record: types.LogRecord{
					Timestamp: time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC),
					SourceID:  "app-1",
					RawText:   "module foo is outdated",
				},
			},
			{
				Pattern: "version mismatch",
				Record: types.LogRecord{
					Timestamp: time.Date(2026, 8, 19, 13, 0, 0, 0, time.UTC),
					SourceID:  "app-2",
					RawText:   "version mismatch for bar",
				},
			},
		},
	}

	prompt := BuildPrompt(batch, 0)
	for _, want := range []string{
		"module foo is outdated",
		"version mismatch for bar",
		`pattern="outdated"`,
		"source=app-1",
		"2026-08-19T12:00:00Z",
		"Verdict", "Urgency", "Remediation", "Follow-up",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(prompt, "\n1. ") || !strings.Contains(prompt, "\n2. ") {
		t.Error("expected numbered findings")
	}
}

func TestBuildPrompt_TruncatesLongRawText(t *testing.T) {
	long := strings.Repeat("x", 500)
	batch := types.Batch{
		ID: "b1",
		Findings: []types.Finding{{
			Pattern: "p",
			Record:  types.LogRecord{RawText: long},
		}},
	}

	prompt := BuildPrompt(batch, 100)
	if strings.Contains(prompt, long) {
		t.Error("expected raw text truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("x", 100)+" …[truncated]") {
		t.Error("expected truncation marker after the cap")
	}

	// Zero cap disables truncation.
	if full := BuildPrompt(batch, 0); !strings.Contains(full, long) {
		t.Error("expected full raw text when cap is zero")
	}
}

func TestValidateReport(t *testing.T) {
	for _, tc := range []struct {
		name    string
		report  string
		missing []string
	}{
		{
			"all sections present",
			"Verdict: tp\nUrgency: low\nRemediation: fix\nFollow-up: check",
			nil,
		},
		{
			"case insensitive",
			"VERDICT: tp\nurgency: low\nremediation: fix\nFOLLOW-UP: check",
			nil,
		},
		{
			"two missing",
			"Verdict: tp\nUrgency: low",
			[]string{"Remediation", "Follow-up"},
		},
		{
			"empty report",
			"",
			[]string{"Verdict", "Urgency", "Remediation", "Follow-up"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateReport(tc.report)
			if len(got) != len(tc.missing) {
				t.Fatalf("expected %v, got %v", tc.missing, got)
			}
			for i := range got {
				if got[i] != tc.missing[i] {
					t.Errorf("expected %v, got %v", tc.missing, got)
					break
				}
			}
		})
	}
}
