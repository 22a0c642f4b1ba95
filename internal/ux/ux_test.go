package ux

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/gate"
	"github.com/felixgeelhaar/cigate/internal/health"
	"github.com/felixgeelhaar/cigate/internal/history"
	"github.com/felixgeelhaar/cigate/internal/orchestrator"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/schedule"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

func sampleReport() *orchestrator.Report {
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	return &orchestrator.Report{
		Start: start,
		End:   start.Add(90 * time.Second),
		Workflows: []orchestrator.WorkflowResult{{
			RunID:    "run-1",
			Workflow: "tests",
			Status:   pipeline.StatusFailure,
			Start:    start,
			End:      start.Add(90 * time.Second),
			Jobs: []*pipeline.JobResult{
				{
					Instance: workflow.Instance{Name: "tests (3.7)", Params: map[string]string{"python-version": "3.7"}},
					Status:   pipeline.StatusFailure,
					Start:    start,
					End:      start.Add(80 * time.Second),
					Err:      errors.New("boom"),
					Steps: []pipeline.StepResult{
						{Name: "Run tests", Status: pipeline.StatusFailure, Err: errors.New("[TEST-001] 2 tests failed\n\nSuggestions:\n  • rerun")},
					},
				},
				{
					Instance: workflow.Instance{Name: "tests (3.8)", Params: map[string]string{"python-version": "3.8"}},
					Status:   pipeline.StatusSuccess,
					Start:    start,
					End:      start.Add(70 * time.Second),
				},
			},
		}},
	}
}

func TestRunSummaryText(t *testing.T) {
	var buf bytes.Buffer
	f, err := NewFormatter("text", &FormatterOptions{Writer: &buf})
	require.NoError(t, err)
	require.NoError(t, f.Format(RunSummary{Report: sampleReport()}))

	out := buf.String()
	assert.Contains(t, out, "tests failure")
	assert.Contains(t, out, "✗ tests (3.7)")
	assert.Contains(t, out, "✓ tests (3.8)")
	assert.Contains(t, out, "[TEST-001] 2 tests failed")
	assert.NotContains(t, out, "Suggestions")
	assert.Contains(t, out, "1/2 jobs passed in 1m30s")
	// a buffer is not a terminal
	assert.NotContains(t, out, "\x1b[")
}

func TestRunSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	f, err := NewFormatter("json", &FormatterOptions{Writer: &buf, Compact: true})
	require.NoError(t, err)
	require.NoError(t, f.Format(RunSummary{Report: sampleReport()}))

	var got []struct {
		RunID string `json:"run_id"`
		Jobs  []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].RunID)
	require.Len(t, got[0].Jobs, 2)
	assert.Equal(t, "failure", got[0].Jobs[0].Status)
	assert.Equal(t, "boom", got[0].Jobs[0].Error)
}

func TestGateSummary(t *testing.T) {
	report := &gate.Report{
		Checks: []gate.CheckResult{
			{Name: "mypy", Passed: true},
			{Name: "flake8-lib", Passed: false, Message: "3 findings", Findings: []analysis.Finding{
				{File: "a.py", Line: 1, Col: 1, Severity: "error", Code: "T001", Message: "print found"},
				{File: "b.py", Line: 2, Col: 1, Severity: "error", Code: "I100", Message: "import order"},
				{File: "c.py", Line: 3, Col: 1, Severity: "error", Code: "I201", Message: "missing newline"},
			}},
		},
		TotalPassed: 1,
		TotalFailed: 1,
	}

	out := GateSummary{Report: report, MaxFindings: 2}.Render(NewStyles(&bytes.Buffer{}))
	assert.Contains(t, out, "mypy passed")
	assert.Contains(t, out, "flake8-lib failed")
	assert.Contains(t, out, "a.py:1:1: error: print found [T001]")
	assert.Contains(t, out, "... 1 more")
	assert.NotContains(t, out, "c.py")
	assert.Contains(t, out, "1 passed, 1 failed")
}

func TestHealthSummary(t *testing.T) {
	report := &health.Report{
		Status: health.StatusUnhealthy,
		Results: []health.Named{
			{Name: "python-3.8", Result: health.Healthy("python3.8 3.8.18")},
			{Name: "python-tools", Result: health.Unhealthy("missing: mypy").WithDetail("suggestion", "python -m pip install mypy")},
		},
	}
	out := HealthSummary{Report: report}.Render(NewStyles(&bytes.Buffer{}))
	assert.Contains(t, out, "python-3.8")
	assert.Contains(t, out, "missing: mypy")
	assert.Contains(t, out, "python -m pip install mypy")
	assert.Contains(t, out, "overall: unhealthy")
}

func TestHistoryTable(t *testing.T) {
	s := NewStyles(&bytes.Buffer{})
	assert.Equal(t, "no runs recorded", HistoryTable{}.Render(s))

	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	out := HistoryTable{Runs: []history.RunRecord{{
		ID: "r", Workflow: "regression", Event: "schedule", Status: "failure",
		Start: start, End: start.Add(2 * time.Minute),
		Jobs: []history.JobRecord{{Name: "regression (3.8)", Status: "failure"}, {Name: "ok", Status: "success"}},
	}}}.Render(s)
	assert.Contains(t, out, "2026-03-02 07:00:00")
	assert.Contains(t, out, "regression (3.8) failure")
	assert.NotContains(t, out, "ok success")
}

func TestWorkflowList(t *testing.T) {
	wf, err := workflow.Parse([]byte(`
name: tests
on:
  push:
    branches: [main, development]
  schedule:
    - cron: "0 07 * * *"
jobs:
  tests:
    strategy:
      fail-fast: false
      max-parallel: 2
      matrix:
        python-version: ["3.7", "3.8"]
    steps:
      - run: "true"
`), "tests.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"push [development main]", `schedule "0 07 * * *"`}, Triggers(wf))

	out := WorkflowList{Workflows: []*workflow.Workflow{wf}}.Render(NewStyles(&bytes.Buffer{}))
	assert.Contains(t, out, "(fail-fast false, max-parallel 2)")
	assert.Contains(t, out, "3.7")
}

func TestScheduleList(t *testing.T) {
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	list := ScheduleList{
		Now: now,
		Upcoming: []schedule.Upcoming{
			{Workflow: "regression", Spec: "0 07 * * *", At: now.Add(2 * time.Hour)},
		},
	}

	out := list.Render(NewStyles(&bytes.Buffer{}))
	assert.Contains(t, out, "2026-03-02 07:00")
	assert.Contains(t, out, "regression")
	assert.Contains(t, out, "2h0m0s")

	var buf bytes.Buffer
	f, err := NewFormatter("json", &FormatterOptions{Writer: &buf})
	require.NoError(t, err)
	require.NoError(t, f.Format(list))
	assert.Contains(t, buf.String(), `"next": "2026-03-02T07:00:00Z"`)

	empty := ScheduleList{}.Render(NewStyles(&bytes.Buffer{}))
	assert.Contains(t, empty, "no scheduled workflows")
}

func TestNewFormatterUnknown(t *testing.T) {
	_, err := NewFormatter("xml", nil)
	assert.Error(t, err)

	var buf bytes.Buffer
	f, err := NewFormatter("", &FormatterOptions{Writer: &buf})
	require.NoError(t, err)
	assert.Error(t, f.Format(42))
	require.NoError(t, f.Format("plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "autoPyTorch", "pipeline")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	// the state dir wins over an outer repository
	inner := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(filepath.Join(inner, ".cigate"), 0o755))
	got, err = FindProjectRoot(inner)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}
