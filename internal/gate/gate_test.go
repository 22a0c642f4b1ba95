package gate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/errors"
)

func passing(name string) Check {
	return Check{Name: name, Run: func(context.Context) (*analysis.Result, error) {
		return &analysis.Result{Name: name}, nil
	}}
}

func failing(name string, code errors.ErrorCode, findings ...analysis.Finding) Check {
	return Check{Name: name, Run: func(context.Context) (*analysis.Result, error) {
		return &analysis.Result{Name: name, ExitCode: 1, Findings: findings},
			errors.New(code, name+" reported violations")
	}}
}

var unreachable = analysis.Finding{
	Tool: "mypy", File: "autoPyTorch/a.py", Line: 8, Col: 9,
	Severity: analysis.SeverityError, Code: "unreachable", Message: "Statement is unreachable",
}

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantPassed bool
		wantFailed int
		wantCode   errors.ErrorCode
	}{
		{
			name:       "all pass",
			checks:     []Check{passing("mypy"), passing("flake8-lib"), passing("flake8-test")},
			wantPassed: true,
		},
		{
			name:       "type check fails, lint still runs",
			checks:     []Check{failing("mypy", errors.ErrCodeTypeCheckFailed, unreachable), passing("flake8-lib"), passing("flake8-test")},
			wantFailed: 1,
			wantCode:   errors.ErrCodeTypeCheckFailed,
		},
		{
			name:       "each failing check fails the gate",
			checks:     []Check{passing("mypy"), failing("flake8-lib", errors.ErrCodeStyleFailed), failing("flake8-test", errors.ErrCodeStyleFailed)},
			wantFailed: 2,
			wantCode:   errors.ErrCodeStyleFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Run(context.Background(), tt.checks...)

			require.Len(t, report.Checks, len(tt.checks))
			for i, c := range tt.checks {
				assert.Equal(t, c.Name, report.Checks[i].Name, "order preserved")
			}
			assert.Equal(t, tt.wantPassed, report.AllPassed)
			assert.Equal(t, tt.wantFailed, report.TotalFailed)
			assert.Equal(t, len(tt.checks)-tt.wantFailed, report.TotalPassed)

			if tt.wantPassed {
				assert.NoError(t, report.Err())
				return
			}
			assert.True(t, errors.HasCode(report.Err(), tt.wantCode))
		})
	}
}

func TestRunFailedResultWithoutError(t *testing.T) {
	check := Check{Name: "flake8-lib", Run: func(context.Context) (*analysis.Result, error) {
		return &analysis.Result{ExitCode: 1}, nil
	}}
	report := Run(context.Background(), check)
	assert.False(t, report.AllPassed)
	assert.Error(t, report.Err())
}

func TestToSARIF(t *testing.T) {
	lint := analysis.Finding{Tool: "flake8", File: "test/test_a.py", Line: 3, Col: 1,
		Severity: analysis.SeverityError, Code: "T001", Message: "print found."}
	report := Run(context.Background(),
		failing("mypy", errors.ErrCodeTypeCheckFailed, unreachable),
		failing("flake8-test", errors.ErrCodeStyleFailed, lint),
	)

	sarif := report.ToSARIF()
	assert.Equal(t, "2.1.0", sarif.Version)
	require.Len(t, sarif.Runs, 2)
	assert.Equal(t, "mypy", sarif.Runs[0].Tool.Driver.Name)

	res := sarif.Runs[0].Results[0]
	assert.Equal(t, "unreachable", res.RuleID)
	assert.Equal(t, "error", res.Level)
	assert.Equal(t, "autoPyTorch/a.py", res.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.Equal(t, 8, res.Locations[0].PhysicalLocation.Region.StartLine)

	path := filepath.Join(t.TempDir(), "gate.sarif")
	require.NoError(t, SaveSARIF(sarif, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.1.0", decoded["version"])
	assert.Contains(t, string(data), `"ruleId": "T001"`)
}
