package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

func TestTypeCheckCommand(t *testing.T) {
	got := strings.Join(TypeCheckCommand(DefaultTypeCheckConfig()), " ")
	assert.Equal(t, "mypy --show-column-numbers --show-error-codes --no-color-output "+
		"--warn-redundant-casts --warn-return-any --warn-unreachable "+
		"--exclude autoPyTorch/ensemble/ autoPyTorch", got)
}

func TestParseTypeCheck(t *testing.T) {
	tests := []struct {
		name         string
		output       string
		wantCode     string
		wantSeverity string
	}{
		{
			name:         "return any",
			output:       `autoPyTorch/utils/common.py:42:5: error: Returning Any from function declared to return "int"  [no-any-return]`,
			wantCode:     "no-any-return",
			wantSeverity: SeverityError,
		},
		{
			name:         "unreachable",
			output:       `autoPyTorch/pipeline/base.py:10:9: error: Statement is unreachable  [unreachable]`,
			wantCode:     "unreachable",
			wantSeverity: SeverityError,
		},
		{
			name:         "return any reported as note",
			output:       `autoPyTorch/a.py:3: note: Returning Any from function declared to return "str"`,
			wantCode:     "no-any-return",
			wantSeverity: SeverityError,
		},
		{
			name:         "unreachable reported as warning",
			output:       `autoPyTorch/a.py:7: warning: Statement is unreachable`,
			wantCode:     "unreachable",
			wantSeverity: SeverityError,
		},
		{
			name:         "plain note stays note",
			output:       `autoPyTorch/a.py:7:1: note: See https://mypy.readthedocs.io`,
			wantCode:     "",
			wantSeverity: SeverityNote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := ParseTypeCheck(tt.output + "\n")
			require.Len(t, findings, 1)
			assert.Equal(t, tt.wantCode, findings[0].Code)
			assert.Equal(t, tt.wantSeverity, findings[0].Severity)
		})
	}
}

func TestParseTypeCheckIgnoresSummary(t *testing.T) {
	out := "autoPyTorch/b.py:2:1: error: Name \"x\" is not defined  [name-defined]\n" +
		"autoPyTorch/a.py:9:3: error: Redundant cast to \"int\"  [redundant-cast]\n" +
		"Found 2 errors in 2 files (checked 120 source files)\n"
	findings := ParseTypeCheck(out)
	require.Len(t, findings, 2)
	assert.Equal(t, "autoPyTorch/a.py", findings[0].File, "sorted by file")
	assert.Equal(t, 9, findings[0].Line)
	assert.Equal(t, 3, findings[0].Col)
	assert.Equal(t, `Name "x" is not defined`, findings[1].Message)
}

func fakeRunner(outputs map[string]*exec.Result) exec.Runner {
	return exec.RunnerFunc(func(_ context.Context, step exec.Step) (*exec.Result, error) {
		if res, ok := outputs[step.ID]; ok {
			return res, nil
		}
		return &exec.Result{}, nil
	})
}

func TestTypeCheckFlagsReturnAnyAndUnreachable(t *testing.T) {
	runner := fakeRunner(map[string]*exec.Result{
		"typecheck": {
			ExitCode: 1,
			Stdout: "autoPyTorch/a.py:3:5: error: Returning Any from function declared to return \"int\"  [no-any-return]\n" +
				"autoPyTorch/a.py:8:9: error: Statement is unreachable  [unreachable]\n",
		},
	})

	result, err := TypeCheck(context.Background(), runner, DefaultTypeCheckConfig(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTypeCheckFailed))
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Len(t, result.Errors(), 2)
	assert.False(t, result.Passed())
}

func TestTypeCheckPasses(t *testing.T) {
	runner := fakeRunner(map[string]*exec.Result{"typecheck": {Stdout: "Success: no issues found in 120 source files\n"}})
	result, err := TypeCheck(context.Background(), runner, DefaultTypeCheckConfig(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Passed())
}

func TestParseLint(t *testing.T) {
	out := "test/test_a.py:3:1: T001 print found.\n" +
		"autoPyTorch/x.py:1:1: I100 Import statements are in the wrong order.\n" +
		"garbage line\n"
	findings := ParseLint(out)
	require.Len(t, findings, 2)
	assert.Equal(t, "I100", findings[0].Code)
	assert.Equal(t, "T001", findings[1].Code)
	assert.Equal(t, "print found.", findings[1].Message)
	assert.Equal(t, SeverityError, findings[1].Severity)
}

func TestMissingPlugins(t *testing.T) {
	version := "3.9.2 (flake8-import-order: 0.18.1, flake8-print: 4.0.0, mccabe: 0.6.1, pycodestyle: 2.7.0, pyflakes: 2.3.1) CPython 3.8.10 on Linux"
	assert.Empty(t, MissingPlugins(version, []string{"flake8-print", "flake8-import-order"}))
	assert.Equal(t, []string{"flake8-print"},
		MissingPlugins("3.9.2 (import-order: 0.18.1, mccabe: 0.6.1) CPython", []string{"flake8-print", "flake8-import-order"}))
}

func TestLint(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		output   string
		exitCode int
		wantErr  string
	}{
		{
			name:    "clean",
			version: "3.9.2 (flake8-print: 4.0.0, flake8-import-order: 0.18.1)",
		},
		{
			name:     "violations",
			version:  "3.9.2 (flake8-print: 4.0.0, flake8-import-order: 0.18.1)",
			output:   "test/test_a.py:3:1: T001 print found.\n",
			exitCode: 1,
			wantErr:  "1 violation(s)",
		},
		{
			name:    "plugin missing",
			version: "3.9.2 (mccabe: 0.6.1)",
			wantErr: "plugins not installed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLintConfigs()[1]
			runner := fakeRunner(map[string]*exec.Result{
				"flake8-test-version": {Stdout: tt.version},
				"flake8-test":         {Stdout: tt.output, ExitCode: tt.exitCode},
			})
			_, err := Lint(context.Background(), runner, cfg, t.TempDir())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeStyleFailed))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLintCommand(t *testing.T) {
	assert.Equal(t, []string{"flake8", "autoPyTorch"}, LintCommand(DefaultLintConfigs()[0]))
	assert.Equal(t, []string{"python3.8", "-m", "flake8", "test"},
		LintCommand(LintConfig{Command: []string{"python3.8", "-m", "flake8"}, Target: "test"}))
}
