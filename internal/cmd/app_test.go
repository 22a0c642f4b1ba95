package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/actions"
	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/exitcode"
	"github.com/felixgeelhaar/cigate/internal/repo"
	"github.com/felixgeelhaar/cigate/internal/repo/repotest"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

func builtin(t *testing.T, name string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Find(workflow.Builtin(), name)
	require.NoError(t, err)
	return wf
}

func TestApplyConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Regression.Branch = "master"
	cfg.Regression.Repository = "https://github.com/automl/Auto-PyTorch.git"
	cfg.Regression.Cron = config.WeeklyRegressionCron

	wfs := workflow.Builtin()
	applyConfig(wfs, cfg, cfg.Regression.Repository)

	reg, err := workflow.Find(wfs, regressionWorkflow)
	require.NoError(t, err)
	assert.Equal(t, "master", reg.Env[envRegressionBranch])
	assert.Equal(t, cfg.Regression.Repository, reg.Env[envRegressionRepository])
	assert.Equal(t, []workflow.CronSpec{{Cron: config.WeeklyRegressionCron}}, reg.On.Schedule)

	pytest, err := workflow.Find(wfs, pytestWorkflow)
	require.NoError(t, err)
	assert.Empty(t, pytest.On.Schedule, "only the regression workflow is touched")
}

func TestApplyConfigDefaultsKeepDailyCron(t *testing.T) {
	wfs := workflow.Builtin()
	applyConfig(wfs, config.Default(), "/src/project")

	reg, err := workflow.Find(wfs, regressionWorkflow)
	require.NoError(t, err)
	assert.Equal(t, []workflow.CronSpec{{Cron: "0 07 * * *"}}, reg.On.Schedule)
	assert.Equal(t, "development", reg.Env[envRegressionBranch])
	assert.Equal(t, "/src/project", reg.Env[envRegressionRepository])
}

func TestRegressionSource(t *testing.T) {
	plain := repotest.Init(t, map[string]string{"setup.py": ""})
	cloned := filepath.Join(t.TempDir(), "clone")
	_, err := repo.Clone(context.Background(), plain, cloned, "")
	require.NoError(t, err)

	configured := config.Default()
	configured.Regression.Repository = "https://github.com/automl/Auto-PyTorch.git"

	tests := []struct {
		name string
		cfg  *config.Config
		root string
		want string
	}{
		{"configured repository wins", configured, cloned, configured.Regression.Repository},
		{"origin of the project", config.Default(), cloned, plain},
		{"project without a remote", config.Default(), plain, plain},
		{"not a checkout", config.Default(), t.TempDir(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, regressionSource(tt.cfg, tt.root))
		})
	}
}

func TestWorkdirFor(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = "/work/.cigate"
	fn := workdirFor(cfg)

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"project tree", nil, ""},
		{"empty repository", map[string]string{envRegressionRepository: ""}, ""},
		{"other repository", map[string]string{envRegressionRepository: "https://github.com/automl/Auto-PyTorch.git"},
			filepath.Join("/work/.cigate", "checkouts", "github.com", "automl", "Auto-PyTorch")},
		{"project path", map[string]string{envRegressionRepository: "/work"},
			filepath.Join("/work/.cigate", "checkouts", "local", "work")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fn(&workflow.Workflow{Name: regressionWorkflow, Env: tt.env}))
		})
	}
}

func TestRestrictMatrix(t *testing.T) {
	wf := builtin(t, pytestWorkflow)

	tests := []struct {
		version     string
		wantCodeCov string
	}{
		{"3.7", ""},
		{"3.8", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			restricted := restrictMatrix(wf, pythonKey, tt.version)
			insts := restricted.Jobs["test"].Expand(restricted.Name)
			require.Len(t, insts, 1)
			assert.Equal(t, tt.version, insts[0].Param(pythonKey))
			assert.Equal(t, tt.wantCodeCov, insts[0].Param("code-cov"))
		})
	}

	assert.Len(t, wf.Jobs["test"].Expand(wf.Name), 2, "the original workflow is not modified")
}

func TestDropMatrixKey(t *testing.T) {
	wf := builtin(t, pytestWorkflow)

	dropped := dropMatrixKey(wf, config.Default().Coverage.Entry)
	insts := dropped.Jobs["test"].Expand(dropped.Name)
	require.Len(t, insts, 2)
	for _, inst := range insts {
		assert.Empty(t, inst.Param("code-cov"), inst.Name)
	}

	var covered int
	for _, inst := range wf.Jobs["test"].Expand(wf.Name) {
		if inst.Param("code-cov") == "true" {
			covered++
		}
	}
	assert.Equal(t, 1, covered, "the original workflow is not modified")
}

func TestMatrixValues(t *testing.T) {
	assert.Equal(t, []string{"3.7", "3.8"}, matrixValues(workflow.Builtin(), pythonKey))
	assert.Empty(t, matrixValues(workflow.Builtin(), "os"))
}

func TestCheckActions(t *testing.T) {
	registry, err := actions.NewRegistry(config.Default())
	require.NoError(t, err)

	require.NoError(t, checkActions(registry, workflow.Builtin()))

	bad, err := workflow.Parse([]byte(`
name: deploy
on: {push: {}}
jobs:
  ship:
    steps:
      - uses: upload-to-pypi
`), "deploy.yaml")
	require.NoError(t, err)

	err = checkActions(registry, []*workflow.Workflow{bad})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeActionUnknown))
	assert.Contains(t, err.Error(), `deploy/ship uses "upload-to-pypi"`)
}

func TestRunnerPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Runner.AllowLocal = false
	cfg.Runner.AllowedImages = []string{"python:3.*"}

	pol := runnerPolicy(cfg)
	assert.Error(t, exec.EnforcePolicy(exec.Step{Runner: exec.RunnerLocal}, pol))
	assert.NoError(t, exec.EnforcePolicy(exec.Step{Runner: exec.RunnerDocker, Image: "python:3.8-slim", Network: "none"}, pol))
	assert.True(t, errors.HasCode(
		exec.EnforcePolicy(exec.Step{Runner: exec.RunnerDocker, Image: "ubuntu:22.04"}, pol),
		errors.ErrCodeExecPolicyViolation))
}

func TestDoctorCheckers(t *testing.T) {
	checkers := doctorCheckers(config.Default(), workflow.Builtin(), exec.NewLocalRunner())

	var names []string
	for _, c := range checkers {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"python-3.7", "python-3.8", "python-tools"}, names)
}

// project returns a temporary project root with a state dir.
func project(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.DefaultStateDir, "workflows"), 0o755))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := project(t, map[string]string{
		".cigate/workflows/nightly.yaml": `
name: nightly
on:
  schedule:
    - cron: "30 02 * * *"
jobs:
  smoke:
    steps:
      - run: python -c "import autoPyTorch"
`,
	})

	out, err := execute(t, "validate", "--dir", dir, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ nightly")
	assert.Contains(t, out, "5 workflow(s) valid")
}

func TestValidateCommandRejectsBadWorkflow(t *testing.T) {
	dir := project(t, map[string]string{
		"bad.yaml": `
name: bad
on: {push: {}}
jobs:
  lint:
    strategy:
      max-parallel: -1
    steps:
      - uses: lint
`,
	})

	_, err := execute(t, "validate", "--dir", dir, "--format", "text", filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeWorkflowInvalid))
}

func TestWorkflowsCommandJSON(t *testing.T) {
	dir := project(t, nil)

	out, err := execute(t, "workflows", "--dir", dir, "--format", "json")
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	var names []string
	for _, wf := range got {
		names = append(names, wf["Name"].(string))
	}
	assert.Equal(t, []string{"dist", "pre-commit", "pytest", "regression"}, names)
}

func TestScheduleListCommand(t *testing.T) {
	dir := project(t, nil)

	out, err := execute(t, "schedule", "--list", "--dir", dir, "--format", "text", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "regression")
	assert.Contains(t, out, "07:00")
}

func TestHistoryCommandEmpty(t *testing.T) {
	dir := project(t, nil)

	out, err := execute(t, "history", "--dir", dir, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "cigate ")
}

func TestRunCommandRejectsUnknownEvent(t *testing.T) {
	dir := project(t, nil)

	_, err := execute(t, "run", "--event", "tag", "--dir", dir, "--format", "text")
	require.Error(t, err)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

// fakePython puts python3.7 and python3.8 on PATH. pytest "passes" and,
// when CIGATE_TEST_LEFTOVER is set, leaves that file behind.
func fakePython(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := `#!/bin/sh
case "$1" in
--version) echo "Python $(basename "$0" | sed 's/^python//').17" ;;
-m)
  if [ "$2" = pytest ]; then
    if [ -n "$CIGATE_TEST_LEFTOVER" ]; then touch "$CIGATE_TEST_LEFTOVER"; fi
    echo "============================== 1 passed in 0.01s ==============================="
  fi
  ;;
esac
exit 0
`
	for _, name := range []string{"python3.7", "python3.8"} {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte(script), 0o755))
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func gitProject(t *testing.T) string {
	t.Helper()
	dir := repotest.Init(t, map[string]string{
		"setup.py":           "from setuptools import setup\nsetup(name='autoPyTorch')\n",
		"test/test_basic.py": "def test_ok():\n    pass\n",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.DefaultStateDir, "workflows"), 0o755))
	return dir
}

func TestTestCommand(t *testing.T) {
	fakePython(t)

	tests := []struct {
		name     string
		leftover string
		wantErr  bool
	}{
		{"clean run passes", "", false},
		{"leftover file fails the run", "leftover.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := gitProject(t)
			t.Setenv("CIGATE_TEST_LEFTOVER", tt.leftover)

			out, err := execute(t, "test", "--dir", dir, "--python", "3.7", "--coverage=false",
				"--isolate=false", "--format", "text", "--log-level", "error")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, out, "leftover.txt")
			} else {
				require.NoError(t, err, out)
				assert.Contains(t, out, "working tree unchanged")
			}

			// manifests and history were written, yet the project tree
			// only gained the state dir's own files
			assert.DirExists(t, filepath.Join(dir, config.DefaultStateDir, config.RunsDir))
			assert.NoFileExists(t, filepath.Join(dir, "leftover.txt"))
			r, err := repo.OpenAt(dir)
			require.NoError(t, err)
			st, err := r.Status()
			require.NoError(t, err)
			for _, e := range st.Entries {
				assert.Contains(t, []string{".cigate/.gitignore"}, e.Path)
			}

			entries, err := os.ReadDir(filepath.Join(dir, config.DefaultStateDir, config.WorkDir))
			if err == nil {
				assert.Empty(t, entries, "workspaces are removed after the run")
			}
		})
	}
}

func TestRegressionCommandLeavesProjectBranch(t *testing.T) {
	fakePython(t)
	t.Setenv("CIGATE_TEST_LEFTOVER", "")
	dir := gitProject(t)

	r, err := repo.OpenAt(dir)
	require.NoError(t, err)
	_, head, err := r.Head()
	require.NoError(t, err)
	repotest.Branch(t, dir, "development", head)

	out, err := execute(t, "regression", "--dir", dir, "--branch", "development", "--format", "text", "--log-level", "error")
	require.NoError(t, err, out)

	branch, _, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, "master", branch, "the project tree keeps its branch")

	clone, err := repo.OpenAt(filepath.Join(dir, config.DefaultStateDir, config.CheckoutsDir, "local", filepath.Base(dir)))
	require.NoError(t, err)
	branch, hash, err := clone.Head()
	require.NoError(t, err)
	assert.Equal(t, "development", branch)
	assert.Equal(t, head, hash)
}
