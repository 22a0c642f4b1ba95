// Package dist verifies a source distribution: it builds the archive,
// selects the newest one, validates its metadata, installs it and checks
// that the package imports from outside the source tree.
package dist

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/log"
)

// Verifier runs the distribution checks against the project in Dir.
type Verifier struct {
	Runner exec.Runner
	Logger *log.Logger
	// Out receives command output as it is produced.
	Out io.Writer

	Dir       string
	OutputDir string
	Pattern   string
	Module    string

	BuildCommand   []string
	CheckCommand   []string
	InstallCommand []string
	// ImportCommand is followed by "import <Module>"; defaults to
	// python -c.
	ImportCommand []string

	Timeout time.Duration
}

// StepReport records one verification stage.
type StepReport struct {
	Name     string        `json:"name"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a successful verification.
type Report struct {
	Artifact string       `json:"artifact"`
	Digest   string       `json:"digest"`
	Steps    []StepReport `json:"steps"`
}

// Verify runs build, select, validate, install and import in order and
// stops at the first failure.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{}
	logger := v.logger()

	logger.Info("building source distribution", "command", v.BuildCommand)
	if err := v.Build(ctx, report); err != nil {
		return report, err
	}

	artifact, err := v.Select()
	if err != nil {
		return report, err
	}
	report.Artifact = artifact
	logger.Info("selected artifact", "artifact", artifact)

	if digest, err := exec.HashFile(filepath.Join(v.Dir, artifact)); err == nil {
		report.Digest = "blake3:" + digest
	}

	if err := v.ValidateMetadata(ctx, artifact, report); err != nil {
		return report, err
	}
	if err := v.Install(ctx, artifact, report); err != nil {
		return report, err
	}
	if err := v.ImportCheck(ctx, report); err != nil {
		return report, err
	}

	logger.Info("distribution verified", "artifact", artifact, "digest", report.Digest)
	return report, nil
}

// Build runs the packaging command.
func (v *Verifier) Build(ctx context.Context, report *Report) error {
	res, err := v.run(ctx, "build", v.BuildCommand, v.Dir, nil, report)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDistBuildFailed, "packaging command could not run", err)
	}
	if !res.Success() {
		return errors.New(errors.ErrCodeDistBuildFailed,
			fmt.Sprintf("packaging command exited with %d\n%s", res.ExitCode, res.Combined()))
	}
	return nil
}

// Select returns the newest matching archive, relative to Dir.
func (v *Verifier) Select() (string, error) {
	entries, err := ListEntries(filepath.Join(v.Dir, v.OutputDir))
	if err != nil {
		return "", err
	}
	e, err := SelectLatest(entries, v.Pattern)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Join(v.OutputDir, e.Name)), nil
}

// ValidateMetadata runs the metadata checker on artifact and requires its
// output to be exactly "Checking <artifact>: PASSED".
func (v *Verifier) ValidateMetadata(ctx context.Context, artifact string, report *Report) error {
	res, err := v.run(ctx, "metadata", append(clone(v.CheckCommand), artifact), v.Dir, nil, report)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDistMetadataMismatch, "metadata checker could not run", err)
	}
	if err := CheckOutput(artifact, res.Stdout); err != nil {
		return err
	}
	if !res.Success() {
		return errors.NewMetadataMismatchError(ExpectedCheckOutput(artifact), res.Combined())
	}
	return nil
}

// Install installs the artifact into the active environment.
func (v *Verifier) Install(ctx context.Context, artifact string, report *Report) error {
	res, err := v.run(ctx, "install", append(clone(v.InstallCommand), artifact), v.Dir, nil, report)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDistInstallFailed, "install command could not run", err)
	}
	if !res.Success() {
		return errors.New(errors.ErrCodeDistInstallFailed,
			fmt.Sprintf("installing %s exited with %d\n%s", artifact, res.ExitCode, res.Combined()))
	}
	return nil
}

// ImportCheck imports the module from a fresh directory outside the
// checkout with PYTHONPATH cleared, so only the installed copy can satisfy
// the import.
func (v *Verifier) ImportCheck(ctx context.Context, report *Report) error {
	tmp, err := os.MkdirTemp("", "cigate-import-")
	if err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create import check directory", err)
	}
	defer os.RemoveAll(tmp)

	cmd := v.ImportCommand
	if len(cmd) == 0 {
		cmd = []string{"python", "-c"}
	}
	cmd = append(clone(cmd), "import "+v.Module)

	res, err := v.run(ctx, "import", cmd, tmp, map[string]string{"PYTHONPATH": ""}, report)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDistImportFailed, "import check could not run", err)
	}
	if !res.Success() {
		return errors.NewImportFailedError(v.Module, res.Combined())
	}
	return nil
}

func (v *Verifier) run(ctx context.Context, name string, cmd []string, dir string, env map[string]string, report *Report) (*exec.Result, error) {
	res, err := v.Runner.Run(ctx, exec.Step{
		ID:      "dist-" + name,
		Cmd:     cmd,
		Workdir: dir,
		Env:     env,
		Timeout: v.Timeout,
		Output:  v.Out,
	})
	if res != nil && report != nil {
		report.Steps = append(report.Steps, StepReport{Name: name, ExitCode: res.ExitCode, Duration: res.Duration})
	}
	return res, err
}

func (v *Verifier) logger() *log.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return log.DefaultLogger()
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
