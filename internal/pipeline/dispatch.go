package pipeline

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/log"
)

// Dispatcher is the exec.Runner handed to actions. It decides where each
// command runs, enforces the execution policy and writes a run manifest
// per command.
type Dispatcher struct {
	Local  exec.Runner
	Docker exec.Runner

	// Kind is exec.RunnerLocal or exec.RunnerDocker; steps that name a
	// runner keep it.
	Kind    string
	Image   string
	Network string
	CPU     string
	Memory  string

	Policy *exec.Policy
	// ManifestDir receives one JSON manifest per command; empty disables
	// manifests.
	ManifestDir string
	// Digests resolves image digests for manifests.
	Digests interface{ Digest(image string) string }
	Logger  *log.Logger

	RunID    string
	Workflow string
	Job      string
}

// ForJob returns a copy that stamps manifests with the given run and job
// and writes them under <ManifestDir>/<runID>/<job>.
func (d *Dispatcher) ForJob(runID, workflow, job string) *Dispatcher {
	c := *d
	c.RunID, c.Workflow, c.Job = runID, workflow, job
	if c.ManifestDir != "" {
		c.ManifestDir = filepath.Join(c.ManifestDir, runID, dirName(workflow+"-"+job))
	}
	return &c
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func dirName(s string) string {
	return strings.Trim(unsafeName.ReplaceAllString(s, "-"), "-")
}

// Run implements exec.Runner.
func (d *Dispatcher) Run(ctx context.Context, step exec.Step) (*exec.Result, error) {
	step = d.resolve(step)

	if err := exec.EnforcePolicy(step, d.Policy); err != nil {
		return nil, err
	}

	runner := d.Local
	if step.Runner == exec.RunnerDocker {
		runner = d.Docker
	}
	if runner == nil {
		runner = exec.NewLocalRunner()
	}

	res, err := runner.Run(ctx, step)
	if res != nil {
		d.writeManifest(step, res)
	}
	return res, err
}

func (d *Dispatcher) resolve(step exec.Step) exec.Step {
	if step.Runner == "" {
		step.Runner = d.Kind
	}
	if step.Runner == "" {
		step.Runner = exec.RunnerLocal
	}
	if step.Runner != exec.RunnerDocker {
		return step
	}
	if step.Image == "" {
		step.Image = d.Image
	}
	if step.Network == "" {
		step.Network = d.Network
	}
	if step.CPU == "" {
		step.CPU = d.CPU
	}
	if step.Mem == "" {
		step.Mem = d.Memory
	}
	return step
}

func (d *Dispatcher) writeManifest(step exec.Step, res *exec.Result) {
	if d.ManifestDir == "" {
		return
	}

	m := exec.CreateManifest(step, res)
	m.RunID = d.RunID
	m.Workflow = d.Workflow
	m.Job = d.Job
	if step.Runner == exec.RunnerDocker && d.Digests != nil {
		m.ImageDigest = d.Digests.Digest(step.Image)
	}

	if _, err := exec.SaveManifest(m, d.ManifestDir); err != nil {
		d.logger().Warn("failed to write run manifest", log.KeyStep, step.ID, "error", err)
	}
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Discard()
}
