package exec

import (
	"bytes"
	"context"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// DockerRunner executes a step in a Docker container with security
// constraints. The docker client process is managed by a LocalRunner, so
// timeouts behave the same way; a timed-out container is force-removed.
type DockerRunner struct {
	Local *LocalRunner
	Cache *ImageCache
}

// Run pulls the image if needed and runs the step in a fresh container.
func (d *DockerRunner) Run(ctx context.Context, step Step) (*Result, error) {
	if err := ValidateDockerAvailable(ctx); err != nil {
		return nil, errors.NewExecDockerNotAvailableError()
	}

	if d.Cache != nil {
		if err := d.Cache.EnsureImage(ctx, step.Image); err != nil {
			return nil, fmt.Errorf("ensure image: %w", err)
		}
	} else {
		exists, err := ImageExists(ctx, step.Image)
		if err != nil {
			return nil, fmt.Errorf("check image exists: %w", err)
		}
		if !exists {
			if err := PullImage(ctx, step.Image); err != nil {
				return nil, fmt.Errorf("pull image: %w", err)
			}
		}
	}

	name := containerName(step.ID)
	args, err := buildDockerArgs(step, name)
	if err != nil {
		return nil, err
	}

	client := step
	client.Runner = RunnerLocal
	client.Cmd = append([]string{"docker"}, args...)
	client.Workdir = ""
	client.Env = nil

	local := d.Local
	if local == nil {
		local = NewLocalRunner()
	}
	result, runErr := local.Run(ctx, client)
	if result != nil && (result.TimedOut || runErr != nil) {
		removeContainer(name)
	}
	return result, runErr
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func containerName(stepID string) string {
	id := strings.Trim(nameSanitizer.ReplaceAllString(stepID, "-"), "-.")
	if id == "" {
		id = "step"
	}
	return fmt.Sprintf("cigate-%s-%s", id, uuid.NewString()[:8])
}

// buildDockerArgs constructs the Docker command arguments with security constraints
func buildDockerArgs(step Step, name string) ([]string, error) {
	if step.Image == "" {
		return nil, errors.New(errors.ErrCodeExecStartFailed, fmt.Sprintf("step %s: docker runner needs an image", step.ID))
	}

	args := []string{
		"run",
		"--rm",
		"--name", name,
	}

	if step.Network != "" {
		args = append(args, "--network", step.Network)
	}
	if step.CPU != "" {
		args = append(args, "--cpus", step.CPU)
	}
	if step.Mem != "" {
		args = append(args, "--memory", step.Mem)
	}

	args = append(args,
		"--read-only",
		"--tmpfs", "/tmp",
		"--pids-limit", "256",
		"--cap-drop", "ALL",
	)

	if step.Workdir != "" {
		abs, err := filepath.Abs(step.Workdir)
		if err != nil {
			return nil, fmt.Errorf("resolve workdir: %w", err)
		}
		args = append(args,
			"-v", fmt.Sprintf("%s:/workspace", abs),
			"-w", "/workspace",
		)
	}

	keys := make([]string, 0, len(step.Env))
	for k := range step.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args = append(args, "-e", "HOME=/tmp")
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, step.Env[k]))
	}

	args = append(args, step.Image)
	args = append(args, step.Cmd...)
	return args, nil
}

func removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = osexec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
}

// ValidateDockerAvailable checks if Docker is available on the system
func ValidateDockerAvailable(ctx context.Context) error {
	cmd := osexec.CommandContext(ctx, "docker", "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker is not available: %w", err)
	}
	return nil
}

// PullImage pulls a Docker image
func PullImage(ctx context.Context, image string) error {
	cmd := osexec.CommandContext(ctx, "docker", "pull", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to pull image %s: %s", image, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ImageExists checks if a Docker image exists locally
func ImageExists(ctx context.Context, image string) (bool, error) {
	cmd := osexec.CommandContext(ctx, "docker", "image", "inspect", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		stderrStr := stderr.String()
		if strings.Contains(stderrStr, "No such") || exitCode(err) == 1 {
			return false, nil
		}
		return false, fmt.Errorf("docker image inspect failed: %w: %s", err, stderrStr)
	}
	return true, nil
}
