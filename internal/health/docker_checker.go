package health

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/exec"
)

// DockerChecker checks that the Docker daemon answers.
type DockerChecker struct {
	runner exec.Runner
	// required is set when steps run in containers; otherwise a missing
	// daemon only degrades.
	required bool
}

// NewDockerChecker creates a Docker checker running commands through runner.
func NewDockerChecker(runner exec.Runner, required bool) *DockerChecker {
	return &DockerChecker{runner: runner, required: required}
}

// Name returns the name of this health check.
func (c *DockerChecker) Name() string {
	return "docker-daemon"
}

// Check runs `docker info` to verify daemon connectivity.
func (c *DockerChecker) Check(ctx context.Context) *Result {
	res, err := c.runner.Run(ctx, exec.Step{
		ID:  "doctor-docker",
		Cmd: []string{"docker", "info", "--format", "{{.ServerVersion}}"},
	})
	if err != nil || !res.Success() {
		r := c.fail("Docker daemon is not available")
		if err != nil {
			r.WithError(err)
		} else {
			msg := strings.TrimSpace(res.Combined())
			if strings.Contains(msg, "Cannot connect to the Docker daemon") {
				r.Message = "Docker daemon is not running"
			}
			r.WithDetail("output", msg)
		}
		return r.WithSuggestion("Start Docker, or set runner.kind: local")
	}

	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		return Degraded("Docker daemon responding but version unknown")
	}
	return Healthy("Docker daemon is running").WithDetail("server_version", version)
}

func (c *DockerChecker) fail(msg string) *Result {
	if c.required {
		return Unhealthy(msg)
	}
	return Degraded(msg + " (only needed for runner.kind: docker)")
}
