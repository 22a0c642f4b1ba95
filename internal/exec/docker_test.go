package exec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDockerArgs(t *testing.T) {
	step := Step{
		ID:      "lint",
		Runner:  RunnerDocker,
		Image:   "python:3.8-slim",
		Cmd:     []string{"flake8", "autoPyTorch"},
		Workdir: "/src",
		Env:     map[string]string{"B": "2", "A": "1"},
		Network: "none",
		CPU:     "2",
		Mem:     "2g",
	}

	args, err := buildDockerArgs(step, "cigate-lint-1234")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"run --rm --name cigate-lint-1234",
		"--network none",
		"--cpus 2",
		"--memory 2g",
		"--read-only",
		"--cap-drop ALL",
		"-v /src:/workspace -w /workspace",
		"-e A=1 -e B=2",
	} {
		assert.Contains(t, joined, want)
	}
	assert.True(t, strings.HasSuffix(joined, "python:3.8-slim flake8 autoPyTorch"))
}

func TestBuildDockerArgsNeedsImage(t *testing.T) {
	_, err := buildDockerArgs(Step{ID: "x", Cmd: []string{"true"}}, "n")
	assert.Error(t, err)
}

func TestContainerName(t *testing.T) {
	name := containerName("test (3.8)/Run tests")
	assert.True(t, strings.HasPrefix(name, "cigate-test-3.8-Run-tests-"), name)
	assert.NotEqual(t, name, containerName("test (3.8)/Run tests"))
}
