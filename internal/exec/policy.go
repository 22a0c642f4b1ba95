package exec

import (
	"fmt"
	"path"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Policy constrains where and how steps may run.
type Policy struct {
	AllowLocal bool
	Docker     DockerPolicy
}

// DockerPolicy constrains container execution.
type DockerPolicy struct {
	Required       bool
	ImageAllowlist []string
	Network        string
}

// DefaultPolicy allows local execution and isolates containers from the
// network.
func DefaultPolicy() *Policy {
	return &Policy{
		AllowLocal: true,
		Docker:     DockerPolicy{Network: "none"},
	}
}

// EnforcePolicy validates a step against policy constraints. A nil policy
// allows everything.
func EnforcePolicy(step Step, pol *Policy) error {
	if pol == nil {
		return nil
	}

	if step.Runner != RunnerDocker {
		if !pol.AllowLocal || pol.Docker.Required {
			return violation("local execution not allowed (Docker-only enforced)")
		}
		return nil
	}

	if len(pol.Docker.ImageAllowlist) > 0 {
		allowed := false
		for _, pattern := range pol.Docker.ImageAllowlist {
			if matchesImagePattern(step.Image, pattern) {
				allowed = true
				break
			}
		}
		if !allowed {
			return violation(fmt.Sprintf("image not in allowlist: %s", step.Image))
		}
	}

	if step.Network != "" && pol.Docker.Network != "" && step.Network != pol.Docker.Network {
		return violation(fmt.Sprintf("network mode '%s' not allowed (required: '%s')",
			step.Network, pol.Docker.Network))
	}
	return nil
}

func violation(msg string) error {
	return errors.New(errors.ErrCodeExecPolicyViolation, "policy violation: "+msg).
		WithSuggestion("Adjust runner settings in .cigate/config.yaml")
}

// matchesImagePattern supports exact names, trailing-* prefixes and
// shell globs.
func matchesImagePattern(image, pattern string) bool {
	if image == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(image, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	ok, _ := path.Match(pattern, image)
	return ok
}
