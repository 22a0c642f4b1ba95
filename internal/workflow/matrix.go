package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Expand returns one Instance per matrix combination: the cartesian
// product of the axes in sorted key order, minus excludes, plus includes.
// Axes named *-version are ordered by semantic version. A job without a
// matrix yields a single instance.
func (j *Job) Expand(workflowName string) []Instance {
	combos := j.combinations()

	instances := make([]Instance, 0, len(combos))
	for _, params := range combos {
		instances = append(instances, Instance{
			Workflow: workflowName,
			JobID:    j.ID,
			Name:     instanceName(j.displayName(), params, j.Strategy.Matrix.Keys()),
			Params:   params,
		})
	}
	return instances
}

func (j *Job) displayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

func (j *Job) combinations() []map[string]string {
	m := j.Strategy.Matrix
	keys := m.Keys()

	combos := []map[string]string{{}}
	for _, key := range keys {
		values := orderedValues(key, m.Axes[key])
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				c := cloneParams(base)
				c[key] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	if len(keys) == 0 {
		combos = nil
	}

	if len(m.Exclude) > 0 {
		kept := combos[:0]
		for _, c := range combos {
			if !matchesAny(c, m.Exclude) {
				kept = append(kept, c)
			}
		}
		combos = kept
	}

	originals := len(combos)
	for _, inc := range m.Include {
		extended := false
		for i := 0; i < originals; i++ {
			if includeApplies(combos[i], inc, m.Axes) {
				for k, v := range inc {
					combos[i][k] = v
				}
				extended = true
			}
		}
		if !extended {
			combos = append(combos, cloneParams(inc))
		}
	}

	if len(combos) == 0 {
		return []map[string]string{{}}
	}
	return combos
}

// includeApplies reports whether an include entry extends an existing
// combination: every axis value it names must match, and at least one
// key must be new.
func includeApplies(combo, inc map[string]string, axes map[string][]string) bool {
	adds := false
	for k, v := range inc {
		if _, isAxis := axes[k]; isAxis {
			if combo[k] != v {
				return false
			}
			continue
		}
		adds = true
	}
	return adds
}

func matchesAny(combo map[string]string, entries []map[string]string) bool {
	for _, e := range entries {
		match := true
		for k, v := range e {
			if combo[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func orderedValues(key string, values []string) []string {
	out := append([]string(nil), values...)
	if !strings.HasSuffix(key, "-version") {
		return out
	}
	sort.SliceStable(out, func(a, b int) bool {
		va, errA := semver.NewVersion(out[a])
		vb, errB := semver.NewVersion(out[b])
		if errA != nil || errB != nil {
			return out[a] < out[b]
		}
		return va.LessThan(vb)
	})
	return out
}

func instanceName(job string, params map[string]string, axisKeys []string) string {
	if len(params) == 0 {
		return job
	}

	seen := make(map[string]bool, len(axisKeys))
	values := make([]string, 0, len(params))
	for _, k := range axisKeys {
		if v, ok := params[k]; ok {
			values = append(values, v)
			seen[k] = true
		}
	}
	extra := make([]string, 0, len(params))
	for k := range params {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		values = append(values, params[k])
	}
	return fmt.Sprintf("%s (%s)", job, strings.Join(values, ", "))
}

func cloneParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
