package workflow

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// BuiltinSource marks workflows that ship with the binary.
const BuiltinSource = "builtin"

// Parse decodes a single workflow document. Unknown keys are rejected.
func Parse(data []byte, source string) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeWorkflowUnmarshal,
			fmt.Sprintf("failed to parse workflow %s", source), err).
			WithSuggestion("Check the YAML syntax and the supported keys")
	}

	wf.Source = source
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	for id, job := range wf.Jobs {
		if job == nil {
			job = &Job{}
			wf.Jobs[id] = job
		}
		job.ID = id
	}
	return &wf, nil
}

// Load reads a workflow file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewFileNotFoundError(path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", path), err)
	}
	return Parse(data, path)
}

// LoadDir reads every *.yaml and *.yml file in dir, sorted by name.
// A missing directory yields no workflows.
func LoadDir(dir string) ([]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("failed to read %s", dir), err)
	}

	var out []*Workflow
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		wf, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// Builtin returns the embedded workflows: dist, pytest, regression and
// pre-commit.
func Builtin() []*Workflow {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		panic(fmt.Sprintf("embedded workflows: %v", err))
	}

	out := make([]*Workflow, 0, len(entries))
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("embedded workflow %s: %v", e.Name(), err))
		}
		wf, err := Parse(data, BuiltinSource)
		if err != nil {
			panic(fmt.Sprintf("embedded workflow %s: %v", e.Name(), err))
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Merge overlays user workflows on the built-ins. A user workflow with a
// built-in's name replaces it.
func Merge(builtin, user []*Workflow) []*Workflow {
	byName := make(map[string]*Workflow, len(builtin)+len(user))
	for _, wf := range builtin {
		byName[wf.Name] = wf
	}
	for _, wf := range user {
		byName[wf.Name] = wf
	}

	out := make([]*Workflow, 0, len(byName))
	for _, wf := range byName {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the workflow with the given name.
func Find(workflows []*Workflow, name string) (*Workflow, error) {
	for _, wf := range workflows {
		if wf.Name == name {
			return wf, nil
		}
	}
	return nil, errors.NewWorkflowNotFoundError(name)
}

// JobIDs returns the job ids in sorted order.
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
