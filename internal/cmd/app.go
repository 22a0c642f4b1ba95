package cmd

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/cigate/internal/actions"
	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/history"
	"github.com/felixgeelhaar/cigate/internal/hooks"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/orchestrator"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/repo"
	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
	"github.com/felixgeelhaar/cigate/internal/workspace"
)

const (
	regressionWorkflow = "regression"

	envRegressionBranch     = "REGRESSION_BRANCH"
	envRegressionRepository = "REGRESSION_REPOSITORY"

	// imageCacheMaxAge is how long an unused image stays in the cache
	// manifest before `cigate cache prune` drops it.
	imageCacheMaxAge = 7 * 24 * time.Hour
)

// app is everything a command needs to run workflows.
type app struct {
	root      string
	cfg       *config.Config
	logger    *log.Logger
	workflows []*workflow.Workflow

	dispatcher   *pipeline.Dispatcher
	orchestrator *orchestrator.Orchestrator
	history      *history.Store
}

// loadConfig resolves the project root and loads its configuration. The
// state dir is made absolute so runs started from a subdirectory share it.
func loadConfig(cc *CommandContext, mutate ...func(*config.Config)) (string, *config.Config, error) {
	start := cc.Dir
	if start == "" {
		start = "."
	}
	root, err := ux.FindProjectRoot(start)
	if err != nil {
		return "", nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	if len(mutate) > 0 {
		for _, m := range mutate {
			m(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return "", nil, err
		}
	}
	if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(root, cfg.StateDir)
	}
	return root, cfg, nil
}

// loadWorkflows returns the built-in workflows overlaid with the user's,
// with configuration applied and every workflow validated.
func loadWorkflows(root string, cfg *config.Config) ([]*workflow.Workflow, error) {
	user, err := workflow.LoadDir(cfg.Path("workflows"))
	if err != nil {
		return nil, err
	}
	wfs := workflow.Merge(workflow.Builtin(), user)
	applyConfig(wfs, cfg, regressionSource(cfg, root))
	if err := workflow.ValidateAll(wfs); err != nil {
		return nil, err
	}
	return wfs, nil
}

// regressionSource is what the regression workflow clones: the configured
// repository, else the project's origin, else the project itself. It is
// "" only outside a git checkout.
func regressionSource(cfg *config.Config, root string) string {
	if cfg.Regression.Repository != "" {
		return cfg.Regression.Repository
	}
	r, err := repo.Open(root)
	if err != nil {
		return ""
	}
	if url, err := r.RemoteURL(repo.Origin); err == nil && url != "" {
		return url
	}
	return r.Dir
}

// applyConfig feeds the regression settings and source into the
// regression workflow. User workflows that replaced it only get the
// values they reference.
func applyConfig(wfs []*workflow.Workflow, cfg *config.Config, source string) {
	for _, wf := range wfs {
		if wf.Name != regressionWorkflow {
			continue
		}
		if wf.Env == nil {
			wf.Env = map[string]string{}
		}
		if cfg.Regression.Branch != "" {
			wf.Env[envRegressionBranch] = cfg.Regression.Branch
		}
		if source != "" {
			wf.Env[envRegressionRepository] = source
		}
		if cfg.Regression.Cron != "" && len(wf.On.Schedule) > 0 {
			wf.On.Schedule = []workflow.CronSpec{{Cron: cfg.Regression.Cron}}
		}
	}
}

// workdirFor gives a workflow with a regression source its own clone in
// the state dir, so it never moves the project tree's branch.
func workdirFor(cfg *config.Config) func(*workflow.Workflow) string {
	return func(wf *workflow.Workflow) string {
		url := wf.Env[envRegressionRepository]
		if url == "" {
			return ""
		}
		name, err := repo.DirName(url)
		if err != nil {
			return ""
		}
		return cfg.Path(config.CheckoutsDir, name)
	}
}

// newApp wires configuration, workflows, the step dispatcher, history and
// hooks into an orchestrator. Close releases the history store.
func newApp(cc *CommandContext, out io.Writer, mutate ...func(*config.Config)) (*app, error) {
	logger := log.New(log.ConfigFromFlags(cc.LogLevel, cc.LogFormat))
	log.SetDefaultLogger(logger)

	root, cfg, err := loadConfig(cc, mutate...)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return nil, err
	}

	wfs, err := loadWorkflows(root, cfg)
	if err != nil {
		return nil, err
	}

	cache := exec.NewImageCache(cfg.Path(config.CacheDir, "images"), imageCacheMaxAge)
	if err := cache.LoadManifest(); err != nil {
		logger.Warn("ignoring unreadable image cache manifest", "error", err)
	}

	local := exec.NewLocalRunner()
	dispatcher := &pipeline.Dispatcher{
		Local:       local,
		Docker:      &exec.DockerRunner{Local: local, Cache: cache},
		Kind:        cfg.Runner.Kind,
		Image:       cfg.Runner.Image,
		Network:     cfg.Runner.Network,
		CPU:         cfg.Runner.CPU,
		Memory:      cfg.Runner.Memory,
		Policy:      runnerPolicy(cfg),
		ManifestDir: cfg.Path(config.RunsDir),
		Digests:     cache,
		Logger:      logger,
	}

	registry, err := actions.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	hookRegistry, err := hooks.FromConfig(cfg.Hooks, logger)
	if err != nil {
		return nil, err
	}

	store, err := history.Open(cfg.Path(history.FileName))
	if err != nil {
		return nil, err
	}

	orch := &orchestrator.Orchestrator{
		Runner: &pipeline.Runner{
			Registry: registry,
			Exec:     dispatcher,
			Workdir:  root,
			Logger:   logger,
			Out:      out,
		},
		Dispatcher: dispatcher,
		WorkdirFor: workdirFor(cfg),
		Workspaces: &workspace.Manager{
			Root:   cfg.Path(config.WorkDir),
			Skip:   []string{cfg.StateDir},
			Logger: logger,
		},
		Logger:  logger,
		History: store,
		Hooks:   hookRegistry,
		NewID:   uuid.NewString,
	}

	return &app{
		root:         root,
		cfg:          cfg,
		logger:       logger,
		workflows:    wfs,
		dispatcher:   dispatcher,
		orchestrator: orch,
		history:      store,
	}, nil
}

func (a *app) Close() error {
	return a.history.Close()
}

// runWorkflows runs the named workflows for ev regardless of their
// triggers.
func (a *app) runWorkflows(ctx context.Context, ev workflow.Event, names ...string) (*orchestrator.Report, error) {
	report := &orchestrator.Report{Event: ev, Start: time.Now()}
	for _, name := range names {
		wf, err := workflow.Find(a.workflows, name)
		if err != nil {
			return nil, err
		}
		report.Workflows = append(report.Workflows, a.orchestrator.RunWorkflow(ctx, wf, ev))
	}
	report.End = time.Now()
	return report, nil
}

func runnerPolicy(cfg *config.Config) *exec.Policy {
	pol := exec.DefaultPolicy()
	pol.AllowLocal = cfg.Runner.AllowLocal
	pol.Docker.ImageAllowlist = cfg.Runner.AllowedImages
	pol.Docker.Network = cfg.Runner.Network
	return pol
}

// currentBranch is the branch checked out in dir, or "" outside a
// repository or on a detached head.
func currentBranch(dir string) string {
	r, err := repo.Open(dir)
	if err != nil {
		return ""
	}
	branch, _, err := r.Head()
	if err != nil {
		return ""
	}
	return branch
}

// restrictMatrix returns a copy of wf whose matrices only expand to
// entries with key=value. Jobs without the key are kept as they are.
func restrictMatrix(wf *workflow.Workflow, key, value string) *workflow.Workflow {
	out := *wf
	out.Jobs = make(map[string]*workflow.Job, len(wf.Jobs))
	for id, job := range wf.Jobs {
		j := *job
		m := job.Strategy.Matrix
		if _, ok := m.Axes[key]; ok {
			axes := make(map[string][]string, len(m.Axes))
			for k, v := range m.Axes {
				axes[k] = v
			}
			axes[key] = []string{value}

			var include []map[string]string
			for _, inc := range m.Include {
				if v, ok := inc[key]; !ok || v == value {
					include = append(include, inc)
				}
			}
			j.Strategy.Matrix = workflow.Matrix{Axes: axes, Include: include, Exclude: m.Exclude}
		}
		out.Jobs[id] = &j
	}
	return &out
}

// dropMatrixKey returns a copy of wf whose matrix include entries no
// longer set key.
func dropMatrixKey(wf *workflow.Workflow, key string) *workflow.Workflow {
	out := *wf
	out.Jobs = make(map[string]*workflow.Job, len(wf.Jobs))
	for id, job := range wf.Jobs {
		j := *job
		m := job.Strategy.Matrix
		include := make([]map[string]string, 0, len(m.Include))
		for _, inc := range m.Include {
			entry := make(map[string]string, len(inc))
			for k, v := range inc {
				if k != key {
					entry[k] = v
				}
			}
			include = append(include, entry)
		}
		j.Strategy.Matrix = workflow.Matrix{Axes: m.Axes, Include: include, Exclude: m.Exclude}
		out.Jobs[id] = &j
	}
	return &out
}

// matrixValues collects every value of a matrix key across workflows.
func matrixValues(wfs []*workflow.Workflow, key string) []string {
	seen := map[string]bool{}
	for _, wf := range wfs {
		for _, job := range wf.Jobs {
			for _, inst := range job.Expand(wf.Name) {
				if v := inst.Param(key); v != "" {
					seen[v] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
