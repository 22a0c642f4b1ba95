// Package config loads the project configuration from .cigate/config.yaml,
// an optional .env file and CIGATE_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/hooks"
)

const (
	// DefaultStateDir holds config, user workflows, run manifests and history.
	DefaultStateDir = ".cigate"

	// FileName is the config file name inside the state dir.
	FileName = "config.yaml"

	// DefaultRegressionCron runs the regression workflow daily at 07:00 UTC.
	DefaultRegressionCron = "0 07 * * *"

	// WeeklyRegressionCron is the documented weekly alternative.
	WeeklyRegressionCron = "0 07 * * 1"
)

// Config is the complete cigate configuration.
type Config struct {
	StateDir   string           `yaml:"state_dir"`
	Project    ProjectConfig    `yaml:"project"`
	Dist       DistConfig       `yaml:"dist"`
	Tests      TestConfig       `yaml:"tests"`
	Coverage   CoverageConfig   `yaml:"coverage"`
	Regression RegressionConfig `yaml:"regression"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Runner     RunnerConfig     `yaml:"runner"`
	Hooks      []hooks.Config   `yaml:"hooks"`
}

// ProjectConfig describes the Python package under verification.
type ProjectConfig struct {
	// Package is the distribution name used for archive names.
	Package string `yaml:"package"`
	// Import is the top-level module name checked after install.
	Import    string `yaml:"import"`
	SourceDir string `yaml:"source_dir"`
	TestDir   string `yaml:"test_dir"`
	// Python is the interpreter name template; {{version}} is replaced
	// with the matrix python-version.
	Python        string   `yaml:"python"`
	PythonVersion string   `yaml:"python_version"`
	Extras        []string `yaml:"extras"`
}

// DistConfig configures the distribution verifier.
type DistConfig struct {
	OutputDir      string   `yaml:"output_dir"`
	Pattern        string   `yaml:"pattern"`
	BuildCommand   []string `yaml:"build_command"`
	CheckCommand   []string `yaml:"check_command"`
	InstallCommand []string `yaml:"install_command"`
}

// TestConfig configures the test runner and the hygiene check.
type TestConfig struct {
	Paths         []string      `yaml:"paths"`
	Forked        bool          `yaml:"forked"`
	Timeout       time.Duration `yaml:"timeout"`
	TimeoutMethod string        `yaml:"timeout_method"`
	KillGrace     time.Duration `yaml:"kill_grace"`
	// HygieneIgnore lists gitignore-style patterns excluded from the
	// before/after worktree comparison.
	HygieneIgnore []string `yaml:"hygiene_ignore"`
	// Isolate runs each test file as its own case on Workers workers,
	// each bounded by FileTimeout.
	Isolate     bool          `yaml:"isolate"`
	Workers     int           `yaml:"workers"`
	FileTimeout time.Duration `yaml:"file_timeout"`
}

// CoverageConfig configures coverage collection and upload.
type CoverageConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Token       string   `yaml:"token"`
	Flags       []string `yaml:"flags"`
	Report      string   `yaml:"report"`
	FailOnError bool     `yaml:"fail_on_error"`
	// Entry is the matrix key that marks the designated coverage instance.
	Entry string `yaml:"entry"`
}

// RegressionConfig configures the scheduled regression runner.
type RegressionConfig struct {
	Repository string   `yaml:"repository"`
	Branch     string   `yaml:"branch"`
	Paths      []string `yaml:"paths"`
	Durations  int      `yaml:"durations"`
	Cron       string   `yaml:"cron"`
}

// AnalysisConfig configures the static-analysis gate.
type AnalysisConfig struct {
	TypeCheck TypeCheckConfig `yaml:"typecheck"`
	Lint      []LintConfig    `yaml:"lint"`
	SARIF     string          `yaml:"sarif"`
}

// TypeCheckConfig configures the type checker.
type TypeCheckConfig struct {
	Target             string   `yaml:"target"`
	Exclude            []string `yaml:"exclude"`
	WarnRedundantCasts bool     `yaml:"warn_redundant_casts"`
	WarnReturnAny      bool     `yaml:"warn_return_any"`
	WarnUnreachable    bool     `yaml:"warn_unreachable"`
}

// LintConfig configures one named style check.
type LintConfig struct {
	Name    string   `yaml:"name"`
	Target  string   `yaml:"target"`
	Plugins []string `yaml:"plugins"`
}

// RunnerConfig selects where step commands execute.
type RunnerConfig struct {
	Kind          string   `yaml:"kind"`
	Image         string   `yaml:"image"`
	AllowedImages []string `yaml:"allowed_images"`
	Network       string   `yaml:"network"`
	CPU           string   `yaml:"cpu"`
	Memory        string   `yaml:"memory"`
	AllowLocal    bool     `yaml:"allow_local"`
}

// Default returns the configuration matching the reviewed CI setup.
func Default() *Config {
	return &Config{
		StateDir: DefaultStateDir,
		Project: ProjectConfig{
			Package:       "autoPyTorch",
			Import:        "autoPyTorch",
			SourceDir:     "autoPyTorch",
			TestDir:       "test",
			Python:        "python{{version}}",
			PythonVersion: "3.8",
			Extras:        []string{"test"},
		},
		Dist: DistConfig{
			OutputDir:      "dist",
			BuildCommand:   []string{"python", "setup.py", "sdist"},
			CheckCommand:   []string{"twine", "check"},
			InstallCommand: []string{"python", "-m", "pip", "install"},
		},
		Tests: TestConfig{
			Paths:         []string{"test"},
			Forked:        true,
			Timeout:       600 * time.Second,
			TimeoutMethod: "signal",
			KillGrace:     10 * time.Second,
			Workers:       2,
			FileTimeout:   30 * time.Minute,
		},
		Coverage: CoverageConfig{
			Endpoint:    "https://codecov.io/upload/v2",
			Report:      "coverage.xml",
			FailOnError: true,
			Entry:       "code-cov",
		},
		Regression: RegressionConfig{
			Branch:    "development",
			Paths:     []string{"test/test_pipeline/test_preselected_configs.py"},
			Durations: 20,
			Cron:      DefaultRegressionCron,
		},
		Analysis: AnalysisConfig{
			TypeCheck: TypeCheckConfig{
				Target:             "autoPyTorch",
				Exclude:            []string{"autoPyTorch/ensemble/"},
				WarnRedundantCasts: true,
				WarnReturnAny:      true,
				WarnUnreachable:    true,
			},
			Lint: []LintConfig{
				{Name: "flake8-lib", Target: "autoPyTorch", Plugins: []string{"flake8-print", "flake8-import-order"}},
				{Name: "flake8-test", Target: "test", Plugins: []string{"flake8-print", "flake8-import-order"}},
			},
		},
		Runner: RunnerConfig{
			Kind:       "local",
			Image:      "python:3.8-slim",
			Network:    "none",
			AllowLocal: true,
		},
	}
}

// Load builds the configuration for the project rooted at dir.
// Missing files are not an error; defaults apply.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, DefaultStateDir, FileName)
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to load .env file", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a config file over the defaults without env overlay.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewFileNotFoundError(path)
	}
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewFileUnmarshalError(path, "YAML", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.StateDir = getEnv("CIGATE_STATE_DIR", c.StateDir)
	c.Project.Package = getEnv("CIGATE_PACKAGE", c.Project.Package)
	c.Project.Import = getEnv("CIGATE_IMPORT", c.Project.Import)
	c.Project.Python = getEnv("CIGATE_PYTHON", c.Project.Python)
	c.Tests.Timeout = getEnvAsDuration("CIGATE_TEST_TIMEOUT", c.Tests.Timeout)
	c.Tests.Isolate = getEnvAsBool("CIGATE_TEST_ISOLATE", c.Tests.Isolate)
	c.Coverage.Endpoint = getEnv("CIGATE_COVERAGE_ENDPOINT", c.Coverage.Endpoint)
	c.Coverage.Token = getEnv("CIGATE_COVERAGE_TOKEN", getEnv("CODECOV_TOKEN", c.Coverage.Token))
	c.Coverage.FailOnError = getEnvAsBool("CIGATE_COVERAGE_FAIL_ON_ERROR", c.Coverage.FailOnError)
	c.Regression.Repository = getEnv("CIGATE_REGRESSION_REPOSITORY", c.Regression.Repository)
	c.Regression.Branch = getEnv("CIGATE_REGRESSION_BRANCH", c.Regression.Branch)
	c.Regression.Cron = getEnv("CIGATE_REGRESSION_CRON", c.Regression.Cron)
	c.Runner.Kind = getEnv("CIGATE_RUNNER", c.Runner.Kind)
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var problems []string
	if c.Project.Import == "" {
		problems = append(problems, "project.import must be set")
	}
	if c.Tests.Timeout <= 0 {
		problems = append(problems, "tests.timeout must be positive")
	}
	if c.Tests.TimeoutMethod != "signal" && c.Tests.TimeoutMethod != "thread" {
		problems = append(problems, fmt.Sprintf("tests.timeout_method must be signal or thread, got %q", c.Tests.TimeoutMethod))
	}
	if c.Tests.Isolate && (c.Tests.Workers < 1 || c.Tests.FileTimeout <= 0) {
		problems = append(problems, "tests.workers and tests.file_timeout must be positive when tests.isolate is set")
	}
	if c.Regression.Durations < 0 {
		problems = append(problems, "regression.durations must not be negative")
	}
	if c.Runner.Kind != "local" && c.Runner.Kind != "docker" {
		problems = append(problems, fmt.Sprintf("runner.kind must be local or docker, got %q", c.Runner.Kind))
	}
	if len(c.Dist.BuildCommand) == 0 || len(c.Dist.CheckCommand) == 0 || len(c.Dist.InstallCommand) == 0 {
		problems = append(problems, "dist commands must not be empty")
	}
	for _, h := range c.Hooks {
		for _, ev := range h.Events {
			if !hooks.IsValidEvent(ev) {
				problems = append(problems, fmt.Sprintf("hook %s: unknown event %q", h.Name, ev))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrCodeConfigInvalid, "invalid configuration: "+strings.Join(problems, "; ")).
		WithSuggestion(fmt.Sprintf("Edit %s/%s", c.StateDir, FileName))
}

// Python returns the interpreter executable for a matrix python-version.
// An empty version uses the project default.
func (c *Config) Python(version string) string {
	if version == "" {
		version = c.Project.PythonVersion
	}
	return strings.ReplaceAll(c.Project.Python, "{{version}}", version)
}

// DistPattern returns the archive glob, defaulting to <package>-*.tar.gz.
func (c *Config) DistPattern() string {
	if c.Dist.Pattern != "" {
		return c.Dist.Pattern
	}
	return c.Project.Package + "-*.tar.gz"
}

// Subdirectories of the state dir written during runs.
const (
	RunsDir      = "runs"
	CacheDir     = "cache"
	CheckoutsDir = "checkouts"
	WorkDir      = "work"
)

// generatedPatterns are the state dir entries cigate writes itself, as
// gitignore patterns relative to the state dir. config.yaml, .env and
// workflows/ stay visible so they can be committed.
var generatedPatterns = []string{
	RunsDir + "/",
	CacheDir + "/",
	CheckoutsDir + "/",
	WorkDir + "/",
	"history.db*",
}

// EnsureStateDir creates the state dir with a .gitignore covering the
// files cigate generates, so runs never show up in git status. An
// existing .gitignore is left alone.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.StateDir, 0o750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create state dir "+c.StateDir, err)
	}
	path := c.Path(".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	body := "# written by cigate\n" + strings.Join(generatedPatterns, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write "+path, err)
	}
	return nil
}

// HygieneIgnorePatterns returns tests.hygiene_ignore plus the generated
// state dir entries, relative to workdir. The latter are only added when
// the state dir lies inside workdir.
func (c *Config) HygieneIgnorePatterns(workdir string) []string {
	out := append([]string(nil), c.Tests.HygieneIgnore...)
	rel, err := filepath.Rel(workdir, c.StateDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return out
	}
	prefix := "/" + filepath.ToSlash(rel) + "/"
	for _, p := range generatedPatterns {
		out = append(out, prefix+p)
	}
	return out
}

// Path resolves a path relative to the state dir.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.StateDir}, elem...)...)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
