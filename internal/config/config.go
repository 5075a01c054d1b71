package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete breakfix configuration
type Config struct {
	Logging       LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Checkpoint    CheckpointConfig  `mapstructure:"checkpoint" yaml:"checkpoint"`
	Retry         RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Pipeline      PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	Workspace     WorkspaceConfig   `mapstructure:"workspace" yaml:"workspace"`
	Agent         AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Collaborators map[string]string `mapstructure:"collaborators" yaml:"collaborators"`
	Tests         TestsConfig       `mapstructure:"tests" yaml:"tests"`
	Mutation      MutationConfig    `mapstructure:"mutation" yaml:"mutation"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug.log is written (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// CheckpointConfig controls durable resume
type CheckpointConfig struct {
	// Enabled writes a checkpoint before every dispatch (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Dir is the checkpoint directory, relative to the run root (default: ".breakfix/checkpoints")
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Nested also checkpoints each unit graph under Dir/units/<unit> (default: true)
	Nested bool `mapstructure:"nested" yaml:"nested"`
}

// RetryConfig holds the attempt budgets of every bounded retry loop
type RetryConfig struct {
	SpecAttempts        int `mapstructure:"spec_attempts" yaml:"spec_attempts"`
	HarnessAttempts     int `mapstructure:"harness_attempts" yaml:"harness_attempts"`
	PrototypeIterations int `mapstructure:"prototype_iterations" yaml:"prototype_iterations"`
	RefinementAttempts  int `mapstructure:"refinement_attempts" yaml:"refinement_attempts"`
	RedAttempts         int `mapstructure:"red_attempts" yaml:"red_attempts"`
	GreenAttempts       int `mapstructure:"green_attempts" yaml:"green_attempts"`
	SentinelAttempts    int `mapstructure:"sentinel_attempts" yaml:"sentinel_attempts"`
	OptimizeAttempts    int `mapstructure:"optimize_attempts" yaml:"optimize_attempts"`
	// MaxMutationRounds caps mutation-test/sentinel rounds per unit; the unit
	// then proceeds to optimization with a warning (default: 10)
	MaxMutationRounds int `mapstructure:"max_mutation_rounds" yaml:"max_mutation_rounds"`
	// FeedbackLimit truncates failure detail fed back into prompts and signals,
	// in characters (default: 4000, 0 = unlimited)
	FeedbackLimit int `mapstructure:"feedback_limit" yaml:"feedback_limit"`
}

// PipelineConfig controls project-level decisions
type PipelineConfig struct {
	// UnitFailure decides what a unit-level signal does to the project run.
	// Options: "abort" (default), "continue"
	UnitFailure string `mapstructure:"unit_failure" yaml:"unit_failure"`
	// MinSpecLength is the minimum specification length in characters (default: 100)
	MinSpecLength int `mapstructure:"min_spec_length" yaml:"min_spec_length"`
	// MinFixtures is the minimum number of fixtures the analyst must produce (default: 3)
	MinFixtures int `mapstructure:"min_fixtures" yaml:"min_fixtures"`
	// TestableKinds lists unit kinds that go through the unit graph (default: ["function", "class"])
	TestableKinds []string `mapstructure:"testable_kinds" yaml:"testable_kinds"`
	// TargetPatterns narrows distilled units to stubbed files matching these
	// globs, relative to the production directory. Empty keeps every stubbed file.
	TargetPatterns []string `mapstructure:"target_patterns" yaml:"target_patterns"`
}

// WorkspaceConfig names the directories under the run root
type WorkspaceConfig struct {
	PrototypeDir  string `mapstructure:"prototype_dir" yaml:"prototype_dir"`
	ProductionDir string `mapstructure:"production_dir" yaml:"production_dir"`
	HarnessDir    string `mapstructure:"harness_dir" yaml:"harness_dir"`
	// Exclude lists glob patterns skipped when copying the prototype
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
	// ResetDirs are emptied in the production copy (default: ["tests"])
	ResetDirs []string `mapstructure:"reset_dirs" yaml:"reset_dirs"`
	// Setup commands run in the production directory after the copy,
	// e.g. creating a virtualenv
	Setup []string `mapstructure:"setup" yaml:"setup"`
}

// AgentConfig controls the coding agent CLI
type AgentConfig struct {
	// Command is the agent executable (default: "claude")
	Command string `mapstructure:"command" yaml:"command"`
	// Model is passed as --model when set
	Model string `mapstructure:"model" yaml:"model"`
	// SkipPermissions passes --dangerously-skip-permissions (default: false)
	SkipPermissions bool `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	// TimeoutMinutes bounds a single agent turn (default: 30, 0 = no limit)
	TimeoutMinutes int `mapstructure:"timeout_minutes" yaml:"timeout_minutes"`
}

// TestsConfig holds the shell commands used to drive the target project's
// test suite. Commands run with the production directory as working
// directory and may use the placeholders {tests_dir}, {test} and {report}.
type TestsConfig struct {
	// Inventory prints one test identifier per line
	Inventory string `mapstructure:"inventory" yaml:"inventory"`
	// RunOne runs the single test {test}
	RunOne string `mapstructure:"run_one" yaml:"run_one"`
	// RunAll runs the whole unit suite
	RunAll string `mapstructure:"run_all" yaml:"run_all"`
	// Coverage runs the suite and writes a JSON coverage report to {report}
	Coverage string `mapstructure:"coverage" yaml:"coverage"`
	// CoverageReport is the report path relative to the production directory
	CoverageReport string `mapstructure:"coverage_report" yaml:"coverage_report"`
	// Dir is the unit test root relative to the production directory (default: "tests/unit")
	Dir string `mapstructure:"dir" yaml:"dir"`
	// FilePattern names a unit's test file; {name} is the unit's short name
	FilePattern string `mapstructure:"file_pattern" yaml:"file_pattern"`
}

// MutationConfig controls mutation analysis
type MutationConfig struct {
	// Command runs mutation analysis for one module and prints the NDJSON
	// dump on stdout. Placeholders: {module}, {start}, {end}.
	Command string `mapstructure:"command" yaml:"command"`
	// TimeoutMinutes bounds one analysis run (default: 30, 0 = no limit)
	TimeoutMinutes int `mapstructure:"timeout_minutes" yaml:"timeout_minutes"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Dir:     filepath.Join(".breakfix", "checkpoints"),
			Nested:  true,
		},
		Retry: RetryConfig{
			SpecAttempts:        5,
			HarnessAttempts:     3,
			PrototypeIterations: 5,
			RefinementAttempts:  3,
			RedAttempts:         3,
			GreenAttempts:       5,
			SentinelAttempts:    3,
			OptimizeAttempts:    3,
			MaxMutationRounds:   10,
			FeedbackLimit:       4000,
		},
		Pipeline: PipelineConfig{
			UnitFailure:    UnitFailureAbort,
			MinSpecLength:  100,
			MinFixtures:    3,
			TestableKinds:  []string{"function", "class"},
			TargetPatterns: []string{},
		},
		Workspace: WorkspaceConfig{
			PrototypeDir:  "prototype",
			ProductionDir: "production",
			HarnessDir:    "e2e-test",
			Exclude:       []string{".git", ".breakfix", ".venv", "**/__pycache__", "**/*.pyc", ".pytest_cache"},
			ResetDirs:     []string{"tests"},
			Setup:         []string{},
		},
		Agent: AgentConfig{
			Command:        "claude",
			TimeoutMinutes: 30,
		},
		Collaborators: map[string]string{},
		Tests: TestsConfig{
			Inventory:      "python -m pytest --collect-only -q {tests_dir}",
			RunOne:         "python -m pytest -x -q {test}",
			RunAll:         "python -m pytest -q {tests_dir}",
			Coverage:       "python -m pytest -q --cov=. --cov-report=json:{report} {tests_dir}",
			CoverageReport: "coverage.json",
			Dir:            filepath.Join("tests", "unit"),
			FilePattern:    "test_{name}.py",
		},
		Mutation: MutationConfig{
			Command:        "breakfix-mutate {module} {start} {end}",
			TimeoutMinutes: 30,
		},
	}
}

// AgentTimeout returns the per-turn agent timeout (0 means no limit)
func (c *AgentConfig) AgentTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Timeout returns the mutation run timeout (0 means no limit)
func (c *MutationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// ResolveCheckpointDir returns the checkpoint directory for a run root.
func (c *CheckpointConfig) ResolveCheckpointDir(root string) string {
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(root, c.Dir)
}

// StateDir returns the directory holding debug.log and other engine-owned files.
func StateDir(root string) string {
	return filepath.Join(root, ".breakfix")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.enabled", defaults.Checkpoint.Enabled)
	viper.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	viper.SetDefault("checkpoint.nested", defaults.Checkpoint.Nested)

	// Retry defaults
	viper.SetDefault("retry.spec_attempts", defaults.Retry.SpecAttempts)
	viper.SetDefault("retry.harness_attempts", defaults.Retry.HarnessAttempts)
	viper.SetDefault("retry.prototype_iterations", defaults.Retry.PrototypeIterations)
	viper.SetDefault("retry.refinement_attempts", defaults.Retry.RefinementAttempts)
	viper.SetDefault("retry.red_attempts", defaults.Retry.RedAttempts)
	viper.SetDefault("retry.green_attempts", defaults.Retry.GreenAttempts)
	viper.SetDefault("retry.sentinel_attempts", defaults.Retry.SentinelAttempts)
	viper.SetDefault("retry.optimize_attempts", defaults.Retry.OptimizeAttempts)
	viper.SetDefault("retry.max_mutation_rounds", defaults.Retry.MaxMutationRounds)
	viper.SetDefault("retry.feedback_limit", defaults.Retry.FeedbackLimit)

	// Pipeline defaults
	viper.SetDefault("pipeline.unit_failure", defaults.Pipeline.UnitFailure)
	viper.SetDefault("pipeline.min_spec_length", defaults.Pipeline.MinSpecLength)
	viper.SetDefault("pipeline.min_fixtures", defaults.Pipeline.MinFixtures)
	viper.SetDefault("pipeline.testable_kinds", defaults.Pipeline.TestableKinds)
	viper.SetDefault("pipeline.target_patterns", defaults.Pipeline.TargetPatterns)

	// Workspace defaults
	viper.SetDefault("workspace.prototype_dir", defaults.Workspace.PrototypeDir)
	viper.SetDefault("workspace.production_dir", defaults.Workspace.ProductionDir)
	viper.SetDefault("workspace.harness_dir", defaults.Workspace.HarnessDir)
	viper.SetDefault("workspace.exclude", defaults.Workspace.Exclude)
	viper.SetDefault("workspace.reset_dirs", defaults.Workspace.ResetDirs)
	viper.SetDefault("workspace.setup", defaults.Workspace.Setup)

	// Agent defaults
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.skip_permissions", defaults.Agent.SkipPermissions)
	viper.SetDefault("agent.timeout_minutes", defaults.Agent.TimeoutMinutes)

	viper.SetDefault("collaborators", defaults.Collaborators)

	// Test command defaults
	viper.SetDefault("tests.inventory", defaults.Tests.Inventory)
	viper.SetDefault("tests.run_one", defaults.Tests.RunOne)
	viper.SetDefault("tests.run_all", defaults.Tests.RunAll)
	viper.SetDefault("tests.coverage", defaults.Tests.Coverage)
	viper.SetDefault("tests.coverage_report", defaults.Tests.CoverageReport)
	viper.SetDefault("tests.dir", defaults.Tests.Dir)
	viper.SetDefault("tests.file_pattern", defaults.Tests.FilePattern)

	// Mutation defaults
	viper.SetDefault("mutation.command", defaults.Mutation.Command)
	viper.SetDefault("mutation.timeout_minutes", defaults.Mutation.TimeoutMinutes)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Collaborators == nil {
		cfg.Collaborators = map[string]string{}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "breakfix")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".breakfix"
	}
	return filepath.Join(home, ".config", "breakfix")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Unit failure policies
const (
	UnitFailureAbort    = "abort"
	UnitFailureContinue = "continue"
)

// ValidUnitFailurePolicies returns the accepted pipeline.unit_failure values
func ValidUnitFailurePolicies() []string {
	return []string{UnitFailureAbort, UnitFailureContinue}
}

// Collaborator names accepted under the collaborators section.
const (
	CollabAnalyst              = "analyst"
	CollabHarnessBuilder       = "harness_builder"
	CollabHarnessVerifier      = "harness_verifier"
	CollabInterfaceAnalyzer    = "interface_analyzer"
	CollabScaffold             = "scaffold"
	CollabE2E                  = "e2e"
	CollabArchitectureReviewer = "architecture_reviewer"
	CollabDistiller            = "distiller"
	CollabStubber              = "stubber"
	CollabOracle               = "oracle"
	CollabValidator            = "validator"
	CollabArbiter              = "arbiter"
)

// ValidCollaborators returns the sorted list of collaborator names
func ValidCollaborators() []string {
	names := []string{
		CollabAnalyst, CollabHarnessBuilder, CollabHarnessVerifier,
		CollabInterfaceAnalyzer, CollabScaffold, CollabE2E,
		CollabArchitectureReviewer, CollabDistiller, CollabStubber,
		CollabOracle, CollabValidator, CollabArbiter,
	}
	sort.Strings(names)
	return names
}
