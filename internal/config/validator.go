package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "retry.red_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateWorkspace()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateCollaborators()...)
	errors = append(errors, c.validateTests()...)
	errors = append(errors, c.validateMutation()...)

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	if c.Checkpoint.Enabled && strings.TrimSpace(c.Checkpoint.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   c.Checkpoint.Dir,
			Message: "cannot be empty when checkpointing is enabled",
		})
	}
	if strings.ContainsRune(c.Checkpoint.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   c.Checkpoint.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	// Every budget needs at least one attempt.
	const maxAttempts = 50
	budgets := []struct {
		field string
		value int
	}{
		{"retry.spec_attempts", c.Retry.SpecAttempts},
		{"retry.harness_attempts", c.Retry.HarnessAttempts},
		{"retry.prototype_iterations", c.Retry.PrototypeIterations},
		{"retry.refinement_attempts", c.Retry.RefinementAttempts},
		{"retry.red_attempts", c.Retry.RedAttempts},
		{"retry.green_attempts", c.Retry.GreenAttempts},
		{"retry.sentinel_attempts", c.Retry.SentinelAttempts},
		{"retry.optimize_attempts", c.Retry.OptimizeAttempts},
		{"retry.max_mutation_rounds", c.Retry.MaxMutationRounds},
	}
	for _, b := range budgets {
		if b.value < 1 {
			errors = append(errors, ValidationError{
				Field:   b.field,
				Value:   b.value,
				Message: "must be at least 1",
			})
		} else if b.value > maxAttempts {
			errors = append(errors, ValidationError{
				Field:   b.field,
				Value:   b.value,
				Message: fmt.Sprintf("exceeds maximum of %d", maxAttempts),
			})
		}
	}

	if c.Retry.FeedbackLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.feedback_limit",
			Value:   c.Retry.FeedbackLimit,
			Message: "must be non-negative (0 disables truncation)",
		})
	}

	return errors
}

func (c *Config) validatePipeline() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidUnitFailurePolicies(), c.Pipeline.UnitFailure) {
		errors = append(errors, ValidationError{
			Field:   "pipeline.unit_failure",
			Value:   c.Pipeline.UnitFailure,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidUnitFailurePolicies(), ", ")),
		})
	}

	if c.Pipeline.MinSpecLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.min_spec_length",
			Value:   c.Pipeline.MinSpecLength,
			Message: "must be non-negative",
		})
	}
	if c.Pipeline.MinFixtures < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.min_fixtures",
			Value:   c.Pipeline.MinFixtures,
			Message: "must be non-negative",
		})
	}

	if len(c.Pipeline.TestableKinds) == 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.testable_kinds",
			Value:   c.Pipeline.TestableKinds,
			Message: "must list at least one unit kind",
		})
	}

	errors = append(errors, validatePatterns("pipeline.target_patterns", c.Pipeline.TargetPatterns)...)

	return errors
}

func (c *Config) validateWorkspace() []ValidationError {
	var errors []ValidationError

	dirs := []struct {
		field string
		value string
	}{
		{"workspace.prototype_dir", c.Workspace.PrototypeDir},
		{"workspace.production_dir", c.Workspace.ProductionDir},
		{"workspace.harness_dir", c.Workspace.HarnessDir},
	}
	seen := make(map[string]string)
	for _, d := range dirs {
		clean := filepath.Clean(d.value)
		switch {
		case strings.TrimSpace(d.value) == "":
			errors = append(errors, ValidationError{Field: d.field, Value: d.value, Message: "cannot be empty"})
			continue
		case filepath.IsAbs(d.value):
			errors = append(errors, ValidationError{Field: d.field, Value: d.value, Message: "must be relative to the run root"})
			continue
		case clean == "." || strings.HasPrefix(clean, ".."):
			errors = append(errors, ValidationError{Field: d.field, Value: d.value, Message: "must name a directory inside the run root"})
			continue
		}
		if other, ok := seen[clean]; ok {
			errors = append(errors, ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: fmt.Sprintf("duplicates %s", other),
			})
			continue
		}
		seen[clean] = d.field
	}

	errors = append(errors, validatePatterns("workspace.exclude", c.Workspace.Exclude)...)
	for i, d := range c.Workspace.ResetDirs {
		clean := filepath.Clean(d)
		if strings.TrimSpace(d) == "" || filepath.IsAbs(d) || clean == "." || strings.HasPrefix(clean, "..") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("workspace.reset_dirs[%d]", i),
				Value:   d,
				Message: "must name a directory inside the production directory",
			})
		}
	}

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Agent.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "cannot be empty",
		})
	}
	if c.Agent.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.timeout_minutes",
			Value:   c.Agent.TimeoutMinutes,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	return errors
}

func (c *Config) validateCollaborators() []ValidationError {
	var errors []ValidationError

	valid := ValidCollaborators()
	names := make([]string, 0, len(c.Collaborators))
	for name := range c.Collaborators {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		field := "collaborators." + name
		if !slices.Contains(valid, name) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   name,
				Message: fmt.Sprintf("unknown collaborator; must be one of: %s", strings.Join(valid, ", ")),
			})
			continue
		}
		if strings.TrimSpace(c.Collaborators[name]) == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   c.Collaborators[name],
				Message: "command cannot be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateTests() []ValidationError {
	var errors []ValidationError

	required := []struct {
		field string
		value string
	}{
		{"tests.inventory", c.Tests.Inventory},
		{"tests.run_one", c.Tests.RunOne},
		{"tests.run_all", c.Tests.RunAll},
		{"tests.coverage", c.Tests.Coverage},
		{"tests.coverage_report", c.Tests.CoverageReport},
		{"tests.dir", c.Tests.Dir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errors = append(errors, ValidationError{Field: r.field, Value: r.value, Message: "cannot be empty"})
		}
	}

	if c.Tests.RunOne != "" && !strings.Contains(c.Tests.RunOne, "{test}") {
		errors = append(errors, ValidationError{
			Field:   "tests.run_one",
			Value:   c.Tests.RunOne,
			Message: "must contain the {test} placeholder",
		})
	}
	if !strings.Contains(c.Tests.FilePattern, "{name}") {
		errors = append(errors, ValidationError{
			Field:   "tests.file_pattern",
			Value:   c.Tests.FilePattern,
			Message: "must contain the {name} placeholder",
		})
	}

	return errors
}

func (c *Config) validateMutation() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Mutation.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "mutation.command",
			Value:   c.Mutation.Command,
			Message: "cannot be empty",
		})
	}
	if c.Mutation.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "mutation.timeout_minutes",
			Value:   c.Mutation.TimeoutMinutes,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	return errors
}

// validatePatterns checks that every entry compiles as a glob with '/' as
// the path separator.
func validatePatterns(field string, patterns []string) []ValidationError {
	var errors []ValidationError
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Value:   p,
				Message: "pattern cannot be empty",
			})
			continue
		}
		if _, err := glob.Compile(p, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Value:   p,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}
	return errors
}
