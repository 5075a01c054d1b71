package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	if !cfg.Checkpoint.Enabled || !cfg.Checkpoint.Nested {
		t.Error("checkpointing should be enabled for both graph levels by default")
	}
	if cfg.Checkpoint.Dir != filepath.Join(".breakfix", "checkpoints") {
		t.Errorf("Checkpoint.Dir = %q", cfg.Checkpoint.Dir)
	}

	if cfg.Retry.RedAttempts != 3 {
		t.Errorf("Retry.RedAttempts = %d, want 3", cfg.Retry.RedAttempts)
	}
	if cfg.Retry.GreenAttempts != 5 {
		t.Errorf("Retry.GreenAttempts = %d, want 5", cfg.Retry.GreenAttempts)
	}
	if cfg.Retry.SentinelAttempts != 3 {
		t.Errorf("Retry.SentinelAttempts = %d, want 3", cfg.Retry.SentinelAttempts)
	}
	if cfg.Retry.MaxMutationRounds != 10 {
		t.Errorf("Retry.MaxMutationRounds = %d, want 10", cfg.Retry.MaxMutationRounds)
	}

	if cfg.Pipeline.UnitFailure != UnitFailureAbort {
		t.Errorf("Pipeline.UnitFailure = %q, want %q", cfg.Pipeline.UnitFailure, UnitFailureAbort)
	}
	if cfg.Pipeline.MinSpecLength != 100 || cfg.Pipeline.MinFixtures != 3 {
		t.Errorf("analyst minimums = (%d, %d), want (100, 3)", cfg.Pipeline.MinSpecLength, cfg.Pipeline.MinFixtures)
	}

	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q, want claude", cfg.Agent.Command)
	}
	if cfg.Collaborators == nil {
		t.Error("Collaborators should be an empty map, not nil")
	}
}

func TestDurations(t *testing.T) {
	a := AgentConfig{TimeoutMinutes: 2}
	if a.AgentTimeout() != 2*time.Minute {
		t.Errorf("AgentTimeout() = %v", a.AgentTimeout())
	}
	m := MutationConfig{}
	if m.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want 0", m.Timeout())
	}
}

func TestResolveCheckpointDir(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		root string
		want string
	}{
		{"relative", ".breakfix/checkpoints", "/work", "/work/.breakfix/checkpoints"},
		{"absolute", "/var/cp", "/work", "/var/cp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CheckpointConfig{Dir: tt.dir}
			if got := c.ResolveCheckpointDir(tt.root); got != tt.want {
				t.Errorf("ResolveCheckpointDir() = %q, want %q", got, tt.want)
			}
		})
	}
	if StateDir("/work") != "/work/.breakfix" {
		t.Errorf("StateDir() = %q", StateDir("/work"))
	}
}

func TestSetDefaultsAndLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("retry.red_attempts", 7)
	viper.Set("collaborators", map[string]string{"oracle": "./oracle.sh"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Retry.RedAttempts != 7 {
		t.Errorf("Retry.RedAttempts = %d, want 7", cfg.Retry.RedAttempts)
	}
	if cfg.Retry.GreenAttempts != 5 {
		t.Errorf("Retry.GreenAttempts = %d, want default 5", cfg.Retry.GreenAttempts)
	}
	if cfg.Collaborators["oracle"] != "./oracle.sh" {
		t.Errorf("Collaborators = %v", cfg.Collaborators)
	}
}

func TestLoad_ReturnsValidationErrors(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("pipeline.unit_failure", "ignore")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for an unknown unit_failure policy")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "pipeline.unit_failure" {
		t.Errorf("errors = %v", verrs)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		xdg := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdg)

		if got := ConfigDir(); got != filepath.Join(xdg, "breakfix") {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != filepath.Join(xdg, "breakfix", "config.yaml") {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		if got := ConfigDir(); got != filepath.Join(home, ".config", "breakfix") {
			t.Errorf("ConfigDir() = %q", got)
		}
	})
}

func TestValidCollaborators(t *testing.T) {
	names := ValidCollaborators()
	if len(names) != 12 {
		t.Fatalf("got %d collaborators, want 12", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
