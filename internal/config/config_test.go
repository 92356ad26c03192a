package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `llm:
  base_url: "http://localhost:8080/v1"
  api_key: "test-key"
  model: "test-model"
  temperature: 0.5
  max_output_tokens: 1024

retry:
  max_attempts: 3
  base_delay_ms: 500

approvals:
  pre_authorized:
    - "read_file"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelayMS != 500 {
		t.Errorf("Retry.BaseDelayMS = %d, want 500", cfg.Retry.BaseDelayMS)
	}
	// Unset fields fall back to defaults
	if cfg.Retry.Multiplier != 1.5 {
		t.Errorf("Retry.Multiplier = %f, want default 1.5", cfg.Retry.Multiplier)
	}
	if cfg.Retry.MaxDelayMS != 30000 {
		t.Errorf("Retry.MaxDelayMS = %d, want default 30000", cfg.Retry.MaxDelayMS)
	}
	if !cfg.Approvals.IsPreAuthorized("read_file") {
		t.Error("read_file should be pre-authorized")
	}
	if cfg.Approvals.IsPreAuthorized("run_command") {
		t.Error("run_command should not be pre-authorized")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Retry.BaseDelayMS != 3000 {
		t.Errorf("Retry.BaseDelayMS = %d, want 3000", cfg.Retry.BaseDelayMS)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.ContextRetries != 2 {
		t.Errorf("Retry.ContextRetries = %d, want 2", cfg.Retry.ContextRetries)
	}
	if cfg.Matcher.AnchorExactThreshold != 0.90 {
		t.Errorf("Matcher.AnchorExactThreshold = %f, want 0.90", cfg.Matcher.AnchorExactThreshold)
	}
	if cfg.Matcher.SlidingMaxFileLines != 2000 {
		t.Errorf("Matcher.SlidingMaxFileLines = %d, want 2000", cfg.Matcher.SlidingMaxFileLines)
	}
	if cfg.Matcher.MaxWhitespaceCandidates != 20 {
		t.Errorf("Matcher.MaxWhitespaceCandidates = %d, want 20", cfg.Matcher.MaxWhitespaceCandidates)
	}
	if cfg.Store.DebounceMS != 1000 {
		t.Errorf("Store.DebounceMS = %d, want 1000", cfg.Store.DebounceMS)
	}
	if cfg.Stream.PublishIntervalMS != 50 {
		t.Errorf("Stream.PublishIntervalMS = %d, want 50", cfg.Stream.PublishIntervalMS)
	}
	if cfg.Store.Path == "" {
		t.Error("Store.Path should default under the state dir")
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `llm:
  api_key: "original-key"
  api_key_env: "TEST_API_KEY_OVERRIDE"
`)

	os.Setenv("TEST_API_KEY_OVERRIDE", "env-override-key")
	defer os.Unsetenv("TEST_API_KEY_OVERRIDE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "env-override-key" {
		t.Errorf("LLM.APIKey = %q, want env override", cfg.LLM.APIKey)
	}
}

func TestLoadNoEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `llm:
  api_key: "original-key"
  api_key_env: "NONEXISTENT_ENV_VAR"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "original-key" {
		t.Errorf("LLM.APIKey = %q, want original", cfg.LLM.APIKey)
	}
}

func TestLoadInvalidPath(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() with invalid path should return error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm:\n  invalid yaml [[[\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestApproveAllOverride(t *testing.T) {
	a := ApprovalsConfig{ApproveAll: true}
	if !a.IsPreAuthorized("run_command") {
		t.Error("approve_all should pre-authorize everything")
	}
}
