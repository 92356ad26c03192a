// Package config loads the relay YAML configuration and applies defaults
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_output_tokens"`
	} `yaml:"llm"`

	Retry RetryConfig `yaml:"retry"`

	Matcher MatcherConfig `yaml:"matcher"`

	Store struct {
		Path       string `yaml:"path"`        // SQLite database file (default: <state_dir>/threads.db)
		DebounceMS int    `yaml:"debounce_ms"` // delay between dirty mark and flush
	} `yaml:"store"`

	Workspace struct {
		Root     string `yaml:"root"`
		StateDir string `yaml:"state_dir"` // lock file + default store location
	} `yaml:"workspace"`

	Approvals ApprovalsConfig `yaml:"approvals"`

	Compaction struct {
		KeepRecentToolResults int `yaml:"keep_recent_tool_results"` // tool outputs preserved verbatim during pruning
	} `yaml:"compaction"`

	Stream struct {
		PublishIntervalMS int `yaml:"publish_interval_ms"` // min gap between non-terminal state publications
	} `yaml:"stream"`

	Log struct {
		Path string `yaml:"path"` // JSON log file; empty disables logging
	} `yaml:"log"`
}

// RetryConfig tunes the three transport recovery paths.
type RetryConfig struct {
	BaseDelayMS         int     `yaml:"base_delay_ms"`          // first generic backoff delay
	Multiplier          float64 `yaml:"multiplier"`             // backoff growth factor
	MaxDelayMS          int     `yaml:"max_delay_ms"`           // backoff ceiling
	MaxAttempts         int     `yaml:"max_attempts"`           // generic transport budget
	ContextRetries      int     `yaml:"context_retries"`        // prune-and-retry budget for context overflow
	RateLimitCooldownMS int     `yaml:"rate_limit_cooldown_ms"` // wait when provider sends no retry-after hint
}

// MatcherConfig tunes the fuzzy search-replace acceptance thresholds.
type MatcherConfig struct {
	AnchorExactThreshold      float64 `yaml:"anchor_exact_threshold"`
	AnchorWhitespaceThreshold float64 `yaml:"anchor_whitespace_threshold"`
	DualAnchorThreshold       float64 `yaml:"dual_anchor_threshold"`
	SlidingThreshold          float64 `yaml:"sliding_threshold"`
	SlidingMaxFileLines       int     `yaml:"sliding_max_file_lines"`   // sliding tier gate on file size
	SlidingMaxSearchLines     int     `yaml:"sliding_max_search_lines"` // sliding tier gate on search size
	MaxWhitespaceCandidates   int     `yaml:"max_whitespace_candidates"`
}

// ApprovalsConfig controls which tools pause for a human decision.
type ApprovalsConfig struct {
	// PreAuthorized lists tool names that skip the approval pause even when
	// the tool itself requires one.
	PreAuthorized []string `yaml:"pre_authorized"`

	// ApproveAll is a global override that pre-authorizes every tool.
	ApproveAll bool `yaml:"approve_all"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply environment overrides
	if cfg.LLM.APIKeyEnv != "" {
		if key := os.Getenv(cfg.LLM.APIKeyEnv); key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if cfg.Workspace.Root != "" {
		absRoot, err := filepath.Abs(cfg.Workspace.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		cfg.Workspace.Root = absRoot
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied and no file loaded.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = 3000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 1.5
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = 30000
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.ContextRetries == 0 {
		c.Retry.ContextRetries = 2
	}
	if c.Retry.RateLimitCooldownMS == 0 {
		c.Retry.RateLimitCooldownMS = 10000
	}

	if c.Matcher.AnchorExactThreshold == 0 {
		c.Matcher.AnchorExactThreshold = 0.90
	}
	if c.Matcher.AnchorWhitespaceThreshold == 0 {
		c.Matcher.AnchorWhitespaceThreshold = 0.85
	}
	if c.Matcher.DualAnchorThreshold == 0 {
		c.Matcher.DualAnchorThreshold = 0.80
	}
	if c.Matcher.SlidingThreshold == 0 {
		c.Matcher.SlidingThreshold = 0.80
	}
	if c.Matcher.SlidingMaxFileLines == 0 {
		c.Matcher.SlidingMaxFileLines = 2000
	}
	if c.Matcher.SlidingMaxSearchLines == 0 {
		c.Matcher.SlidingMaxSearchLines = 5
	}
	if c.Matcher.MaxWhitespaceCandidates == 0 {
		c.Matcher.MaxWhitespaceCandidates = 20
	}

	if c.Store.DebounceMS == 0 {
		c.Store.DebounceMS = 1000
	}
	if c.Workspace.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Workspace.StateDir = filepath.Join(home, ".relay")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Workspace.StateDir, "threads.db")
	}

	if c.Compaction.KeepRecentToolResults == 0 {
		c.Compaction.KeepRecentToolResults = 4
	}
	if c.Stream.PublishIntervalMS == 0 {
		c.Stream.PublishIntervalMS = 50
	}
}

// IsPreAuthorized reports whether toolName skips the approval pause.
func (a *ApprovalsConfig) IsPreAuthorized(toolName string) bool {
	if a.ApproveAll {
		return true
	}
	for _, name := range a.PreAuthorized {
		if name == toolName {
			return true
		}
	}
	return false
}
