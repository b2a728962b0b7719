package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Gateway   GatewayConfig   `yaml:"gateway"`
		Logging   LoggingConfig   `yaml:"logging"`
		Scheduler SchedulerConfig `yaml:"scheduler"`
		Memory    MemoryConfig    `yaml:"memory"`
	}

	GatewayConfig struct {
		Bind           string `yaml:"bind"`
		RequestTimeout int    `yaml:"request_timeout"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	// SchedulerConfig tunes the Scheduler Manager's tick loop (C3) and the
	// Job Store's backing file (C2).
	SchedulerConfig struct {
		Enabled           *bool  `yaml:"enabled"`
		Store             string `yaml:"store"`               // sqlite DSN/path
		TickIntervalSec   int    `yaml:"tick_interval_sec"`   // default 1
		MaxInflightRuns   int    `yaml:"max_inflight_runs"`   // MAX_INFLIGHT
		MaxClaimPerTick   int    `yaml:"max_claim_per_tick"`  // MAX_CLAIM
		RunTimeoutSec     int    `yaml:"run_timeout_sec"`
		HeartbeatInterval int    `yaml:"heartbeat_interval_sec"`
		SessionsDir       string `yaml:"sessions_dir"` // for session-digest jobs
	}

	// MemoryConfig selects the concrete backends behind the M2/M3/M4/M7
	// capability interfaces and tunes the reconciliation engine (M5).
	MemoryConfig struct {
		Embedder   EmbedderConfig   `yaml:"embedder"`
		VectorDB   VectorDBConfig   `yaml:"vector_db"`
		LLM        LLMConfig        `yaml:"llm"`
		Reranker   RerankerConfig   `yaml:"reranker"`
		HistoryDB  string           `yaml:"history_db"`
		TopK       int              `yaml:"top_k"`
	}

	EmbedderConfig struct {
		Backend string `yaml:"backend"` // mock, genai
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
		Dims    int    `yaml:"dims"`
	}

	VectorDBConfig struct {
		Backend string `yaml:"backend"` // badger
		Path    string `yaml:"path"`
	}

	LLMConfig struct {
		Backend string `yaml:"backend"` // openai
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	}

	RerankerConfig struct {
		Enabled *bool `yaml:"enabled"`
	}
)

// UpdateByName .
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	normalizedName := strings.ToLower(strings.TrimSpace(name))
	if normalizedName == "" {
		return fmt.Errorf("name is required")
	}

	switch normalizedName {
	case "config":
		typed, ok := value.(*Config)
		if !ok || typed == nil {
			return fmt.Errorf("name 'config' requires *Config")
		}
		*c = *typed
	case "gateway":
		typed, ok := value.(*GatewayConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'gateway' requires *GatewayConfig")
		}
		c.Gateway = *typed
	case "logging":
		typed, ok := value.(*LoggingConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'logging' requires *LoggingConfig")
		}
		c.Logging = *typed
	case "scheduler":
		typed, ok := value.(*SchedulerConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'scheduler' requires *SchedulerConfig")
		}
		c.Scheduler = *typed
	case "memory":
		typed, ok := value.(*MemoryConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'memory' requires *MemoryConfig")
		}
		c.Memory = *typed
	default:
		return fmt.Errorf("unsupported config name: %s", name)
	}

	return nil
}

// Clone .
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}

// Hash .
func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
