package config

import (
	"errors"
	"strings"
)

// Validate fills in defaults and rejects structurally invalid config. It
// mirrors the teacher's "enabled defaults to true, zero values become sane
// minimums" posture rather than failing closed on every missing field.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	if c.Scheduler.Enabled == nil {
		enabled := true
		c.Scheduler.Enabled = &enabled
	}
	if c.Scheduler.TickIntervalSec <= 0 {
		c.Scheduler.TickIntervalSec = 1
	}
	if c.Scheduler.MaxInflightRuns <= 0 {
		c.Scheduler.MaxInflightRuns = 8
	}
	if c.Scheduler.MaxClaimPerTick <= 0 {
		c.Scheduler.MaxClaimPerTick = 32
	}
	if c.Scheduler.RunTimeoutSec <= 0 {
		c.Scheduler.RunTimeoutSec = 300
	}
	if c.Scheduler.HeartbeatInterval <= 0 {
		c.Scheduler.HeartbeatInterval = 60
	}
	c.Scheduler.Store = strings.TrimSpace(c.Scheduler.Store)
	if c.Scheduler.Store == "" {
		c.Scheduler.Store = "scheduler.db"
	}

	c.Memory.Embedder.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Embedder.Backend))
	if c.Memory.Embedder.Backend == "" {
		c.Memory.Embedder.Backend = "mock"
	}
	if c.Memory.Embedder.Dims <= 0 {
		c.Memory.Embedder.Dims = 256
	}
	switch c.Memory.Embedder.Backend {
	case "mock", "genai":
	default:
		return errors.New("memory.embedder.backend must be mock or genai")
	}

	c.Memory.VectorDB.Backend = strings.ToLower(strings.TrimSpace(c.Memory.VectorDB.Backend))
	if c.Memory.VectorDB.Backend == "" {
		c.Memory.VectorDB.Backend = "badger"
	}
	c.Memory.VectorDB.Path = strings.TrimSpace(c.Memory.VectorDB.Path)
	if c.Memory.VectorDB.Path == "" {
		c.Memory.VectorDB.Path = "memory-index"
	}

	c.Memory.LLM.Backend = strings.ToLower(strings.TrimSpace(c.Memory.LLM.Backend))
	if c.Memory.LLM.Backend == "" {
		c.Memory.LLM.Backend = "openai"
	}
	if c.Memory.LLM.Model == "" {
		c.Memory.LLM.Model = "gpt-4o-mini"
	}

	c.Memory.HistoryDB = strings.TrimSpace(c.Memory.HistoryDB)
	if c.Memory.HistoryDB == "" {
		c.Memory.HistoryDB = "history.db"
	}
	if c.Memory.TopK <= 0 {
		c.Memory.TopK = 10
	}
	if c.Memory.Reranker.Enabled == nil {
		disabled := false
		c.Memory.Reranker.Enabled = &disabled
	}

	return nil
}
