// Package app owns process-wide wiring: a single App value holds the
// scheduler store, manager, and memory engine, and is the only entry point
// that starts background work. Nothing in this module keeps a package-level
// global scheduler; callers thread an *App through instead.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelai/deskagent/internal/config"
	"github.com/kestrelai/deskagent/internal/consts"
	"github.com/kestrelai/deskagent/internal/memory"
	"github.com/kestrelai/deskagent/internal/pkg/logs"
	"github.com/kestrelai/deskagent/internal/scheduler"
)

// App is the process singleton: it owns the scheduler store/manager and the
// memory engine, and is the only place either is constructed or started.
// Construct with New, then call Start exactly once.
type App struct {
	cfg *config.Config

	schedulerStore *scheduler.Store
	schedulerMgr   *scheduler.Manager
	conversations  *scheduler.JSONLConversationStore

	memoryRes *memory.Resources

	mu      sync.Mutex
	started bool
	stopped bool
}

// Deps lets the caller inject the agent-turn collaborator, since this module
// never implements the per-turn reasoning loop itself (spec §1 Non-goals).
type Deps struct {
	AgentTurn scheduler.AgentTurn

	// HeartbeatConversationID and HeartbeatWorkspace describe the target of
	// the synthetic heartbeat run. Leave HeartbeatConversationID empty to
	// disable heartbeats entirely.
	HeartbeatConversationID string
	HeartbeatWorkspace      string
}

// New wires the scheduler subsystem from cfg but starts nothing. Opening the
// store happens here so construction failures surface before Start is ever
// called from a long-running process.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config cannot be nil")
	}
	if deps.AgentTurn == nil {
		return nil, fmt.Errorf("app: AgentTurn collaborator is required")
	}

	storePath := cfg.Scheduler.Store
	if storePath == "" {
		storePath = consts.DefaultSchedulerDBPath()
	}
	store, err := scheduler.OpenStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("app: open scheduler store: %w", err)
	}

	sessionsDir := cfg.Scheduler.SessionsDir
	convos := scheduler.NewJSONLConversationStore(sessionsDir)

	executor := scheduler.NewExecutor(deps.AgentTurn, convos)

	var heartbeatJob *scheduler.Job
	if deps.HeartbeatConversationID != "" {
		interval := time.Duration(cfg.Scheduler.HeartbeatInterval) * time.Second
		heartbeatJob = scheduler.NewHeartbeatJob(deps.HeartbeatConversationID, deps.HeartbeatWorkspace, interval)
	}

	mgrCfg := scheduler.ManagerConfig{
		TickInterval:      time.Duration(cfg.Scheduler.TickIntervalSec) * time.Second,
		MaxInflight:       cfg.Scheduler.MaxInflightRuns,
		MaxClaim:          cfg.Scheduler.MaxClaimPerTick,
		HeartbeatEnabled:  heartbeatJob != nil,
		HeartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatInterval) * time.Second,
		BackoffThreshold:  10,
	}
	mgr := scheduler.NewManager(store, executor, heartbeatJob, mgrCfg)

	memRes, err := memory.Build(context.Background(), cfg.Memory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: build memory engine: %w", err)
	}

	return &App{
		cfg:            cfg,
		schedulerStore: store,
		schedulerMgr:   mgr,
		conversations:  convos,
		memoryRes:      memRes,
	}, nil
}

// Start begins the scheduler tick loop. It is idempotent: a second call is a
// no-op rather than a race against the first, so callers never need to guard
// their own call site against double-initialization.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if a.cfg.Scheduler.Enabled != nil && !*a.cfg.Scheduler.Enabled {
		logs.CtxInfo(ctx, "[app] scheduler disabled by config, not starting")
		a.started = true
		return nil
	}
	a.schedulerMgr.Start(ctx)
	a.started = true
	return nil
}

// Stop cancels the tick loop and closes the store. Safe to call even if
// Start was never called, and safe to call more than once.
func (a *App) Stop(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.started {
		a.schedulerMgr.Stop(ctx)
	}
	if err := a.schedulerStore.Close(); err != nil {
		logs.CtxWarn(ctx, "[app] close scheduler store: %v", err)
	}
	if err := a.memoryRes.Close(); err != nil {
		logs.CtxWarn(ctx, "[app] close memory resources: %v", err)
	}
	a.stopped = true
}

// Scheduler exposes the Manager for gateway/CLI callers that need to read
// status or trigger a manual run.
func (a *App) Scheduler() *scheduler.Manager { return a.schedulerMgr }

// SchedulerStore exposes the durable Job/Run store for CRUD callers.
func (a *App) SchedulerStore() *scheduler.Store { return a.schedulerStore }

// Conversations exposes the isolated-run summary writer.
func (a *App) Conversations() *scheduler.JSONLConversationStore { return a.conversations }

// Memory exposes the Fact Extraction & Reconciliation engine.
func (a *App) Memory() *memory.Engine { return a.memoryRes.Engine }
