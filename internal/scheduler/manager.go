package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelai/deskagent/internal/pkg/logs"
)

// ManagerConfig tunes the tick loop (spec §4.C3).
type ManagerConfig struct {
	TickInterval      time.Duration
	MaxInflight       int
	MaxClaim          int
	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration
	BackoffThreshold  int // consecutive_errors past which backoff_suggested is reported
}

func defaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TickInterval:      1 * time.Second,
		MaxInflight:       8,
		MaxClaim:          32,
		HeartbeatEnabled:  true,
		HeartbeatInterval: 60 * time.Second,
		BackoffThreshold:  10,
	}
}

// Manager is the long-lived Scheduler Manager (spec §4.C3): a tick loop that
// claims due jobs, dispatches bounded-concurrent workers, and emits a
// synthetic Heartbeat run on its own cadence.
type Manager struct {
	store    *Store
	executor *Executor
	cfg      ManagerConfig

	heartbeatJob *Job // synthetic; never persisted

	inflight chan struct{}

	mu               sync.Mutex
	running          int
	lastHeartbeatRun time.Time
	enabled          bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a Scheduler Manager. heartbeatJob, when non-nil,
// describes the workspace/conversation the synthetic heartbeat run targets;
// pass nil to disable heartbeats regardless of cfg.HeartbeatEnabled.
func NewManager(store *Store, executor *Executor, heartbeatJob *Job, cfg ManagerConfig) *Manager {
	if cfg.TickInterval <= 0 {
		cfg = defaultManagerConfig()
	}
	if heartbeatJob == nil {
		cfg.HeartbeatEnabled = false
	}
	return &Manager{
		store:        store,
		executor:     executor,
		cfg:          cfg,
		heartbeatJob: heartbeatJob,
		inflight:     make(chan struct{}, cfg.MaxInflight),
		enabled:      true,
	}
}

// Start begins the tick loop. It is safe to call at most once.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
	logs.CtxInfo(ctx, "[scheduler] manager started (tick=%s max_inflight=%d max_claim=%d)",
		m.cfg.TickInterval, m.cfg.MaxInflight, m.cfg.MaxClaim)
}

// Stop cancels the tick loop and waits for in-flight workers to drain.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[scheduler] stop timed out waiting for in-flight runs")
	}
	logs.CtxInfo(ctx, "[scheduler] manager stopped")
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick is one iteration of the loop described in spec §4.C3 steps 1-5.
func (m *Manager) tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := m.store.ClaimDue(ctx, now, m.cfg.MaxClaim)
	if err != nil {
		// Structural error: store unreachable. Propagate via logging; the
		// loop retries on the next interval rather than crashing.
		logs.CtxError(ctx, "[scheduler] claim_due failed: %v", err)
		return
	}

	for _, job := range due {
		if !m.tryAcquire() {
			// MAX_INFLIGHT exceeded: release this claim immediately as
			// skipped/backpressure. Finish would recompute next_run_at (or
			// disable an At job outright), so clear running_at directly
			// instead and leave next_run_at/enabled/last_* untouched.
			if ferr := m.store.ReleaseClaim(ctx, job.ID); ferr != nil {
				logs.CtxWarn(ctx, "[scheduler] release backpressure-skip claim %s: %v", job.ID, ferr)
			}
			if ierr := m.store.InsertRun(ctx, &Run{
				Source: RunSourceJob, JobID: &job.ID, JobNameSnapshot: job.Name,
				TargetConversationID: job.TargetConversationID, SessionTarget: job.SessionTarget,
				TriggeredAt: now, StartedAt: now, EndedAt: now, Status: RunStatusSkipped,
				Error: "backpressure", DetailJSON: map[string]any{"reason": "backpressure"},
			}); ierr != nil {
				logs.CtxWarn(ctx, "[scheduler] insert skipped run for %s: %v", job.ID, ierr)
			}
			continue
		}
		m.dispatch(ctx, job, RunSourceJob, now)
	}

	if m.cfg.HeartbeatEnabled {
		m.mu.Lock()
		due := m.lastHeartbeatRun.IsZero() || now.Sub(m.lastHeartbeatRun) > m.cfg.HeartbeatInterval
		m.mu.Unlock()
		if due {
			m.mu.Lock()
			m.lastHeartbeatRun = now
			m.mu.Unlock()
			// A heartbeat with no actionable work is skipped entirely, not
			// dispatched as a no-op run (SPEC_FULL §3, ported from the
			// teacher's BuildHeartbeatPrompt gating).
			workspace := ""
			if m.heartbeatJob.WorkspaceDirectory != nil {
				workspace = *m.heartbeatJob.WorkspaceDirectory
			}
			if prompt, hasWork := BuildHeartbeatPrompt(workspace); hasWork {
				if m.tryAcquire() {
					hb := *m.heartbeatJob
					hb.Message = prompt
					m.dispatch(ctx, &hb, RunSourceHeartbeat, now)
				}
			} else {
				logs.CtxDebug(ctx, "[scheduler] heartbeat: no actionable work, skipping")
			}
		}
	}
}

// dispatch spawns a bounded worker for one claimed job or heartbeat. Caller
// must already hold an inflight slot (via tryAcquire); dispatch releases it.
func (m *Manager) dispatch(ctx context.Context, job *Job, source RunSource, triggeredAt time.Time) {
	m.mu.Lock()
	m.running++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release()
		defer func() {
			m.mu.Lock()
			m.running--
			m.mu.Unlock()
		}()
		// On panic/abort the job must never keep a leaked running_at, so
		// finish is recorded even when the worker itself fails
		// catastrophically (spec §4.C3 per-claim worker rule 4).
		defer func() {
			if r := recover(); r != nil {
				logs.CtxError(ctx, "[scheduler] worker panic for job %s: %v", safeJobID(job), r)
				if job.ID != "" {
					_ = m.store.Finish(ctx, job.ID, triggeredAt, FinishResult{Status: RunStatusError, Error: "aborted"})
				}
			}
		}()
		m.runOne(ctx, job, source, triggeredAt)
	}()
}

func (m *Manager) runOne(ctx context.Context, job *Job, source RunSource, triggeredAt time.Time) {
	timeout := time.Duration(job.RunTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startedAt := time.Now().UTC()
	run := m.executor.Execute(runCtx, job, source, triggeredAt, startedAt)
	if runCtx.Err() != nil && run.Status != RunStatusOK {
		run.Status = RunStatusError
		run.Error = fmt.Sprintf("timeout after %d s", job.RunTimeoutSeconds)
	}

	if err := m.store.InsertRun(ctx, run); err != nil {
		logs.CtxError(ctx, "[scheduler] insert run for job %s: %v", safeJobID(job), err)
	}

	if source == RunSourceHeartbeat || job.ID == "" {
		return
	}

	durationMs := run.EndedAt.Sub(run.StartedAt).Milliseconds()
	if err := m.store.Finish(ctx, job.ID, triggeredAt, FinishResult{
		Status: run.Status, Error: run.Error, DurationMs: durationMs,
	}); err != nil {
		logs.CtxError(ctx, "[scheduler] finish job %s: %v", job.ID, err)
	}

	// delete_after_run applies to terminal ok/error outcomes only, after the
	// run row has already been written (spec §4.C3 per-claim worker rule 3).
	if job.DeleteAfterRun && (run.Status == RunStatusOK || run.Status == RunStatusError) {
		if _, err := m.store.Delete(ctx, job.ID); err != nil {
			logs.CtxWarn(ctx, "[scheduler] delete_after_run for %s: %v", job.ID, err)
		}
	}
}

func safeJobID(job *Job) string {
	if job == nil || job.ID == "" {
		return "<heartbeat>"
	}
	return job.ID
}

func (m *Manager) tryAcquire() bool {
	select {
	case m.inflight <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) release() { <-m.inflight }

// RunJobNow sets next_run_at = now and kicks the next tick to pick it up. It
// never runs synchronously within the caller (spec §4.C3 manual actions).
func (m *Manager) RunJobNow(ctx context.Context, id string) (RunJobNowResult, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return RunJobNowResult{}, err
	}
	if job.RunningAt != nil {
		return RunJobNowResult{Accepted: false, Reason: "already running"}, nil
	}
	now := time.Now().UTC()
	if _, err := m.store.db.ExecContext(ctx, `UPDATE scheduler_jobs SET next_run_at = ? WHERE id = ?`, rfc3339(now), id); err != nil {
		return RunJobNowResult{}, fmt.Errorf("force next_run_at: %w", err)
	}
	return RunJobNowResult{Accepted: true}, nil
}

// RunHeartbeatNow triggers a synthetic heartbeat run outside its normal cadence.
func (m *Manager) RunHeartbeatNow(ctx context.Context) RunJobNowResult {
	if m.heartbeatJob == nil {
		return RunJobNowResult{Accepted: false, Reason: "heartbeat not configured"}
	}
	if !m.tryAcquire() {
		return RunJobNowResult{Accepted: false, Reason: "already running"}
	}
	m.mu.Lock()
	m.lastHeartbeatRun = time.Now().UTC()
	m.mu.Unlock()
	m.dispatch(ctx, m.heartbeatJob, RunSourceHeartbeat, time.Now().UTC())
	return RunJobNowResult{Accepted: true}
}

// Status returns the report described in spec §4.C3.
func (m *Manager) Status(ctx context.Context) (SchedulerStatus, error) {
	jobs, err := m.store.List(ctx, true)
	if err != nil {
		return SchedulerStatus{}, err
	}

	var nextWake *time.Time
	var backoffSuggested bool
	for _, j := range jobs {
		if !j.Enabled || j.NextRunAt == nil {
			continue
		}
		if nextWake == nil || j.NextRunAt.Before(*nextWake) {
			nextWake = j.NextRunAt
		}
		if j.ConsecutiveErrors > m.cfg.BackoffThreshold {
			backoffSuggested = true
		}
	}
	if m.cfg.HeartbeatEnabled {
		m.mu.Lock()
		remainder := m.cfg.HeartbeatInterval - time.Since(m.lastHeartbeatRun)
		m.mu.Unlock()
		if remainder < 0 {
			remainder = 0
		}
		hbWake := time.Now().UTC().Add(remainder)
		if nextWake == nil || hbWake.Before(*nextWake) {
			nextWake = &hbWake
		}
	}

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SchedulerStatus{
		Enabled:          m.enabled,
		HeartbeatEnabled: m.cfg.HeartbeatEnabled,
		RunningJobs:      running,
		NextWakeAt:       nextWake,
		BackoffSuggested: backoffSuggested,
	}, nil
}
