// Package scheduler implements the Agent Scheduler Core: schedule calculus,
// a durable Job/Run store, the tick-driven Scheduler Manager, and the
// Executor Adapter that bridges a claimed job to the agent-turn collaborator.
package scheduler

import "time"

// ScheduleKind is the closed set of ways a job's next fire time is computed.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// SessionTarget controls which conversation context a run's output belongs to.
type SessionTarget string

const (
	SessionMain      SessionTarget = "main"
	SessionIsolated  SessionTarget = "isolated"
	SessionHeartbeat SessionTarget = "heartbeat"
)

// RunSource distinguishes a job-driven run from a synthetic heartbeat.
type RunSource string

const (
	RunSourceJob       RunSource = "job"
	RunSourceHeartbeat RunSource = "heartbeat"
)

// RunStatus is the closed set of terminal states for a Run.
type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
	RunStatusSkipped RunStatus = "skipped"
)

// Schedule is the tagged variant { At | Every | Cron } from spec §3. Exactly
// one of the fields matching Kind is meaningful.
type Schedule struct {
	Kind ScheduleKind

	// At is the single-shot fire instant, for Kind == ScheduleAt.
	At time.Time

	// EveryMs is the interval in milliseconds, for Kind == ScheduleEvery.
	// Must be >= 1000.
	EveryMs int64

	// CronExpr is a 5-field (minute hour dom month dow) expression, or a
	// 6-field one with a leading seconds field, for Kind == ScheduleCron.
	CronExpr string
	// CronTZ is an IANA timezone identifier the cron fields are evaluated in.
	CronTZ string
}

// Job is the durable record described in spec §3.
type Job struct {
	ID          string
	Name        string
	Description string
	Enabled     bool

	Schedule             Schedule
	SessionTarget        SessionTarget
	TargetConversationID string
	Message              string

	ModelOverride      *string
	WorkspaceDirectory *string
	ToolWhitelist      []string // empty means "all"

	RunTimeoutSeconds int
	DeleteAfterRun    bool

	// Runtime fields, maintained exclusively by the Scheduler Manager.
	NextRunAt         *time.Time
	RunningAt         *time.Time
	LastRunAt         *time.Time
	LastStatus        RunStatus
	LastError         string
	LastDurationMs    int64
	ConsecutiveErrors int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run is the durable, append-only record described in spec §3.
type Run struct {
	ID                   string
	Source               RunSource
	JobID                *string // nil once the owning job is deleted
	JobNameSnapshot      string
	TargetConversationID string
	SessionTarget        SessionTarget
	TriggeredAt          time.Time
	StartedAt            time.Time
	EndedAt              time.Time
	Status               RunStatus
	Error                string
	Summary              string
	OutputText           string
	DetailJSON           map[string]any
	CreatedAt            time.Time
}

// opt is a double-option: Set distinguishes "field present in the patch"
// from "field absent"; Value, when Set, distinguishes "clear to null"
// (Value == nil) from "assign a value" (ground in spec §9: patches must
// never accidentally erase fields they don't mention).
type opt[T any] struct {
	Set   bool
	Value *T
}

// Opt constructs a patch field that assigns a value.
func Opt[T any](v T) opt[T] { return opt[T]{Set: true, Value: &v} }

// Clear constructs a patch field that explicitly sets the field to null.
func Clear[T any]() opt[T] { return opt[T]{Set: true, Value: nil} }

// JobCreateInput is the validated input to Store.Create.
type JobCreateInput struct {
	Name                 string
	Description          string
	Enabled              bool
	Schedule             Schedule
	SessionTarget        SessionTarget
	TargetConversationID string
	Message              string
	ModelOverride        *string
	WorkspaceDirectory   *string
	ToolWhitelist        []string
	RunTimeoutSeconds    int
	DeleteAfterRun       bool
}

// JobPatch is a partial update. Every optional field is a double-option so
// an absent field in the patch never erases existing state.
type JobPatch struct {
	Name                 opt[string]
	Description          opt[string]
	Enabled              opt[bool]
	Schedule             opt[Schedule]
	SessionTarget        opt[SessionTarget]
	TargetConversationID opt[string]
	Message              opt[string]
	ModelOverride        opt[string]
	WorkspaceDirectory   opt[string]
	ToolWhitelist        opt[[]string]
	RunTimeoutSeconds    opt[int]
	DeleteAfterRun       opt[bool]
}

// ScheduleChanged reports whether the patch touches the schedule, which per
// spec §4.C2 forces next_run_at to be recomputed.
func (p JobPatch) ScheduleChanged() bool {
	return p.Schedule.Set
}

// SchedulerStatus is the status report described in spec §4.C3.
type SchedulerStatus struct {
	Enabled          bool
	HeartbeatEnabled bool
	RunningJobs      int
	NextWakeAt       *time.Time
	BackoffSuggested bool
}

// RunJobNowResult is the result of a manual run_job_now/run_heartbeat_now call.
type RunJobNowResult struct {
	Accepted bool
	Reason   string
}
