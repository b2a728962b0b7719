package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kestrelai/deskagent/internal/pkg/tokens"
)

// AgentTurnRequest is the input to the out-of-core agent-turn collaborator
// (spec §1 Non-goals: "Implementing the agent's per-turn reasoning loop
// itself... assumed to be a callable collaborator run_agent_turn").
type AgentTurnRequest struct {
	ConversationID        string
	Message               string
	Workspace             *string
	ModelOverride         *string
	PersistToMainContext  bool
	ToolWhitelist         []string
}

// AgentTurnResult is the structured result described in spec §4.C4.
type AgentTurnResult struct {
	Content       string
	Reasoning     string
	Rounds        int
	ToolCalls     []string
	BlockedTools  []string
	GuardStopped  bool
}

// AgentTurn is the capability interface the Executor Adapter calls into. The
// core never implements it; it only specifies the contract (spec §6).
type AgentTurn interface {
	RunAgentTurn(ctx context.Context, req AgentTurnRequest) (*AgentTurnResult, error)
}

// ConversationWriter is the minimal surface the Executor Adapter needs to
// append a summary message to an isolated run's target conversation.
type ConversationWriter interface {
	AppendAssistantMessage(ctx context.Context, conversationID, content string) error
}

// Executor bridges a claimed job (or heartbeat) to the agent-turn
// collaborator and normalizes the result into a Run, per spec §4.C4.
type Executor struct {
	agent  AgentTurn
	convos ConversationWriter
}

// NewExecutor constructs an Executor Adapter.
func NewExecutor(agent AgentTurn, convos ConversationWriter) *Executor {
	return &Executor{agent: agent, convos: convos}
}

// maxSummaryRunes is the cap spec §4.C4 places on the isolated-run summary.
const maxSummaryRunes = 220

// Execute runs one claimed job (or a synthetic heartbeat job with JobID nil)
// and returns the Run row to persist. It never returns an error for a failed
// agent turn; run-level failures are encoded as RunStatusError in the Run.
func (e *Executor) Execute(ctx context.Context, job *Job, source RunSource, triggeredAt, startedAt time.Time) *Run {
	persistToMain := job.SessionTarget == SessionMain || source == RunSourceHeartbeat

	run := &Run{
		JobNameSnapshot:      job.Name,
		Source:               source,
		TargetConversationID: job.TargetConversationID,
		SessionTarget:        job.SessionTarget,
		TriggeredAt:          triggeredAt,
		DetailJSON:           map[string]any{},
	}
	if job.ID != "" {
		id := job.ID
		run.JobID = &id
	}

	result, err := e.agent.RunAgentTurn(ctx, AgentTurnRequest{
		ConversationID:       job.TargetConversationID,
		Message:              job.Message,
		Workspace:            job.WorkspaceDirectory,
		ModelOverride:        job.ModelOverride,
		PersistToMainContext: persistToMain,
		ToolWhitelist:        job.ToolWhitelist,
	})
	run.StartedAt = startedAt

	if err != nil {
		run.Status = RunStatusError
		run.Error = err.Error()
		run.EndedAt = time.Now().UTC()
		return run
	}

	run.OutputText = result.Content
	run.Summary = summarize(result.Content)
	run.DetailJSON["reasoning"] = result.Reasoning
	run.DetailJSON["rounds"] = result.Rounds
	run.DetailJSON["tool_calls"] = result.ToolCalls
	run.DetailJSON["blocked_tools"] = result.BlockedTools
	run.DetailJSON["guard_stopped"] = result.GuardStopped
	run.DetailJSON["tokens_in"] = tokens.Count(job.Message)
	run.DetailJSON["tokens_out"] = tokens.Count(result.Content) + tokens.Count(result.Reasoning)
	run.Status = RunStatusOK

	// Isolated, non-heartbeat success: append a summary message to the
	// target conversation instead of relying on the agent turn having
	// written into the main context directly.
	if job.SessionTarget == SessionIsolated && source != RunSourceHeartbeat {
		msg := fmt.Sprintf("[Scheduled isolated run] %s", run.Summary)
		if werr := e.convos.AppendAssistantMessage(ctx, job.TargetConversationID, msg); werr != nil {
			run.Status = RunStatusError
			run.Error = fmt.Sprintf("write summary message: %v", werr)
			run.DetailJSON["failedToWriteSummary"] = true
		}
	}

	run.EndedAt = time.Now().UTC()
	return run
}

// summarize returns the first non-empty line of content, truncated to
// maxSummaryRunes Unicode scalar values, falling back to "(empty)".
func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return truncateRunes(trimmed, maxSummaryRunes)
	}
	return "(empty)"
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
