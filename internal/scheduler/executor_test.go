package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeAgentTurn struct {
	result *AgentTurnResult
	err    error
}

func (f *fakeAgentTurn) RunAgentTurn(context.Context, AgentTurnRequest) (*AgentTurnResult, error) {
	return f.result, f.err
}

type fakeConversationWriter struct {
	appended map[string]string
	failNext bool
}

func newFakeConversationWriter() *fakeConversationWriter {
	return &fakeConversationWriter{appended: make(map[string]string)}
}

func (f *fakeConversationWriter) AppendAssistantMessage(_ context.Context, conversationID, content string) error {
	if f.failNext {
		return errors.New("write failed")
	}
	f.appended[conversationID] = content
	return nil
}

func TestExecutor_IsolatedSuccess_WritesSummary(t *testing.T) {
	agent := &fakeAgentTurn{result: &AgentTurnResult{Content: "Hello.\nWorld"}}
	convos := newFakeConversationWriter()
	exec := NewExecutor(agent, convos)

	job := &Job{ID: "job-1", SessionTarget: SessionIsolated, TargetConversationID: "conv-1"}
	now := time.Now().UTC()

	run := exec.Execute(context.Background(), job, RunSourceJob, now, now)
	if run.Status != RunStatusOK {
		t.Fatalf("status = %v, want ok", run.Status)
	}
	if run.Summary != "Hello." {
		t.Errorf("summary = %q, want %q", run.Summary, "Hello.")
	}
	want := "[Scheduled isolated run] Hello."
	if convos.appended["conv-1"] != want {
		t.Errorf("appended message = %q, want %q", convos.appended["conv-1"], want)
	}
}

func TestExecutor_IsolatedSummaryWriteFailure_DegradesToError(t *testing.T) {
	agent := &fakeAgentTurn{result: &AgentTurnResult{Content: "did the thing"}}
	convos := newFakeConversationWriter()
	convos.failNext = true
	exec := NewExecutor(agent, convos)

	job := &Job{ID: "job-1", SessionTarget: SessionIsolated, TargetConversationID: "conv-1"}
	now := time.Now().UTC()

	run := exec.Execute(context.Background(), job, RunSourceJob, now, now)
	if run.Status != RunStatusError {
		t.Fatalf("status = %v, want error", run.Status)
	}
	if run.DetailJSON["failedToWriteSummary"] != true {
		t.Error("expected detail_json.failedToWriteSummary = true")
	}
	if run.OutputText != "did the thing" {
		t.Error("output should still be preserved despite the degraded status")
	}
}

func TestExecutor_MainSessionDoesNotWriteSummary(t *testing.T) {
	agent := &fakeAgentTurn{result: &AgentTurnResult{Content: "ok"}}
	convos := newFakeConversationWriter()
	exec := NewExecutor(agent, convos)

	job := &Job{ID: "job-1", SessionTarget: SessionMain, TargetConversationID: "conv-1"}
	now := time.Now().UTC()

	exec.Execute(context.Background(), job, RunSourceJob, now, now)
	if _, ok := convos.appended["conv-1"]; ok {
		t.Error("main-session jobs must not write an isolated summary message")
	}
}

func TestExecutor_AgentTurnError_ProducesErrorRun(t *testing.T) {
	agent := &fakeAgentTurn{err: errors.New("boom")}
	exec := NewExecutor(agent, newFakeConversationWriter())
	job := &Job{ID: "job-1", SessionTarget: SessionMain, TargetConversationID: "conv-1"}
	now := time.Now().UTC()

	run := exec.Execute(context.Background(), job, RunSourceJob, now, now)
	if run.Status != RunStatusError {
		t.Fatalf("status = %v, want error", run.Status)
	}
	if run.Error != "boom" {
		t.Errorf("error = %q, want boom", run.Error)
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize("\n\n  Hello world  \nmore text"); got != "Hello world" {
		t.Errorf("got %q", got)
	}
	if got := summarize(""); got != "(empty)" {
		t.Errorf("got %q, want (empty)", got)
	}
	long := strings.Repeat("a", 300)
	got := summarize(long)
	if len([]rune(got)) != maxSummaryRunes {
		t.Errorf("expected truncation to %d runes, got %d", maxSummaryRunes, len([]rune(got)))
	}
}
