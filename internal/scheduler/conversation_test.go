package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtractUserMessages_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	excerpts, err := ExtractUserMessages(dir, time.Now(), 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 0 {
		t.Fatalf("expected 0 excerpts, got %d", len(excerpts))
	}
}

func TestExtractUserMessages_MissingDir(t *testing.T) {
	excerpts, err := ExtractUserMessages("/nonexistent/path", time.Now(), 20)
	if err != nil {
		t.Fatalf("unexpected error for missing dir: %v", err)
	}
	if len(excerpts) != 0 {
		t.Fatalf("expected 0 excerpts, got %d", len(excerpts))
	}
}

func TestExtractUserMessages_FiltersCronSessions(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	updatedAt := now.Format(time.RFC3339)

	cronContent := `{"_type":"meta","session_key":"cron:__heartbeat__:agent-1","updated_at":"` + updatedAt + `"}
{"_type":"msg","msg":{"role":"user","content":"heartbeat check"}}
`
	os.WriteFile(filepath.Join(dir, "cron-session.jsonl"), []byte(cronContent), 0o644)

	excerpts, err := ExtractUserMessages(dir, now, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 0 {
		t.Fatalf("expected 0 excerpts (cron filtered), got %d", len(excerpts))
	}
}

func TestExtractUserMessages_ExtractsUserOnly(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	updatedAt := now.Format(time.RFC3339)

	content := `{"_type":"meta","session_key":"agent:default:main:user1","updated_at":"` + updatedAt + `"}
{"_type":"msg","msg":{"role":"user","content":"Hello"}}
{"_type":"msg","msg":{"role":"assistant","content":"Hello! How can I help?"}}
{"_type":"msg","msg":{"role":"user","content":"What time is it?"}}
{"_type":"msg","msg":{"role":"assistant","content":"It's 3pm."}}
`
	os.WriteFile(filepath.Join(dir, "user-session.jsonl"), []byte(content), 0o644)

	excerpts, err := ExtractUserMessages(dir, now, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 1 {
		t.Fatalf("expected 1 excerpt, got %d", len(excerpts))
	}
	if len(excerpts[0].Messages) != 2 {
		t.Fatalf("expected 2 user messages, got %d", len(excerpts[0].Messages))
	}
}

func TestExtractUserMessages_RespectsMaxPerSession(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	updatedAt := now.Format(time.RFC3339)

	content := `{"_type":"meta","session_key":"agent:default:main:user1","updated_at":"` + updatedAt + `"}
{"_type":"msg","msg":{"role":"user","content":"msg1"}}
{"_type":"msg","msg":{"role":"user","content":"msg2"}}
{"_type":"msg","msg":{"role":"user","content":"msg3"}}
{"_type":"msg","msg":{"role":"user","content":"msg4"}}
`
	os.WriteFile(filepath.Join(dir, "multi-msg.jsonl"), []byte(content), 0o644)

	excerpts, err := ExtractUserMessages(dir, now, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 1 {
		t.Fatalf("expected 1 excerpt, got %d", len(excerpts))
	}
	if len(excerpts[0].Messages) != 3 {
		t.Fatalf("expected 3 messages (maxPerSession=3), got %d", len(excerpts[0].Messages))
	}
}

func TestExtractUserMessages_SkipsOldSessions(t *testing.T) {
	dir := t.TempDir()
	twoDaysAgo := time.Now().AddDate(0, 0, -2)
	updatedAt := twoDaysAgo.Format(time.RFC3339)

	content := `{"_type":"meta","session_key":"agent:default:main:user1","updated_at":"` + updatedAt + `"}
{"_type":"msg","msg":{"role":"user","content":"old message"}}
`
	os.WriteFile(filepath.Join(dir, "old-session.jsonl"), []byte(content), 0o644)

	excerpts, err := ExtractUserMessages(dir, time.Now(), 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 0 {
		t.Fatalf("expected 0 excerpts (old session), got %d", len(excerpts))
	}
}

func TestJSONLConversationStore_AppendAssistantMessage(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLConversationStore(dir)

	if err := store.AppendAssistantMessage(context.Background(), "conv-1", "[Scheduled isolated run] done"); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "conv-1.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a written line")
	}
}
