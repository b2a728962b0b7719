package scheduler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildHeartbeatPrompt_MissingFile(t *testing.T) {
	_, hasWork := BuildHeartbeatPrompt(t.TempDir())
	if hasWork {
		t.Fatal("expected no work for missing file")
	}
}

func TestBuildHeartbeatPrompt_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, heartbeatFile), []byte(""), 0o644)

	_, hasWork := BuildHeartbeatPrompt(dir)
	if hasWork {
		t.Fatal("expected no work for empty file")
	}
}

func TestBuildHeartbeatPrompt_HeadersAndCommentsOnly(t *testing.T) {
	headersOnly := `# HEARTBEAT.md
## Active Tasks
<!-- no tasks -->
## Completed
<!-- nothing -->
`
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, heartbeatFile), []byte(headersOnly), 0o644)

	_, hasWork := BuildHeartbeatPrompt(dir)
	if hasWork {
		t.Fatal("expected no work for headers-and-comments-only file")
	}
}

func TestBuildHeartbeatPrompt_WithTasks(t *testing.T) {
	content := `# HEARTBEAT.md

## Active Tasks

- Check inbox
- Review calendar
`
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, heartbeatFile), []byte(content), 0o644)

	prompt, hasWork := BuildHeartbeatPrompt(dir)
	if !hasWork {
		t.Fatal("expected work for file with tasks")
	}
	if prompt == "" {
		t.Fatal("expected non-empty prompt")
	}
}

func TestNewHeartbeatJob(t *testing.T) {
	job := NewHeartbeatJob("conv-1", "/workspace", 0)

	if job.SessionTarget != SessionMain {
		t.Errorf("session target = %q, want main", job.SessionTarget)
	}
	if job.NextRunAt == nil {
		t.Fatal("NextRunAt should be set")
	}
	if job.ID != "" {
		t.Error("synthetic heartbeat job must not carry a persisted ID")
	}
}
