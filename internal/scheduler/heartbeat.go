package scheduler

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// heartbeatFile is the workspace-relative path to the heartbeat prompt.
const heartbeatFile = "HEARTBEAT.md"

// heartbeatMaxJitter bounds the random delay added to a fresh heartbeat job's
// NextRunAt. The Manager times heartbeats from its own last heartbeat run and
// does not read NextRunAt, so the first heartbeat is due on its first tick.
const heartbeatMaxJitter = 60 * time.Second

// NewHeartbeatJob builds the synthetic, never-persisted Job the Manager
// dispatches on its own cadence (spec §4.C3 step 4). workspace is read by
// BuildHeartbeatPrompt to decide whether there is actionable work.
func NewHeartbeatJob(targetConversationID, workspace string, interval time.Duration) *Job {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	now := time.Now().UTC()
	jitter := time.Duration(rand.Int64N(int64(heartbeatMaxJitter)))
	next := now.Add(interval).Add(jitter)
	ws := workspace
	return &Job{
		Name:                 "heartbeat",
		Enabled:              true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: interval.Milliseconds()},
		SessionTarget:        SessionMain,
		TargetConversationID: targetConversationID,
		WorkspaceDirectory:   &ws,
		RunTimeoutSeconds:    300,
		NextRunAt:            &next,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// BuildHeartbeatPrompt reads HEARTBEAT.md from the workspace and decides
// whether there is actionable work. If the file is missing, empty, or
// contains only markdown headings and HTML comments, it returns ("", false)
// so the caller can skip dispatching the run (SPEC_FULL §3).
func BuildHeartbeatPrompt(workspace string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(workspace, heartbeatFile))
	if err != nil {
		return "", false
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false
	}

	hasWork := false
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if inComment {
			if strings.Contains(trimmed, "-->") {
				inComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			if !strings.Contains(trimmed, "-->") {
				inComment = true
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		hasWork = true
		break
	}

	if !hasWork {
		return "", false
	}
	return content, true
}
