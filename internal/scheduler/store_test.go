package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name:                 "daily digest",
		Enabled:              true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		SessionTarget:        SessionMain,
		TargetConversationID: "conv-1",
		Message:              "summarize today",
		RunTimeoutSeconds:    60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set")
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "daily digest" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestStore_Create_RejectsEveryBelowMinimum(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, JobCreateInput{
		Name: "too fast", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 500},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err == nil {
		t.Fatal("expected 500ms every interval to be rejected")
	}
}

func TestStore_Create_RejectsPastAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, JobCreateInput{
		Name: "stale", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleAt, At: time.Now().Add(-time.Hour)},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err == nil {
		t.Fatal("expected past At schedule to be rejected")
	}
}

func TestStore_Patch_RecomputesNextRunOnScheduleChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name: "j", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	originalNext := *job.NextRunAt

	patched, err := s.Patch(ctx, job.ID, JobPatch{
		Schedule: Opt(Schedule{Kind: ScheduleEvery, EveryMs: 120_000}),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.NextRunAt == nil {
		t.Fatal("expected next_run_at to remain set")
	}
	if patched.NextRunAt.Equal(originalNext) {
		t.Error("expected next_run_at to be recomputed after schedule change")
	}
}

func TestStore_Patch_AbsentFieldsUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ws := "/workspace"
	job, err := s.Create(ctx, JobCreateInput{
		Name: "j", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
		WorkspaceDirectory: &ws,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	patched, err := s.Patch(ctx, job.ID, JobPatch{Name: Opt("renamed")})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.WorkspaceDirectory == nil || *patched.WorkspaceDirectory != ws {
		t.Error("workspace_directory should survive an unrelated patch")
	}

	cleared, err := s.Patch(ctx, job.ID, JobPatch{WorkspaceDirectory: Clear[string]()})
	if err != nil {
		t.Fatalf("patch clear: %v", err)
	}
	if cleared.WorkspaceDirectory != nil {
		t.Error("workspace_directory should be nil after an explicit clear")
	}
}

func TestStore_Delete_DetachesRunsNotDeletesThem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name: "j", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	jobID := job.ID
	for i := 0; i < 3; i++ {
		run := &Run{Source: RunSourceJob, JobID: &jobID, JobNameSnapshot: job.Name,
			TriggeredAt: time.Now(), StartedAt: time.Now(), EndedAt: time.Now(), Status: RunStatusOK}
		if err := s.InsertRun(ctx, run); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	deleted, err := s.Delete(ctx, job.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}

	runs, err := s.ListRuns(ctx, nil, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 surviving runs, got %d", len(runs))
	}
	for _, r := range runs {
		if r.JobID != nil {
			t.Error("run.job_id should be null after owning job is deleted")
		}
	}
}

func TestStore_ClaimDue_SingleTransactionNoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name: "j", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	future := time.Now().Add(time.Hour)
	if _, err := s.db.ExecContext(ctx, `UPDATE scheduler_jobs SET next_run_at = ? WHERE id = ?`, rfc3339(time.Now().Add(-time.Minute)), job.ID); err != nil {
		t.Fatalf("force due: %v", err)
	}
	_ = future

	first, err := s.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim_due: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(first))
	}
	if first[0].RunningAt == nil {
		t.Fatal("claimed job must have running_at set")
	}

	second, err := s.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim_due again: %v", err)
	}
	if len(second) != 0 {
		t.Fatal("a running job must not be claimed twice")
	}
}

func TestStore_Finish_ErrorAppliesBackoff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name: "j", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	if err := s.Finish(ctx, job.ID, now, FinishResult{Status: RunStatusError, Error: "boom"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunningAt != nil {
		t.Error("running_at must be cleared after finish")
	}
	if got.ConsecutiveErrors != 1 {
		t.Errorf("consecutive_errors = %d, want 1", got.ConsecutiveErrors)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(now.Add(20*time.Second)) {
		t.Error("expected next_run_at to reflect the backoff delay")
	}
}

func TestStore_Finish_AtScheduleDisablesJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Create(ctx, JobCreateInput{
		Name: "one-shot", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleAt, At: time.Now().Add(time.Hour)},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Finish(ctx, job.ID, time.Now(), FinishResult{Status: RunStatusOK}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Error("an At job must be disabled after its single run")
	}
}

func TestStore_ReleaseClaim_LeavesSchedulingFieldsUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Now().Add(time.Hour)
	job, err := s.Create(ctx, JobCreateInput{
		Name: "one-shot", Enabled: true,
		Schedule:             Schedule{Kind: ScheduleAt, At: at},
		TargetConversationID: "c", RunTimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := s.ClaimDue(ctx, at.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim_due: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(claimed))
	}

	if err := s.ReleaseClaim(ctx, job.ID); err != nil {
		t.Fatalf("release claim: %v", err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunningAt != nil {
		t.Error("running_at must be cleared after release")
	}
	if !got.Enabled {
		t.Error("a backpressure-skipped At job must remain enabled so it can still run")
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(at) {
		t.Errorf("next_run_at must be left unchanged by a backpressure release, got %v want %v", got.NextRunAt, at)
	}
}
