package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable Job/Run persistence layer described in spec §4.C2.
// It replaces the teacher's JSON-file store with a relational one so that
// claim_due and finish can be single atomic transactions.
type Store struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scheduler_jobs (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	enabled                INTEGER NOT NULL,
	schedule_kind          TEXT NOT NULL,
	schedule_at            TEXT,
	schedule_every_ms      INTEGER,
	schedule_cron_expr     TEXT,
	schedule_cron_tz       TEXT,
	session_target         TEXT NOT NULL,
	target_conversation_id TEXT NOT NULL,
	message                TEXT NOT NULL,
	model_override         TEXT,
	workspace_directory    TEXT,
	tool_whitelist         TEXT,
	run_timeout_seconds    INTEGER NOT NULL,
	delete_after_run       INTEGER NOT NULL,
	next_run_at            TEXT,
	running_at             TEXT,
	last_run_at            TEXT,
	last_status            TEXT NOT NULL DEFAULT '',
	last_error             TEXT NOT NULL DEFAULT '',
	last_duration_ms       INTEGER NOT NULL DEFAULT 0,
	consecutive_errors     INTEGER NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduler_jobs_due ON scheduler_jobs(enabled, next_run_at);

CREATE TABLE IF NOT EXISTS scheduler_runs (
	id                     TEXT PRIMARY KEY,
	source                 TEXT NOT NULL,
	job_id                 TEXT,
	job_name_snapshot      TEXT NOT NULL,
	target_conversation_id TEXT NOT NULL,
	session_target         TEXT NOT NULL,
	triggered_at           TEXT NOT NULL,
	started_at             TEXT NOT NULL,
	ended_at               TEXT NOT NULL,
	status                 TEXT NOT NULL,
	error                  TEXT NOT NULL DEFAULT '',
	summary                TEXT NOT NULL DEFAULT '',
	output_text            TEXT NOT NULL DEFAULT '',
	detail_json            TEXT NOT NULL DEFAULT '{}',
	created_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduler_runs_job ON scheduler_runs(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_scheduler_runs_source ON scheduler_runs(source, created_at);
`

// OpenStore opens (creating if necessary) the sqlite-backed job/run store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers anyway; avoid lock storms
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate scheduler store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	// Fixed-width fractional seconds keep the stored text in time order, so
	// SQL text comparisons such as next_run_at <= ? agree with the instants.
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNull(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

// Create validates and inserts a new job, computing its initial next_run_at.
func (s *Store) Create(ctx context.Context, in JobCreateInput) (*Job, error) {
	if err := ValidateSchedule(in.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	now := time.Now().UTC()
	next, ok, err := NextFire(in.Schedule, now, time.Time{})
	if err != nil {
		return nil, err
	}
	if in.Schedule.Kind == ScheduleAt && !ok {
		return nil, fmt.Errorf("at schedule %s is in the past", in.Schedule.At)
	}
	if in.RunTimeoutSeconds < 5 || in.RunTimeoutSeconds > 86_400 {
		return nil, fmt.Errorf("run_timeout_seconds must be in [5, 86400]")
	}

	job := &Job{
		ID:                   uuid.New().String(),
		Name:                 in.Name,
		Description:          in.Description,
		Enabled:              in.Enabled,
		Schedule:             in.Schedule,
		SessionTarget:        in.SessionTarget,
		TargetConversationID: in.TargetConversationID,
		Message:              in.Message,
		ModelOverride:        in.ModelOverride,
		WorkspaceDirectory:   in.WorkspaceDirectory,
		ToolWhitelist:        in.ToolWhitelist,
		RunTimeoutSeconds:    in.RunTimeoutSeconds,
		DeleteAfterRun:       in.DeleteAfterRun,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if ok {
		job.NextRunAt = &next
	}

	toolJSON, err := sonic.MarshalString(job.ToolWhitelist)
	if err != nil {
		return nil, fmt.Errorf("marshal tool whitelist: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (
			id, name, description, enabled, schedule_kind, schedule_at, schedule_every_ms,
			schedule_cron_expr, schedule_cron_tz, session_target, target_conversation_id, message,
			model_override, workspace_directory, tool_whitelist, run_timeout_seconds,
			delete_after_run, next_run_at, running_at, last_run_at, last_status, last_error,
			last_duration_ms, consecutive_errors, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Name, job.Description, job.Enabled, string(job.Schedule.Kind),
		nullableAt(job.Schedule), job.Schedule.EveryMs, job.Schedule.CronExpr, job.Schedule.CronTZ,
		string(job.SessionTarget), job.TargetConversationID, job.Message,
		nullStr(job.ModelOverride), nullStr(job.WorkspaceDirectory), toolJSON,
		job.RunTimeoutSeconds, job.DeleteAfterRun, rfc3339(derefTime(job.NextRunAt)), nil, nil,
		"", "", 0, 0, rfc3339(job.CreatedAt), rfc3339(job.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func nullableAt(s Schedule) sql.NullString {
	if s.Kind != ScheduleAt {
		return sql.NullString{}
	}
	return sql.NullString{String: rfc3339(s.At), Valid: true}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Patch applies a partial update. If the patch touches the schedule,
// next_run_at is recomputed; running_at is left untouched (spec §4.C2).
func (s *Store) Patch(ctx context.Context, id string, p JobPatch) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name.Set && p.Name.Value != nil {
		job.Name = *p.Name.Value
	}
	if p.Description.Set {
		if p.Description.Value != nil {
			job.Description = *p.Description.Value
		} else {
			job.Description = ""
		}
	}
	if p.Enabled.Set && p.Enabled.Value != nil {
		job.Enabled = *p.Enabled.Value
	}
	if p.SessionTarget.Set && p.SessionTarget.Value != nil {
		job.SessionTarget = *p.SessionTarget.Value
	}
	if p.TargetConversationID.Set && p.TargetConversationID.Value != nil {
		job.TargetConversationID = *p.TargetConversationID.Value
	}
	if p.Message.Set && p.Message.Value != nil {
		job.Message = *p.Message.Value
	}
	if p.ModelOverride.Set {
		job.ModelOverride = p.ModelOverride.Value
	}
	if p.WorkspaceDirectory.Set {
		job.WorkspaceDirectory = p.WorkspaceDirectory.Value
	}
	if p.ToolWhitelist.Set {
		if p.ToolWhitelist.Value != nil {
			job.ToolWhitelist = *p.ToolWhitelist.Value
		} else {
			job.ToolWhitelist = nil
		}
	}
	if p.RunTimeoutSeconds.Set && p.RunTimeoutSeconds.Value != nil {
		if *p.RunTimeoutSeconds.Value < 5 || *p.RunTimeoutSeconds.Value > 86_400 {
			return nil, fmt.Errorf("run_timeout_seconds must be in [5, 86400]")
		}
		job.RunTimeoutSeconds = *p.RunTimeoutSeconds.Value
	}
	if p.DeleteAfterRun.Set && p.DeleteAfterRun.Value != nil {
		job.DeleteAfterRun = *p.DeleteAfterRun.Value
	}

	if p.ScheduleChanged() && p.Schedule.Value != nil {
		if err := ValidateSchedule(*p.Schedule.Value); err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		job.Schedule = *p.Schedule.Value
		next, ok, err := NextFire(job.Schedule, time.Now().UTC(), time.Time{})
		if err != nil {
			return nil, err
		}
		if ok {
			job.NextRunAt = &next
		} else {
			job.NextRunAt = nil
		}
	}
	job.UpdatedAt = time.Now().UTC()

	toolJSON, err := sonic.MarshalString(job.ToolWhitelist)
	if err != nil {
		return nil, fmt.Errorf("marshal tool whitelist: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET
			name=?, description=?, enabled=?, schedule_kind=?, schedule_at=?, schedule_every_ms=?,
			schedule_cron_expr=?, schedule_cron_tz=?, session_target=?, target_conversation_id=?,
			message=?, model_override=?, workspace_directory=?, tool_whitelist=?,
			run_timeout_seconds=?, delete_after_run=?, next_run_at=?, updated_at=?
		WHERE id=?`,
		job.Name, job.Description, job.Enabled, string(job.Schedule.Kind),
		nullableAt(job.Schedule), job.Schedule.EveryMs, job.Schedule.CronExpr, job.Schedule.CronTZ,
		string(job.SessionTarget), job.TargetConversationID, job.Message,
		nullStr(job.ModelOverride), nullStr(job.WorkspaceDirectory), toolJSON,
		job.RunTimeoutSeconds, job.DeleteAfterRun, rfc3339(derefTime(job.NextRunAt)),
		rfc3339(job.UpdatedAt), job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

// Delete removes a job. Historical runs survive with job_id set to null
// (ON DELETE SET NULL semantics, applied explicitly since go-sqlite3 doesn't
// enforce FKs across these two independently-keyed tables).
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE scheduler_runs SET job_id = NULL WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("detach runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns a single job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job not found: %s", id)
		}
		return nil, err
	}
	return job, nil
}

// List returns all jobs, optionally including disabled ones.
func (s *Store) List(ctx context.Context, includeDisabled bool) ([]*Job, error) {
	query := jobSelectColumns
	if !includeDisabled {
		query += ` WHERE enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimDue atomically selects up to limit enabled jobs with next_run_at <=
// now and running_at IS NULL, marks them running_at = now, and returns them.
// This is a single transaction so no two callers can claim the same job.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, jobSelectColumns+`
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ? AND running_at IS NULL
		ORDER BY next_run_at ASC LIMIT ?`, rfc3339(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	nowStr := rfc3339(now)
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, `UPDATE scheduler_jobs SET running_at = ? WHERE id = ?`, nowStr, job.ID); err != nil {
			return nil, fmt.Errorf("mark running: %w", err)
		}
		job.RunningAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ReleaseClaim clears running_at only, leaving next_run_at, enabled, and
// last_* untouched. Used when a claimed job is skipped for backpressure
// (spec §4.C3 step 3 / §8: a backpressure skip must leave next_run_at
// unchanged) rather than actually run.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduler_jobs SET running_at = NULL WHERE id = ?`, id)
	return err
}

// FinishResult carries the outcome of a claimed run, used by Finish to
// update last_* fields and recompute next_run_at.
type FinishResult struct {
	Status     RunStatus
	Error      string
	DurationMs int64
}

// Finish clears running_at, records the outcome, and recomputes next_run_at
// (or disables the job, for At schedules or when no next fire time exists).
// It does not act on delete_after_run; the Manager deletes such jobs itself.
func (s *Store) Finish(ctx context.Context, id string, triggeredAt time.Time, result FinishResult) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	job.RunningAt = nil
	job.LastRunAt = &triggeredAt
	job.LastStatus = result.Status
	job.LastError = result.Error
	job.LastDurationMs = result.DurationMs
	if result.Status == RunStatusOK {
		job.ConsecutiveErrors = 0
	} else if result.Status == RunStatusError {
		job.ConsecutiveErrors++
	}

	now := time.Now().UTC()
	var nextRunAt *time.Time
	if job.Schedule.Kind == ScheduleAt {
		job.Enabled = false
	} else {
		prev := derefTime(job.NextRunAt)
		base := now
		if result.Status == RunStatusError {
			base = triggeredAt.Add(backoffDelay(job.ConsecutiveErrors))
		}
		next, ok, err := NextFire(job.Schedule, base, prev)
		if err != nil || !ok {
			job.Enabled = false
		} else {
			nextRunAt = &next
		}
	}
	job.NextRunAt = nextRunAt
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET
			running_at = NULL, last_run_at = ?, last_status = ?, last_error = ?,
			last_duration_ms = ?, consecutive_errors = ?, next_run_at = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		rfc3339(triggeredAt), string(job.LastStatus), job.LastError, job.LastDurationMs,
		job.ConsecutiveErrors, rfc3339(derefTime(job.NextRunAt)), job.Enabled, rfc3339(job.UpdatedAt), id,
	)
	return err
}

// InsertRun persists a completed Run row.
func (s *Store) InsertRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	detail, err := sonic.MarshalString(run.DetailJSON)
	if err != nil {
		return fmt.Errorf("marshal detail_json: %w", err)
	}
	var jobID sql.NullString
	if run.JobID != nil {
		jobID = sql.NullString{String: *run.JobID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (
			id, source, job_id, job_name_snapshot, target_conversation_id, session_target,
			triggered_at, started_at, ended_at, status, error, summary, output_text, detail_json, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, string(run.Source), jobID, run.JobNameSnapshot, run.TargetConversationID,
		string(run.SessionTarget), rfc3339(run.TriggeredAt), rfc3339(run.StartedAt), rfc3339(run.EndedAt),
		string(run.Status), run.Error, run.Summary, run.OutputText, detail, rfc3339(run.CreatedAt),
	)
	return err
}

const runSelectColumns = `SELECT id, source, job_id, job_name_snapshot, target_conversation_id, session_target,
	triggered_at, started_at, ended_at, status, error, summary, output_text, detail_json, created_at
	FROM scheduler_runs`

// ListRuns returns runs for a job (or all runs if jobID is nil), newest first.
func (s *Store) ListRuns(ctx context.Context, jobID *string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if jobID != nil {
		rows, err = s.db.QueryContext(ctx, runSelectColumns+` WHERE job_id = ? ORDER BY created_at DESC LIMIT ?`, *jobID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, runSelectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

const jobSelectColumns = `SELECT id, name, description, enabled, schedule_kind, schedule_at, schedule_every_ms,
	schedule_cron_expr, schedule_cron_tz, session_target, target_conversation_id, message,
	model_override, workspace_directory, tool_whitelist, run_timeout_seconds, delete_after_run,
	next_run_at, running_at, last_run_at, last_status, last_error, last_duration_ms,
	consecutive_errors, created_at, updated_at FROM scheduler_jobs`

func scanJob(row scanner) (*Job, error) {
	var (
		j                                                     Job
		scheduleAt, nextRunAt, runningAt, lastRunAt            sql.NullString
		modelOverride, workspaceDir                            sql.NullString
		toolJSON                                               string
		createdAt, updatedAt                                   string
	)
	if err := row.Scan(
		&j.ID, &j.Name, &j.Description, &j.Enabled, &j.Schedule.Kind, &scheduleAt, &j.Schedule.EveryMs,
		&j.Schedule.CronExpr, &j.Schedule.CronTZ, &j.SessionTarget, &j.TargetConversationID, &j.Message,
		&modelOverride, &workspaceDir, &toolJSON, &j.RunTimeoutSeconds, &j.DeleteAfterRun,
		&nextRunAt, &runningAt, &lastRunAt, &j.LastStatus, &j.LastError, &j.LastDurationMs,
		&j.ConsecutiveErrors, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if scheduleAt.Valid {
		j.Schedule.At = derefTime(parseTimePtr(scheduleAt.String))
	}
	j.ModelOverride = ptrFromNull(modelOverride)
	j.WorkspaceDirectory = ptrFromNull(workspaceDir)
	_ = sonic.UnmarshalString(toolJSON, &j.ToolWhitelist)
	j.NextRunAt = parseTimePtr(nextRunAt.String)
	j.RunningAt = parseTimePtr(runningAt.String)
	j.LastRunAt = parseTimePtr(lastRunAt.String)
	j.CreatedAt = derefTime(parseTimePtr(createdAt))
	j.UpdatedAt = derefTime(parseTimePtr(updatedAt))
	return &j, nil
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                                                   Run
		jobID                                                sql.NullString
		triggeredAt, startedAt, endedAt, createdAt           string
		detailJSON                                           string
	)
	if err := row.Scan(
		&r.ID, &r.Source, &jobID, &r.JobNameSnapshot, &r.TargetConversationID, &r.SessionTarget,
		&triggeredAt, &startedAt, &endedAt, &r.Status, &r.Error, &r.Summary, &r.OutputText,
		&detailJSON, &createdAt,
	); err != nil {
		return nil, err
	}
	r.JobID = ptrFromNull(jobID)
	r.TriggeredAt = derefTime(parseTimePtr(triggeredAt))
	r.StartedAt = derefTime(parseTimePtr(startedAt))
	r.EndedAt = derefTime(parseTimePtr(endedAt))
	r.CreatedAt = derefTime(parseTimePtr(createdAt))
	_ = sonic.UnmarshalString(detailJSON, &r.DetailJSON)
	return &r, nil
}
