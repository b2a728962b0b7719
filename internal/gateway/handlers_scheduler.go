package gateway

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/kestrelai/deskagent/internal/scheduler"
)

func (gw *Gateway) handleGetStatus(ctx context.Context, c *app.RequestContext) {
	status, err := gw.app.Scheduler().Status(ctx)
	if err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, status)
}

type listJobsRequest struct {
	IncludeDisabled bool `json:"include_disabled"`
}

func (gw *Gateway) handleListJobs(ctx context.Context, c *app.RequestContext) {
	var req listJobsRequest
	_ = bindJSON(c, &req) // empty body is a valid "defaults" request

	jobs, err := gw.app.SchedulerStore().List(ctx, req.IncludeDisabled)
	if err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, jobs)
}

type idRequest struct {
	ID string `json:"id"`
}

func (gw *Gateway) handleGetJob(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	job, err := gw.app.SchedulerStore().Get(ctx, req.ID)
	if err != nil {
		rpcErr(c, http.StatusNotFound, err)
		return
	}
	rpcOK(c, job)
}

func (gw *Gateway) handleCreateJob(ctx context.Context, c *app.RequestContext) {
	var input scheduler.JobCreateInput
	if err := bindJSON(c, &input); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	job, err := gw.app.SchedulerStore().Create(ctx, input)
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, job)
}

// updateJobRequest carries the "set" half of JobPatch's double-option fields
// over the wire: a field present with a value becomes an explicit set; a
// field omitted from the JSON body, or sent as JSON null, stays nil and is
// left untouched. No wire form clears a field. jobPatchFromWire implements
// that promotion since JobPatch's opt[T] fields can't be unmarshaled directly.
type updateJobRequest struct {
	ID                   string                   `json:"id"`
	Name                 *string                  `json:"name"`
	Description          *string                  `json:"description"`
	Enabled              *bool                    `json:"enabled"`
	Schedule             *scheduler.Schedule      `json:"schedule"`
	SessionTarget        *scheduler.SessionTarget `json:"session_target"`
	TargetConversationID *string                  `json:"target_conversation_id"`
	Message              *string                  `json:"message"`
	ModelOverride        *string                  `json:"model_override"`
	WorkspaceDirectory   *string                  `json:"workspace_directory"`
	ToolWhitelist        *[]string                `json:"tool_whitelist"`
	RunTimeoutSeconds    *int                     `json:"run_timeout_seconds"`
	DeleteAfterRun       *bool                    `json:"delete_after_run"`
}

func jobPatchFromWire(req updateJobRequest) scheduler.JobPatch {
	var p scheduler.JobPatch
	if req.Name != nil {
		p.Name = scheduler.Opt(*req.Name)
	}
	if req.Description != nil {
		p.Description = scheduler.Opt(*req.Description)
	}
	if req.Enabled != nil {
		p.Enabled = scheduler.Opt(*req.Enabled)
	}
	if req.Schedule != nil {
		p.Schedule = scheduler.Opt(*req.Schedule)
	}
	if req.SessionTarget != nil {
		p.SessionTarget = scheduler.Opt(*req.SessionTarget)
	}
	if req.TargetConversationID != nil {
		p.TargetConversationID = scheduler.Opt(*req.TargetConversationID)
	}
	if req.Message != nil {
		p.Message = scheduler.Opt(*req.Message)
	}
	if req.ModelOverride != nil {
		p.ModelOverride = scheduler.Opt(*req.ModelOverride)
	}
	if req.WorkspaceDirectory != nil {
		p.WorkspaceDirectory = scheduler.Opt(*req.WorkspaceDirectory)
	}
	if req.ToolWhitelist != nil {
		p.ToolWhitelist = scheduler.Opt(*req.ToolWhitelist)
	}
	if req.RunTimeoutSeconds != nil {
		p.RunTimeoutSeconds = scheduler.Opt(*req.RunTimeoutSeconds)
	}
	if req.DeleteAfterRun != nil {
		p.DeleteAfterRun = scheduler.Opt(*req.DeleteAfterRun)
	}
	return p
}

func (gw *Gateway) handleUpdateJob(ctx context.Context, c *app.RequestContext) {
	var req updateJobRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	job, err := gw.app.SchedulerStore().Patch(ctx, req.ID, jobPatchFromWire(req))
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, job)
}

func (gw *Gateway) handleDeleteJob(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	deleted, err := gw.app.SchedulerStore().Delete(ctx, req.ID)
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, deleted)
}

func (gw *Gateway) handleRunJobNow(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	gw.metrics.schedulerRunsTotal.WithLabelValues("manual_trigger").Inc()
	result, err := gw.app.Scheduler().RunJobNow(ctx, req.ID)
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, result)
}

func (gw *Gateway) handleRunHeartbeatNow(ctx context.Context, c *app.RequestContext) {
	rpcOK(c, gw.app.Scheduler().RunHeartbeatNow(ctx))
}

type listRunsRequest struct {
	JobID string `json:"job_id"`
	Limit int    `json:"limit"`
}

func (gw *Gateway) handleListRuns(ctx context.Context, c *app.RequestContext) {
	var req listRunsRequest
	_ = bindJSON(c, &req)
	if req.Limit <= 0 {
		req.Limit = 50
	}
	var jobID *string
	if req.JobID != "" {
		jobID = &req.JobID
	}
	runs, err := gw.app.SchedulerStore().ListRuns(ctx, jobID, req.Limit)
	if err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, runs)
}

func (gw *Gateway) handleGetRun(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	run, err := gw.app.SchedulerStore().GetRun(ctx, req.ID)
	if err != nil {
		rpcErr(c, http.StatusNotFound, err)
		return
	}
	rpcOK(c, run)
}
