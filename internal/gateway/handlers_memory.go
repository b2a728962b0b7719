package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/kestrelai/deskagent/internal/memory"
)

type memoryScopeWire struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	RunID   string `json:"run_id"`
}

func (s memoryScopeWire) toScope() memory.Scope {
	return memory.Scope{UserID: s.UserID, AgentID: s.AgentID, RunID: s.RunID}
}

type memoryAddRequest struct {
	Text     string           `json:"text"`
	Messages []memory.Message `json:"messages"`
	memoryScopeWire
	Metadata map[string]any `json:"metadata"`
	Infer    bool           `json:"infer"`
}

func (gw *Gateway) handleMemoryAdd(ctx context.Context, c *app.RequestContext) {
	var req memoryAddRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	results, err := gw.app.Memory().Add(ctx, req.Text, req.Messages, memory.AddOptions{
		Scope:    req.toScope(),
		Metadata: req.Metadata,
		Infer:    req.Infer,
	})
	gw.metrics.memoryOpLatency.WithLabelValues("add").Observe(time.Since(start).Seconds())
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, map[string]any{"results": results})
}

type memorySearchRequest struct {
	Query string `json:"query"`
	memoryScopeWire
	Limit     int             `json:"limit"`
	Threshold *float32        `json:"threshold"`
	Filters   *memory.Filters `json:"filters"`
	Rerank    bool            `json:"rerank"`
}

func (gw *Gateway) handleMemorySearch(ctx context.Context, c *app.RequestContext) {
	var req memorySearchRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	results, err := gw.app.Memory().Search(ctx, req.Query, memory.SearchOptions{
		Scope:     req.toScope(),
		Limit:     req.Limit,
		Threshold: req.Threshold,
		Filters:   req.Filters,
		Rerank:    req.Rerank,
	})
	gw.metrics.memoryOpLatency.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, map[string]any{"results": results})
}

func (gw *Gateway) handleMemoryGet(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	record, err := gw.app.Memory().Get(ctx, req.ID)
	if err != nil {
		status := http.StatusInternalServerError
		if memory.NotFound(err) {
			status = http.StatusNotFound
		}
		rpcErr(c, status, err)
		return
	}
	rpcOK(c, record)
}

type memoryGetAllRequest struct {
	memoryScopeWire
	Filters *memory.Filters `json:"filters"`
}

func (gw *Gateway) handleMemoryGetAll(ctx context.Context, c *app.RequestContext) {
	var req memoryGetAllRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	records, err := gw.app.Memory().GetAll(ctx, req.toScope(), req.Filters)
	if err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, map[string]any{"results": records})
}

type memoryUpdateRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (gw *Gateway) handleMemoryUpdate(ctx context.Context, c *app.RequestContext) {
	var req memoryUpdateRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	record, err := gw.app.Memory().Update(ctx, req.ID, req.Content)
	if err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, record)
}

func (gw *Gateway) handleMemoryDelete(ctx context.Context, c *app.RequestContext) {
	var req idRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	if err := gw.app.Memory().Delete(ctx, req.ID); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	rpcOK(c, true)
}

type memoryDeleteAllRequest struct {
	memoryScopeWire
	Filters *memory.Filters `json:"filters"`
}

func (gw *Gateway) handleMemoryDeleteAll(ctx context.Context, c *app.RequestContext) {
	var req memoryDeleteAllRequest
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	if err := gw.app.Memory().DeleteAll(ctx, req.toScope(), req.Filters); err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, true)
}

func (gw *Gateway) handleMemoryHistory(ctx context.Context, c *app.RequestContext) {
	var req struct {
		MemoryID string `json:"memory_id"`
	}
	if err := bindJSON(c, &req); err != nil {
		rpcErr(c, http.StatusBadRequest, err)
		return
	}
	entries, err := gw.app.Memory().History(ctx, req.MemoryID)
	if err != nil {
		rpcErr(c, http.StatusInternalServerError, err)
		return
	}
	rpcOK(c, map[string]any{"results": entries})
}
