// Package gateway exposes the Agent Scheduler Core and Long-Term Memory
// Engine over the RPC-style command table described in spec §6, following
// the Hertz wiring the rest of this module's corpus already uses (see the
// Start/Stop/initHTTPServer shape in the teacher's own internal/gateway).
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	hzconsts "github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzprom "github.com/hertz-contrib/monitor-prometheus"

	appsvc "github.com/kestrelai/deskagent/internal/app"
	"github.com/kestrelai/deskagent/internal/config"
	"github.com/kestrelai/deskagent/internal/pkg/logs"
)

// Gateway is the process's only HTTP/WS surface. It owns no scheduling or
// memory state itself — every handler delegates to the injected *app.App.
type Gateway struct {
	app     *appsvc.App
	metrics *metrics

	httpServer *hzServer.Hertz
	wsServer   *http.Server

	runCancel context.CancelFunc
	mu        sync.Mutex
	stopOnce  sync.Once
}

// NewGateway wires the Hertz RPC server and the companion WS heartbeat
// stream from cfg, without starting either.
func NewGateway(cfg config.GatewayConfig, a *appsvc.App) *Gateway {
	bind := cfg.Bind
	if bind == "" {
		bind = "0.0.0.0:8080"
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	m := newMetrics()
	tracer := hertzprom.NewServerTracer("", "/metrics", hertzprom.WithDisableServer(true))

	hzSvr := hzServer.Default(
		hzServer.WithHostPorts(bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(tracer),
	)

	gw := &Gateway{app: a, metrics: m, httpServer: hzSvr}
	gw.registerRoutes()
	return gw
}

// Start registers routes (already done in NewGateway) and spins up both
// listeners. It does not start the App itself — callers are expected to
// call App.Start separately, matching the teacher's "gateway owns the
// transport, not the domain lifecycle" split.
func (gw *Gateway) Start(ctx context.Context) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	gw.runCancel = cancel

	gw.wsServer = newWSServer(runCtx, gw.app)
	go func() {
		if err := gw.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.CtxError(runCtx, "[gateway] ws server stopped: %v", err)
		}
	}()

	go gw.httpServer.Spin()
	return nil
}

// Stop shuts down both listeners. Safe to call more than once.
func (gw *Gateway) Stop(ctx context.Context) error {
	var err error
	gw.stopOnce.Do(func() {
		if gw.runCancel != nil {
			gw.runCancel()
		}
		if gw.wsServer != nil {
			if shutdownErr := gw.wsServer.Shutdown(ctx); shutdownErr != nil {
				logs.CtxWarn(ctx, "[gateway] shutdown ws server: %v", shutdownErr)
			}
		}
		if shutdownErr := gw.httpServer.Shutdown(ctx); shutdownErr != nil {
			logs.CtxWarn(ctx, "[gateway] shutdown http server: %v", shutdownErr)
			err = shutdownErr
		}
		logs.CtxInfo(ctx, "[gateway] all resources stopped")
	})
	return err
}

func (gw *Gateway) registerRoutes() {
	gw.httpServer.GET("/health", func(_ context.Context, c *app.RequestContext) {
		c.JSON(hzconsts.StatusOK, utils.H{"status": "ok"})
	})

	sched := gw.httpServer.Group("/rpc/scheduler")
	sched.POST("/get_status", gw.handleGetStatus)
	sched.POST("/list_jobs", gw.handleListJobs)
	sched.POST("/get_job", gw.handleGetJob)
	sched.POST("/create_job", gw.handleCreateJob)
	sched.POST("/update_job", gw.handleUpdateJob)
	sched.POST("/delete_job", gw.handleDeleteJob)
	sched.POST("/run_job_now", gw.handleRunJobNow)
	sched.POST("/run_heartbeat_now", gw.handleRunHeartbeatNow)
	sched.POST("/list_runs", gw.handleListRuns)
	sched.POST("/get_run", gw.handleGetRun)

	mem := gw.httpServer.Group("/rpc/memory")
	mem.POST("/add", gw.handleMemoryAdd)
	mem.POST("/search", gw.handleMemorySearch)
	mem.POST("/get", gw.handleMemoryGet)
	mem.POST("/get_all", gw.handleMemoryGetAll)
	mem.POST("/update", gw.handleMemoryUpdate)
	mem.POST("/delete", gw.handleMemoryDelete)
	mem.POST("/delete_all", gw.handleMemoryDeleteAll)
	mem.POST("/history", gw.handleMemoryHistory)
}

// rpcOK and rpcErr give every handler the same envelope shape, matching the
// `{accepted, reason?}` / result-or-error pattern spec §6 implies.
func rpcOK(c *app.RequestContext, result any) {
	c.JSON(hzconsts.StatusOK, utils.H{"result": result})
}

func rpcErr(c *app.RequestContext, status int, err error) {
	c.JSON(status, utils.H{"error": err.Error()})
}

func bindJSON(c *app.RequestContext, out any) error {
	if err := c.BindJSON(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
