package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	appsvc "github.com/kestrelai/deskagent/internal/app"
	"github.com/kestrelai/deskagent/internal/pkg/logs"
)

// statusPushInterval is how often the status stream pushes a fresh
// SchedulerStatus snapshot to connected clients.
const statusPushInterval = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Desktop-local control surface; the caller is this machine's own UI,
	// not an arbitrary cross-origin browser tab.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer builds the standalone net/http listener carrying the
// gorilla/websocket status stream. Hertz has no bundled websocket support in
// this module's dependency corpus, so the stream runs on its own listener
// rather than hijacking Hertz's connection, mirroring how the teacher's own
// channel adapters (telegram/lark) each own their transport independently of
// the shared Gateway.
func newWSServer(ctx context.Context, a *appsvc.App) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		serveStatusStream(ctx, a, w, r)
	})
	return &http.Server{Addr: "127.0.0.1:8081", Handler: mux}
}

func serveStatusStream(ctx context.Context, a *appsvc.App, w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.CtxWarn(ctx, "[gateway] ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			status, err := a.Scheduler().Status(ctx)
			if err != nil {
				logs.CtxWarn(ctx, "[gateway] ws status snapshot failed: %v", err)
				continue
			}
			if err := conn.WriteJSON(status); err != nil {
				return
			}
		}
	}
}
