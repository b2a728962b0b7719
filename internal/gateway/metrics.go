package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	internalprom "github.com/kestrelai/deskagent/internal/pkg/prometheus"
)

// metrics holds the counters/histograms this gateway exports on top of the
// hertz-contrib/monitor-prometheus per-request tracer, registered against
// this module's shared registry (internal/pkg/prometheus) rather than the
// global default one.
type metrics struct {
	schedulerTicks     prometheus.Counter
	schedulerRunsTotal *prometheus.CounterVec
	memoryOpLatency    *prometheus.HistogramVec
}

func newMetrics() *metrics {
	reg := internalprom.GetRegistry()
	factory := promauto.With(reg)
	return &metrics{
		schedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskagent_scheduler_ticks_total",
			Help: "Number of scheduler manager tick iterations observed by the gateway.",
		}),
		schedulerRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deskagent_scheduler_runs_total",
			Help: "Number of manual run-now requests received by the gateway (status=\"manual_trigger\").",
		}, []string{"status"}),
		memoryOpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskagent_memory_op_duration_seconds",
			Help:    "Latency of memory engine operations invoked through the RPC surface.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}
