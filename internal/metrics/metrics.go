// Package metrics wraps the Prometheus collectors used across the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the server's collectors. Each Registry owns its own
// Prometheus registerer so tests can build as many as they need.
type Registry struct {
	reg *prometheus.Registry

	ActiveSessions      prometheus.Gauge
	SessionsTotal       prometheus.Counter
	ConnectionsRejected prometheus.Counter
	RegisteredClients   prometheus.Gauge

	CommandsEnqueued  *prometheus.CounterVec // by shard
	CommandsProcessed *prometheus.CounterVec // by shard, command
	QueueDepth        *prometheus.GaugeVec   // by shard
	ParseErrors       prometheus.Counter
	AnswersSent       prometheus.Counter
	AnswerErrors      prometheus.Counter
	ExecutorPanics    prometheus.Counter

	CPUPercent  prometheus.Gauge
	MemoryBytes prometheus.Gauge
	Goroutines  prometheus.Gauge
}

// NewRegistry creates all collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babble_sessions_active",
			Help: "Number of live client sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_sessions_total",
			Help: "Total number of accepted connections",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_connections_rejected_total",
			Help: "Connections dropped by the accept-side rate limiter",
		}),
		RegisteredClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babble_clients_registered",
			Help: "Current registry occupancy",
		}),
		CommandsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babble_commands_enqueued_total",
			Help: "Commands accepted into a shard queue",
		}, []string{"shard"}),
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babble_commands_processed_total",
			Help: "Commands dispatched by an executor",
		}, []string{"shard", "command"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "babble_queue_depth",
			Help: "Buffered commands per shard queue",
		}, []string{"shard"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_parse_errors_total",
			Help: "Malformed or oversized commands rejected at parse time",
		}),
		AnswersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_answers_sent_total",
			Help: "Answers transmitted to clients",
		}),
		AnswerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_answer_errors_total",
			Help: "Answer transmissions that failed",
		}),
		ExecutorPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "babble_executor_panics_total",
			Help: "Business-logic panics recovered by executors",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babble_cpu_usage_percent",
			Help: "Process host CPU usage percentage",
		}),
		MemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babble_memory_bytes",
			Help: "Heap in use in bytes",
		}),
		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babble_goroutines_active",
			Help: "Current number of goroutines",
		}),
	}
}

// Handler exposes this registry's collectors over HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
