// Package metrics exposes Prometheus counters and gauges for the resolver,
// outlet server, and sample pump, adapted from the teacher's metrics
// package (same "one counter set read by a polling collector" idea, here
// exposed through New and Handler) but backed by
// prometheus/client_golang vectors instead of a custom atomic/listener
// fan-out, since a Prometheus exposition endpoint is this system's
// monitoring surface rather than VolantMQ's push-based vlmonitoring.IFace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolver counts discovery-side activity: query bursts sent and
// responses observed, broken down by family.
type Resolver struct {
	BurstsSent       *prometheus.CounterVec
	ResponsesSeen    *prometheus.CounterVec
	LiveSetSize      prometheus.Gauge
}

// Outlet counts server-side activity: accepted sessions, rejected
// negotiations, and bytes pumped to subscribers.
type Outlet struct {
	SessionsAccepted prometheus.Counter
	SessionsActive   prometheus.Gauge
	Rejections       *prometheus.CounterVec
	SamplesPumped    prometheus.Counter
	BytesWritten     prometheus.Counter
}

// Registry bundles every subsystem's metrics under one Prometheus
// registerer, created once per process.
type Registry struct {
	reg      *prometheus.Registry
	Resolver Resolver
	Outlet   Outlet
}

// New registers the full metric set against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Resolver: Resolver{
			BurstsSent: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "resolver",
				Name:      "bursts_sent_total",
				Help:      "Query bursts sent, by wave kind.",
			}, []string{"wave"}),
			ResponsesSeen: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "resolver",
				Name:      "responses_seen_total",
				Help:      "Discovery responses observed, by address family.",
			}, []string{"family"}),
			LiveSetSize: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "streamnet",
				Subsystem: "resolver",
				Name:      "live_set_size",
				Help:      "Distinct stream UIDs currently tracked as live.",
			}),
		},
		Outlet: Outlet{
			SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "outlet",
				Name:      "sessions_accepted_total",
				Help:      "TCP sessions accepted.",
			}),
			SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "streamnet",
				Subsystem: "outlet",
				Name:      "sessions_active",
				Help:      "Sessions currently in the in-flight table.",
			}),
			Rejections: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "outlet",
				Name:      "negotiation_rejections_total",
				Help:      "Stream-feed negotiations rejected, by reason.",
			}, []string{"reason"}),
			SamplesPumped: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "outlet",
				Name:      "samples_pumped_total",
				Help:      "Samples written across all sessions.",
			}),
			BytesWritten: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "streamnet",
				Subsystem: "outlet",
				Name:      "bytes_written_total",
				Help:      "Wire bytes written across all sessions.",
			}),
		},
	}
}

// Handler returns the HTTP handler that serves this registry's exposition
// format, for mounting under a metrics listen address.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
