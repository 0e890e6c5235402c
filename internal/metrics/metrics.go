// Package metrics defines the Prometheus collectors exported on /metrics.
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chronovault"

type Metrics struct {
	registry *prometheus.Registry

	Verifications  *prometheus.CounterVec
	Activities     *prometheus.CounterVec
	Releases       *prometheus.CounterVec
	Evaluations    *prometheus.CounterVec
	MirrorResults  *prometheus.CounterVec
	MirrorQueue    prometheus.Gauge
	StoreCommands  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	SweepDurations prometheus.Histogram
}

// New builds a fresh registry holding the process collectors and every
// Chronovault metric.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Proof-of-life verifications by method and outcome.",
		}, []string{"method", "result"}),
		Activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_recorded_total",
			Help:      "Activity events appended to owner ledgers, by kind.",
		}, []string{"kind"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Inheritance releases recorded, by path.",
		}, []string{"path"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_evaluations_total",
			Help:      "Vault state derivations, by resulting state.",
		}, []string{"state"}),
		MirrorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_publish_total",
			Help:      "Verdicts handed to the contract mirror, by outcome.",
		}, []string{"result"}),
		MirrorQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_queue_depth",
			Help:      "Verdicts waiting to be mirrored.",
		}),
		StoreCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_commands_total",
			Help:      "Store protocol commands received, by command.",
		}, []string{"command"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		SweepDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent reconciling all owners in one sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.Verifications, m.Activities, m.Releases, m.Evaluations,
		m.MirrorResults, m.MirrorQueue, m.StoreCommands, m.HTTPRequests,
		m.SweepDurations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Verification(method string, ok bool) {
	if m == nil {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	m.Verifications.WithLabelValues(method, result).Inc()
}

func (m *Metrics) Activity(kind string) {
	if m == nil {
		return
	}
	m.Activities.WithLabelValues(kind).Inc()
}

func (m *Metrics) Release(path string) {
	if m == nil {
		return
	}
	m.Releases.WithLabelValues(path).Inc()
}

func (m *Metrics) Evaluation(state string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(state).Inc()
}

func (m *Metrics) Mirror(result string) {
	if m == nil {
		return
	}
	m.MirrorResults.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.MirrorQueue.Set(float64(n))
}

func (m *Metrics) StoreCommand(cmd string) {
	if m == nil {
		return
	}
	m.StoreCommands.WithLabelValues(cmd).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, httpCode(code)).Inc()
}

func (m *Metrics) Sweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDurations.Observe(seconds)
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
