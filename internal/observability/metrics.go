package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/lia/internal/llm"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	Requests            *prometheus.CounterVec
	ChainOutcomes       *prometheus.CounterVec
	GateDecisions       *prometheus.CounterVec
	Executions          *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	RequestLatency      prometheus.Histogram
	PersistenceFailures prometheus.Counter

	stages *stageWindow
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Processed requests by classified intent.",
		}, []string{"intent"}),
		ChainOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_outcomes_total",
			Help:      "Generation chain results by chain and outcome.",
		}, []string{"chain", "outcome"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Safety gate verdicts by artifact kind.",
		}, []string{"kind", "verdict"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution results by engine and status.",
		}, []string{"engine", "status"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Generative backend errors by provider and code.",
		}, []string{"provider", "code"}),
		BackendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_latency_ms",
			Help:      "Generative backend call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"provider", "status"}),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "End to end request latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_persistence_failures_total",
			Help:      "Memory writes that failed to reach disk.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveRequest(intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(intent).Inc()
	m.RequestLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("request_total", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveChain(chain, outcome string) {
	if m == nil {
		return
	}
	m.ChainOutcomes.WithLabelValues(chain, outcome).Inc()
}

func (m *Metrics) ObserveGate(kind string, accepted bool) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	m.GateDecisions.WithLabelValues(kind, verdict).Inc()
}

func (m *Metrics) ObserveExecution(engine, status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(engine, status).Inc()
}

func (m *Metrics) ObservePersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("started").Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues("ended_" + reason).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveBackend matches llm.ObserveFunc.
func (m *Metrics) ObserveBackend(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		code := "error"
		var se *llm.StatusError
		if errors.As(err, &se) {
			code = strconv.Itoa(se.Code)
		}
		m.ProviderErrors.WithLabelValues(provider, code).Inc()
	}
	m.BackendLatency.WithLabelValues(provider, status).Observe(float64(elapsed.Milliseconds()))
	m.stages.Observe("backend_call", float64(elapsed.Milliseconds()))
}

// SnapshotStages returns rolling latency percentiles per pipeline stage.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
