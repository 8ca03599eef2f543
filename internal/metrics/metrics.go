package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the call agent. All methods are safe
// on a nil receiver so components can run without a registry in tests.
type Metrics struct {
	registry                 *prometheus.Registry
	callsStartedTotal        prometheus.Counter
	callsFailedTotal         *prometheus.CounterVec
	callsEndedTotal          prometheus.Counter
	deviceDegradationsTotal  *prometheus.CounterVec
	transcriptionRestarts    *prometheus.CounterVec
	transcriptEntriesTotal   prometheus.Counter
	transcriptFlushFailures  prometheus.Counter
	remoteParticipants       prometheus.Gauge
	httpRequestsTotal        prometheus.Counter
	httpErrorsTotal          prometheus.Counter
	backendTokenRefreshTotal prometheus.Counter
}

// New creates and registers the call agent collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		callsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_calls_started_total",
			Help: "Total number of calls that reached the active state",
		}),
		callsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_calls_failed_total",
			Help: "Total number of call attempts that failed before becoming active",
		}, []string{"reason"}),
		callsEndedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_calls_ended_total",
			Help: "Total number of calls ended",
		}),
		deviceDegradationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_device_degradations_total",
			Help: "Total number of local media acquisitions that fell back to a reduced tier",
		}, []string{"tier"}),
		transcriptionRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_transcription_restarts_total",
			Help: "Total number of speech capture restarts",
		}, []string{"reason"}),
		transcriptEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_transcript_entries_total",
			Help: "Total number of finalized transcript entries",
		}),
		transcriptFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_transcript_flush_failures_total",
			Help: "Total number of end-of-call transcript flushes that failed",
		}),
		remoteParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teleconsult_remote_participants",
			Help: "Number of remote participants currently publishing video",
		}),
		httpRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_http_requests_total",
			Help: "Total number of status API requests received",
		}),
		httpErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_http_errors_total",
			Help: "Total number of status API responses with error status (4xx or 5xx)",
		}),
		backendTokenRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_backend_token_refresh_total",
			Help: "Total number of access token refreshes against the portal backend",
		}),
	}

	registry.MustRegister(
		m.callsStartedTotal,
		m.callsFailedTotal,
		m.callsEndedTotal,
		m.deviceDegradationsTotal,
		m.transcriptionRestarts,
		m.transcriptEntriesTotal,
		m.transcriptFlushFailures,
		m.remoteParticipants,
		m.httpRequestsTotal,
		m.httpErrorsTotal,
		m.backendTokenRefreshTotal,
	)
	return m
}

func (m *Metrics) IncCallsStarted() {
	if m == nil {
		return
	}
	m.callsStartedTotal.Inc()
}

func (m *Metrics) IncCallsFailed(reason string) {
	if m == nil {
		return
	}
	m.callsFailedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncCallsEnded() {
	if m == nil {
		return
	}
	m.callsEndedTotal.Inc()
}

func (m *Metrics) IncDeviceDegradation(tier string) {
	if m == nil {
		return
	}
	m.deviceDegradationsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncTranscriptionRestart(reason string) {
	if m == nil {
		return
	}
	m.transcriptionRestarts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncTranscriptEntries() {
	if m == nil {
		return
	}
	m.transcriptEntriesTotal.Inc()
}

func (m *Metrics) IncTranscriptFlushFailures() {
	if m == nil {
		return
	}
	m.transcriptFlushFailures.Inc()
}

func (m *Metrics) SetRemoteParticipants(n int) {
	if m == nil {
		return
	}
	m.remoteParticipants.Set(float64(n))
}

func (m *Metrics) IncHTTPRequests() {
	if m == nil {
		return
	}
	m.httpRequestsTotal.Inc()
}

func (m *Metrics) IncHTTPErrors() {
	if m == nil {
		return
	}
	m.httpErrorsTotal.Inc()
}

func (m *Metrics) IncTokenRefresh() {
	if m == nil {
		return
	}
	m.backendTokenRefreshTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
