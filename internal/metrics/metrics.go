// Package metrics provides Prometheus metrics for henkan.
//
// Features:
//   - Counters for key events, session failures, syncs and config updates
//   - IPC request counts and latency histograms
//   - Quality harness scores per source
//
// All recording methods are safe on a nil *Metrics, so components can be
// built without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "henkan"

// Key event outcomes.
const (
	KeyConsumed       = "consumed"
	KeyPassed         = "passed"
	KeyRelease        = "release"
	KeyDirect         = "direct"
	KeyUnmappable     = "unmappable"
	KeySessionFailure = "session_error"
)

// Sync outcomes.
const (
	SyncOK      = "ok"
	SyncError   = "error"
	SyncSkipped = "skipped"
)

// Config update outcomes.
const (
	ConfigApplied  = "applied"
	ConfigRejected = "rejected"
	ConfigIgnored  = "ignored"
)

// Quality case outcomes.
const (
	QualityScored  = "scored"
	QualityInvalid = "invalid"
	QualityFailed  = "failed"
)

// Metrics holds all henkan metrics.
type Metrics struct {
	KeyEvents       *prometheus.CounterVec
	SessionErrors   *prometheus.CounterVec
	Syncs           *prometheus.CounterVec
	ConfigUpdates   *prometheus.CounterVec
	ModeSwitches    *prometheus.CounterVec
	CandidateClicks prometheus.Counter

	IPCRequests       *prometheus.CounterVec
	IPCDuration       *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge

	QualityCases *prometheus.CounterVec
	QualityScore *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		KeyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_events_total",
			Help:      "Key events processed by the engine, by outcome",
		}, []string{"result"}),
		SessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Failed session calls, by operation",
		}, []string{"op"}),
		Syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Persistence sync attempts, by outcome",
		}, []string{"result"}),
		ConfigUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_updates_total",
			Help:      "Host config change notifications, by outcome",
		}, []string{"result"}),
		ModeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_switches_total",
			Help:      "Composition mode switches, by target mode",
		}, []string{"mode"}),
		CandidateClicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_clicks_total",
			Help:      "Candidate selections forwarded to the session",
		}),
		IPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "requests_total",
			Help:      "IPC requests served, by message type and status",
		}, []string{"type", "status"}),
		IPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "request_duration_seconds",
			Help:      "IPC request handling time",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"type"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "active_connections",
			Help:      "Open IPC client connections",
		}),
		QualityCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "cases_total",
			Help:      "Harness cases, by source and outcome",
		}, []string{"source", "result"}),
		QualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "mean_score",
			Help:      "Mean BLEU score of the last harness run, by source",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.KeyEvents, m.SessionErrors, m.Syncs, m.ConfigUpdates, m.ModeSwitches, m.CandidateClicks,
			m.IPCRequests, m.IPCDuration, m.ActiveConnections,
			m.QualityCases, m.QualityScore,
		)
	}
	return m
}

// KeyEvent records the outcome of one key event.
func (m *Metrics) KeyEvent(result string) {
	if m == nil {
		return
	}
	m.KeyEvents.WithLabelValues(result).Inc()
}

// SessionError records a failed session call.
func (m *Metrics) SessionError(op string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(op).Inc()
}

// Sync records a sync attempt.
func (m *Metrics) Sync(result string) {
	if m == nil {
		return
	}
	m.Syncs.WithLabelValues(result).Inc()
}

// ConfigUpdate records a config change notification.
func (m *Metrics) ConfigUpdate(result string) {
	if m == nil {
		return
	}
	m.ConfigUpdates.WithLabelValues(result).Inc()
}

// ModeSwitch records a composition mode change.
func (m *Metrics) ModeSwitch(mode string) {
	if m == nil {
		return
	}
	m.ModeSwitches.WithLabelValues(mode).Inc()
}

// CandidateClick records a candidate selection.
func (m *Metrics) CandidateClick() {
	if m == nil {
		return
	}
	m.CandidateClicks.Inc()
}

// IPCRequest records a served IPC request.
func (m *Metrics) IPCRequest(msgType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.IPCRequests.WithLabelValues(msgType, status).Inc()
	m.IPCDuration.WithLabelValues(msgType).Observe(d.Seconds())
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// QualityCase records one harness case.
func (m *Metrics) QualityCase(source, result string) {
	if m == nil {
		return
	}
	m.QualityCases.WithLabelValues(source, result).Inc()
}

// QualityMean records the mean score for a source.
func (m *Metrics) QualityMean(source string, score float64) {
	if m == nil {
		return
	}
	m.QualityScore.WithLabelValues(source).Set(score)
}
