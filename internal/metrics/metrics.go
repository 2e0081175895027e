package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashlink"

// Phases reported by the phase gauge.
var Phases = []string{"disconnected", "connecting", "connected", "failed"}

// Metrics holds every collector exported by dashlink.
type Metrics struct {
	registry *prometheus.Registry

	Phase              *prometheus.GaugeVec
	ConnectAttempts    prometheus.Counter
	Opens              prometheus.Counter
	Closes             *prometheus.CounterVec
	ReconnectDelay     prometheus.Histogram
	ReconnectAttempt   prometheus.Gauge
	MessagesReceived   *prometheus.CounterVec
	MalformedMessages  prometheus.Counter
	MessagesSent       *prometheus.CounterVec
	HealthChecks       *prometheus.CounterVec
	ShutdownSteps      *prometheus.CounterVec
	JournalRowsWritten prometheus.Counter
	JournalFlushErrors prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "link_phase",
				Help:      "1 for the current link phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Sockets dialed",
		}),
		Opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_opens_total",
			Help:      "Sockets that reached the open state",
		}),
		Closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_closes_total",
				Help:      "Socket closes by cleanliness",
			},
			[]string{"clean"},
		),
		ReconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay chosen by the backoff policy for each scheduled reconnect",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 36, 60},
		}),
		ReconnectAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_attempt",
			Help:      "Current reconnect attempt counter",
		}),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Inbound messages by type",
			},
			[]string{"type"},
		),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Inbound payloads that failed to parse",
		}),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Outbound messages by type and result",
			},
			[]string{"type", "result"},
		),
		HealthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Health probe requests by result",
			},
			[]string{"result"},
		),
		ShutdownSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shutdown_steps_total",
				Help:      "Shutdown side effects by step and result",
			},
			[]string{"step", "result"},
		),
		JournalRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_rows_written_total",
			Help:      "Events written to the journal",
		}),
		JournalFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_flush_errors_total",
			Help:      "Journal batches that failed to write",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Phase,
		m.ConnectAttempts,
		m.Opens,
		m.Closes,
		m.ReconnectDelay,
		m.ReconnectAttempt,
		m.MessagesReceived,
		m.MalformedMessages,
		m.MessagesSent,
		m.HealthChecks,
		m.ShutdownSteps,
		m.JournalRowsWritten,
		m.JournalFlushErrors,
	)
	return m
}

// Registry returns the registry holding every dashlink collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Register adds extra collectors, such as bus or loop gauges.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	if m == nil {
		return nil
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetPhase marks phase as current and clears the others.
func (m *Metrics) SetPhase(phase string) {
	if m == nil {
		return
	}
	for _, p := range Phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
}

// ConnectAttempt records a dial.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

// Opened records a socket reaching the open state.
func (m *Metrics) Opened() {
	if m == nil {
		return
	}
	m.Opens.Inc()
	m.ReconnectAttempt.Set(0)
}

// Closed records a socket close.
func (m *Metrics) Closed(clean bool) {
	if m == nil {
		return
	}
	label := "false"
	if clean {
		label = "true"
	}
	m.Closes.WithLabelValues(label).Inc()
}

// ReconnectScheduled records the delay and attempt of a scheduled reconnect.
func (m *Metrics) ReconnectScheduled(seconds float64, attempt int) {
	if m == nil {
		return
	}
	m.ReconnectDelay.Observe(seconds)
	m.ReconnectAttempt.Set(float64(attempt))
}

// AttemptReset records the attempt counter returning to zero.
func (m *Metrics) AttemptReset() {
	if m == nil {
		return
	}
	m.ReconnectAttempt.Set(0)
}

// MessageReceived records an inbound message of the given type.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// Malformed records an inbound payload that failed to parse.
func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

// MessageSent records an outbound message.
func (m *Metrics) MessageSent(msgType string, err error) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType, result(err)).Inc()
}

// HealthCheck records a health probe outcome.
func (m *Metrics) HealthCheck(err error) {
	if m == nil {
		return
	}
	m.HealthChecks.WithLabelValues(result(err)).Inc()
}

// ShutdownStep records one side effect of the shutdown sequence.
func (m *Metrics) ShutdownStep(step string, err error) {
	if m == nil {
		return
	}
	m.ShutdownSteps.WithLabelValues(step, result(err)).Inc()
}

// JournalFlushed records a journal batch write.
func (m *Metrics) JournalFlushed(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.JournalFlushErrors.Inc()
		return
	}
	m.JournalRowsWritten.Add(float64(rows))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
