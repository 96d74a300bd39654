package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so CLI runs and tests can skip registration.
type Metrics struct {
	messages         *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	contacts         *prometheus.CounterVec
	queueTransitions *prometheus.CounterVec
	llmRequests      *prometheus.CounterVec
	llmDuration      prometheus.Histogram
	runDuration      *prometheus.HistogramVec
	wsClients        prometheus.GaugeFunc
}

// New registers every collector on reg. clients reports connected websocket
// clients and may be nil.
func New(reg prometheus.Registerer, clients func() int) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapinsight_messages_ingested_total",
				Help: "Messages processed by ingestion, by outcome (created, updated, duplicate).",
			},
			[]string{"outcome"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapinsight_messages_skipped_total",
				Help: "Gateway records discarded during mapping, by reason.",
			},
			[]string{"reason"},
		),
		contacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapinsight_contacts_resolved_total",
				Help: "Contact resolutions, by outcome (created, updated, unchanged).",
			},
			[]string{"outcome"},
		),
		queueTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapinsight_queue_transitions_total",
				Help: "Analysis queue status transitions.",
			},
			[]string{"to"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapinsight_llm_requests_total",
				Help: "Language model calls, by result (ok, rate_limited, error).",
			},
			[]string{"result"},
		),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zapinsight_llm_request_duration_seconds",
			Help:    "Language model call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		}),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zapinsight_ingestion_run_duration_seconds",
				Help:    "Ingestion run duration by mode.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}

	reg.MustRegister(m.messages, m.skipped, m.contacts, m.queueTransitions, m.llmRequests, m.llmDuration, m.runDuration)

	if clients != nil {
		m.wsClients = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "zapinsight_ws_clients",
				Help: "Connected websocket clients.",
			},
			func() float64 { return float64(clients()) },
		)
		reg.MustRegister(m.wsClients)
	}

	return m
}

func (m *Metrics) MessageIngested(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessageSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ContactResolved(outcome string) {
	if m == nil {
		return
	}
	m.contacts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueTransition(to string) {
	if m == nil {
		return
	}
	m.queueTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) LLMRequest(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(result).Inc()
	m.llmDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RunFinished(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
