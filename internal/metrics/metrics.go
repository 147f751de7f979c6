// Package metrics holds the bot's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goals_bot"

// Skip reasons for UpdatesSkipped.
const (
	SkipDecodeError = "decode_error"
	SkipNoText      = "no_text"
)

// Fetch error kinds for FetchErrors.
const (
	FetchTransport = "transport"
	FetchDecode    = "decode"
)

type Metrics struct {
	UpdatesReceived prometheus.Counter
	UpdatesSkipped  *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	MessagesSent    prometheus.Counter
	SendErrors      prometheus.Counter
	GoalsCreated    prometheus.Counter
	Offset          prometheus.Gauge
	HandleDuration  prometheus.Histogram
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdatesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Updates returned by getUpdates.",
		}),
		UpdatesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_skipped_total",
			Help:      "Updates dropped without dispatch.",
		}, []string{"reason"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed getUpdates calls.",
		}, []string{"kind"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Replies delivered to Telegram.",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Replies that could not be delivered.",
		}),
		GoalsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goals_created_total",
			Help:      "Goals created from chat dialogues.",
		}),
		Offset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_offset",
			Help:      "Next getUpdates offset.",
		}),
		HandleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_handle_seconds",
			Help:      "Time spent handling one update.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Discard returns instruments registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
