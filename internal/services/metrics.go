package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for questions sent to the query endpoint. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	questions      prometheus.Counter
	streams        *prometheus.CounterVec
	chunks         prometheus.Counter
	streamDuration prometheus.Histogram
	activeStreams  prometheus.Gauge
}

const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
)

// NewMetrics creates the collectors under namespace and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		questions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "", "questions_total"),
			Help: "Number of questions sent to the query endpoint",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "", "streams_total"),
			Help: "Number of answers settled, by outcome",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "", "stream_chunks_total"),
			Help: "Number of decoded answer chunks received",
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prometheus.BuildFQName(namespace, "", "stream_duration_seconds"),
			Help:    "Time from sending a question until its answer settled",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "", "active_streams"),
			Help: "Number of answers currently streaming",
		}),
	}

	for _, c := range []prometheus.Collector{m.questions, m.streams, m.chunks, m.streamDuration, m.activeStreams} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) questionAsked() {
	if m == nil {
		return
	}
	m.questions.Inc()
}

func (m *Metrics) streamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) streamEnded() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

func (m *Metrics) chunkReceived() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) streamSettled(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
	m.streamDuration.Observe(d.Seconds())
}
