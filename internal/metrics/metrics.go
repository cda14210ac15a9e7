// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	ReasonMalformedKey   = "malformed_key"
	ReasonMalformedEvent = "malformed_event"
	ReasonUnparseableID  = "unparseable_id"
	ReasonPublishFailed  = "publish_failed"
	ReasonUnhandledOp    = "unhandled_operation"
	ReasonUnwatched      = "unwatched_collection"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	published          *prometheus.CounterVec
	dropped            *prometheus.CounterVec
	checkpointFailures prometheus.Counter
	state              prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "configflow",
			Name:      "published_total",
			Help:      "Configuration updates published, by update type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "configflow",
			Name:      "dropped_total",
			Help:      "Change events that produced no update, by reason.",
		}, []string{"reason"}),
		checkpointFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "configflow",
			Name:      "checkpoint_failures_total",
			Help:      "Resume token writes that failed.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "configflow",
			Name:      "state",
			Help:      "Bridge state: 0 idle, 1 bootstrapping, 2 streaming, 3 draining, 4 terminated.",
		}),
	}
	reg.MustRegister(m.published, m.dropped, m.checkpointFailures, m.state)
	return m
}

func (m *Metrics) Published(typ string) {
	if m != nil {
		m.published.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) CheckpointFailed() {
	if m != nil {
		m.checkpointFailures.Inc()
	}
}

func (m *Metrics) SetState(s int) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
