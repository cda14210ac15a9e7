package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Published("ConfigurationCreated")
	m.Published("ConfigurationCreated")
	m.Dropped(ReasonMalformedKey)
	m.CheckpointFailed()
	m.SetState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("ConfigurationCreated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(ReasonMalformedKey)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpointFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.state))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	m.Published("x")
	m.Dropped("y")
	m.CheckpointFailed()
	m.SetState(1)
}
