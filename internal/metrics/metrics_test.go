package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageIngested("created")
		m.MessageSkipped("group")
		m.ContactResolved("created")
		m.QueueTransition("concluido")
		m.LLMRequest("ok", time.Second)
		m.RunFinished("poll", time.Second)
	})
}

func TestCountersAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() int { return 3 })

	m.MessageIngested("created")
	m.MessageIngested("created")
	m.MessageIngested("duplicate")
	m.QueueTransition("erro")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueTransitions.WithLabelValues("erro")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.wsClients))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
