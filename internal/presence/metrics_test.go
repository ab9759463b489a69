package presence

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterReadsLiveCounters(t *testing.T) {
	m := NewMetrics(time.Now())
	reg := prometheus.NewRegistry()
	m.Register(reg)

	m.IncrementReceived()
	m.IncrementReceived()
	m.IncrementStale()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, float64(2), values["workplace_presence_messages_received_total"])
	assert.Equal(t, float64(1), values["workplace_presence_frames_stale_total"])
	assert.Equal(t, float64(0), values["workplace_presence_frames_processed_total"])
}
