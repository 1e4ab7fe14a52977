package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/internal/message"
)

func TestRegistryRecordsObservations(t *testing.T) {
	r := NewRegistry()

	r.ObserveQueueDepth("comp", 3)
	r.ObserveInvokeLatency("comp", 10*time.Millisecond)
	r.IncAck("comp")
	r.IncNack("comp", message.NackFailed)
	r.ObserveConnectionStatus("comp", "connected")
	r.ObserveCustom("comp", map[string]float64{"queued": 5})
	r.IncReconnect("comp")
	r.SetCacheSize(7)
	r.SetTimerHeapDepth(2)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["connector_component_ack_total"])
	require.True(t, names["connector_cache_entries"])
	require.True(t, names["connector_timer_heap_depth"])
}
