package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/message"
)

type testStop struct{ ch chan struct{} }

func (s testStop) Done() <-chan struct{} { return s.ch }

func newFlowConfig(n int) config.FlowConfig {
	cfg := config.FlowConfig{Name: "f"}
	for i := 0; i < n; i++ {
		cfg.Components = append(cfg.Components, config.ComponentConfig{
			ComponentName:   "stage",
			ComponentModule: "pass_through",
		})
	}
	return cfg
}

func TestBuildWiresNextPointersInOrder(t *testing.T) {
	f, err := Build(newFlowConfig(3), BuildContext{})
	require.NoError(t, err)
	require.Len(t, f.Groups, 3)

	assert.Same(t, f.Groups[1], f.Groups[0].Next)
	assert.Same(t, f.Groups[2], f.Groups[1].Next)
	assert.Nil(t, f.Groups[2].Next)
}

func TestInputQueueIsGroupZero(t *testing.T) {
	f, err := Build(newFlowConfig(2), BuildContext{})
	require.NoError(t, err)
	assert.Same(t, f.Groups[0], f.InputQueue())
}

func TestUnknownComponentModuleErrors(t *testing.T) {
	cfg := config.FlowConfig{Name: "f", Components: []config.ComponentConfig{
		{ComponentName: "x", ComponentModule: "does_not_exist"},
	}}
	_, err := Build(cfg, BuildContext{})
	assert.Error(t, err)
}

func TestEndToEndPassThroughDeliversToTerminal(t *testing.T) {
	f, err := Build(newFlowConfig(2), BuildContext{})
	require.NoError(t, err)

	stop := testStop{ch: make(chan struct{})}
	f.Start(context.Background(), stop)
	defer close(stop.ch)

	msg := message.New(map[string]any{"x": 1}, "t", nil)
	var acked bool
	msg.AddAcknowledgement(func() { acked = true })

	require.NoError(t, f.InputQueue().Enqueue(context.Background(), message.NewMessageEvent(msg)))

	require.Eventually(t, func() bool { return acked }, time.Second, time.Millisecond)
	assert.Equal(t, map[string]any{"x": 1}, msg.Previous)
}

func TestSiblingInstancesShareGroupQueue(t *testing.T) {
	cfg := config.FlowConfig{Name: "f", Components: []config.ComponentConfig{
		{ComponentName: "stage", ComponentModule: "pass_through", NumInstances: 3},
	}}
	f, err := Build(cfg, BuildContext{})
	require.NoError(t, err)
	require.Len(t, f.Groups[0].Instances, 3, "three sibling instances in one group")
}

func TestFlowServicesSharedAcrossGroups(t *testing.T) {
	f, err := Build(newFlowConfig(2), BuildContext{})
	require.NoError(t, err)
	f.Services.KV().Set("k", "v")
	v, ok := f.Services.KV().Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCleanupDrainsQueues(t *testing.T) {
	f, err := Build(newFlowConfig(1), BuildContext{})
	require.NoError(t, err)

	msg := message.New("p", "", nil)
	require.NoError(t, f.Groups[0].Enqueue(context.Background(), message.NewMessageEvent(msg)))
	assert.Equal(t, 1, f.Groups[0].Queue.Depth())

	f.Cleanup()
	assert.Equal(t, 0, f.Groups[0].Queue.Depth())
}
