package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/message"

	_ "github.com/flowbroker/connector/internal/component" // registers pass_through
)

func standardAppConfig() config.AppConfig {
	return config.AppConfig{
		Name: "a1",
		Flows: []config.FlowConfig{
			{Name: "f1", Components: []config.ComponentConfig{
				{ComponentName: "stage", ComponentModule: "pass_through"},
			}},
		},
	}
}

func TestAppStartTransitionsToRunning(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	assert.Equal(t, StatusCreated, a.Status())

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StatusRunning, a.Status())
}

func TestStartOnlyPermittedFromCreatedOrStopped(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))

	err := a.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotStopped)
}

func TestStopTransitionsToStoppedAndDrainsComponents(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Stop(context.Background(), time.Second))
	assert.Equal(t, StatusStopped, a.Status())
}

func TestStopIsNoOpWhenAlreadyStopped(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background(), time.Second))

	assert.NoError(t, a.Stop(context.Background(), time.Second))
}

func TestRestartAfterStopRebuildsFlows(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background(), time.Second))

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StatusRunning, a.Status())

	msg := message.New("p", "t", nil)
	var acked bool
	msg.AddAcknowledgement(func() { acked = true })
	require.NoError(t, a.SendMessageToFlow(context.Background(), "f1", msg))
	assert.Eventually(t, func() bool { return acked }, time.Second, time.Millisecond)
}

func TestPreStopHookRunsBeforeStopSignalAndErrorsAreTolerated(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	var preStopObservedRunning bool
	a.SetPreStop(func(context.Context) error {
		preStopObservedRunning = !a.stop.IsSet()
		return assertErr
	})
	require.NoError(t, a.Start(context.Background()))

	err := a.Stop(context.Background(), time.Second)
	require.NoError(t, err, "a failing pre_stop hook must not abort shutdown")
	assert.True(t, preStopObservedRunning)
	assert.Equal(t, StatusStopped, a.Status())
}

var assertErr = &testError{"pre_stop failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestSendMessageToFlowDeliversToInputQueue(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background(), time.Second)

	msg := message.New(map[string]any{"x": 1}, "t", nil)
	var acked bool
	msg.AddAcknowledgement(func() { acked = true })

	require.NoError(t, a.SendMessageToFlow(context.Background(), "f1", msg))
	assert.Eventually(t, func() bool { return acked }, time.Second, time.Millisecond)
	assert.Equal(t, map[string]any{"x": 1}, msg.Previous)
}

func TestSendMessageToFlowUnknownFlowErrors(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background(), time.Second)

	err := a.SendMessageToFlow(context.Background(), "nope", message.New(nil, "", nil))
	assert.Error(t, err)
}

func TestStopFromNonRunningStatusErrors(t *testing.T) {
	a := New(standardAppConfig(), Deps{ConnectorWide: make(chan struct{})})
	err := a.Stop(context.Background(), time.Second)
	assert.Error(t, err)
}

func TestConnectorWideShutdownFiresAppStopSignal(t *testing.T) {
	connectorWide := make(chan struct{})
	a := New(standardAppConfig(), Deps{ConnectorWide: connectorWide})
	require.NoError(t, a.Start(context.Background()))

	close(connectorWide)
	assert.Eventually(t, a.stop.IsSet, time.Second, time.Millisecond)
}
