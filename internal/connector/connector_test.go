package connector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/message"
)

func passThroughAppConfig(name string) config.AppConfig {
	return config.AppConfig{
		Name: name,
		Flows: []config.FlowConfig{
			{
				Name: "main",
				Components: []config.ComponentConfig{
					{ComponentName: "pt", ComponentModule: "pass_through"},
				},
			},
		},
	}
}

func TestConnectorStartSendAckStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Apps = []config.AppConfig{passThroughAppConfig("demo")}
	cfg.Metrics.Enabled = false
	cfg.Management.Enabled = false

	conn, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Start(ctx))

	a, ok := conn.GetApp("demo")
	require.True(t, ok)
	require.Equal(t, "demo", a.Name)

	var acked atomic.Bool
	msg := message.New(map[string]any{"x": 1}, "t", nil)
	msg.AddAcknowledgement(func() { acked.Store(true) })

	require.NoError(t, conn.SendMessageToFlow(ctx, "demo", "main", msg))
	require.Eventually(t, acked.Load, time.Second, 5*time.Millisecond)

	conn.Stop(context.Background(), 2*time.Second)
}

func TestConnectorAddRemoveApp(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Apps = []config.AppConfig{passThroughAppConfig("first")}
	cfg.Metrics.Enabled = false
	cfg.Management.Enabled = false

	conn, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Start(ctx))
	defer conn.Stop(context.Background(), 2*time.Second)

	require.ErrorIs(t, conn.AddApp(ctx, passThroughAppConfig("first")), ErrAppExists)

	require.NoError(t, conn.AddApp(ctx, passThroughAppConfig("second")))
	require.Len(t, conn.GetApps(), 2)

	require.NoError(t, conn.RemoveApp(ctx, "second", time.Second))
	require.Len(t, conn.GetApps(), 1)

	require.ErrorIs(t, conn.RemoveApp(ctx, "second", time.Second), ErrAppNotFound)
}

func TestConnectorBuildsStartsAndStopsErrorFlow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Apps = []config.AppConfig{{
		Name: "demo",
		Flows: []config.FlowConfig{{
			Name:                  "main",
			PutErrorsInErrorQueue: true,
			Components: []config.ComponentConfig{
				{ComponentName: "fail", ComponentModule: "pass_through"},
			},
		}},
	}}
	cfg.ErrorFlow = &config.FlowConfig{
		Name: "errors",
		Components: []config.ComponentConfig{
			{ComponentName: "sink", ComponentModule: "pass_through"},
		},
	}
	cfg.Metrics.Enabled = false
	cfg.Management.Enabled = false

	conn, err := New(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, conn.errorFlow)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Start(ctx))
	conn.Stop(context.Background(), 2*time.Second)
}
