package reqresp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/codec"
)

func devDialer(hub *broker.Hub) func(context.Context, Config) (broker.Adapter, error) {
	return func(context.Context, Config) (broker.Adapter, error) {
		return broker.NewDevAdapter(hub), nil
	}
}

func sessionConfig(prefix string) Config {
	return Config{
		ResponseTopicPrefix: prefix,
		ResponseTopicSuffix: "res",
		RequestExpiry:       0,
		Codec:               codec.Codec{Encoding: codec.EncodingNone, Format: codec.FormatJSON},
	}
}

func TestCreateSessionRegistersController(t *testing.T) {
	hub := broker.NewHub()
	mgr := NewSessionManager(0, devDialer(hub), cache.NewService(cache.NewMemoryBackend()), nil)

	id, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	c, ok := mgr.Session("s1")
	require.True(t, ok)
	assert.NotEmpty(t, c.ResponseTopic())
}

func TestCreateSessionDuplicateIDErrors(t *testing.T) {
	hub := broker.NewHub()
	mgr := NewSessionManager(0, devDialer(hub), cache.NewService(cache.NewMemoryBackend()), nil)

	_, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)

	_, err = mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	assert.Error(t, err)
}

func TestCreateSessionRespectsMaxSessions(t *testing.T) {
	hub := broker.NewHub()
	mgr := NewSessionManager(1, devDialer(hub), cache.NewService(cache.NewMemoryBackend()), nil)

	_, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)

	_, err = mgr.CreateSession(context.Background(), "s2", sessionConfig("reply"))
	assert.Error(t, err)
}

func TestDestroySessionRemovesItFromList(t *testing.T) {
	hub := broker.NewHub()
	mgr := NewSessionManager(0, devDialer(hub), cache.NewService(cache.NewMemoryBackend()), nil)

	_, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)
	require.Len(t, mgr.ListSessions(), 1)

	require.NoError(t, mgr.DestroySession("s1"))
	assert.Empty(t, mgr.ListSessions())

	_, ok := mgr.Session("s1")
	assert.False(t, ok)
}

func TestCreateSessionFailedDialReleasesReservedSlot(t *testing.T) {
	hub := broker.NewHub()
	dialErr := errors.New("dial failed")
	calls := 0
	dial := func(context.Context, Config) (broker.Adapter, error) {
		calls++
		if calls == 1 {
			return nil, dialErr
		}
		return broker.NewDevAdapter(hub), nil
	}
	mgr := NewSessionManager(1, dial, cache.NewService(cache.NewMemoryBackend()), nil)

	_, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.ErrorIs(t, err, dialErr)
	assert.Empty(t, mgr.ListSessions())

	// The failed attempt must have released its reservation, so the
	// single-session cap is still free for a retry under the same ID.
	_, err = mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)
	require.Len(t, mgr.ListSessions(), 1)
}

func TestDestroyUnknownSessionErrors(t *testing.T) {
	mgr := NewSessionManager(0, devDialer(broker.NewHub()), cache.NewService(cache.NewMemoryBackend()), nil)
	assert.Error(t, mgr.DestroySession("nope"))
}

func TestListSessionsReportsResponseTopics(t *testing.T) {
	hub := broker.NewHub()
	mgr := NewSessionManager(0, devDialer(hub), cache.NewService(cache.NewMemoryBackend()), nil)

	_, err := mgr.CreateSession(context.Background(), "s1", sessionConfig("reply"))
	require.NoError(t, err)
	_, err = mgr.CreateSession(context.Background(), "s2", sessionConfig("reply"))
	require.NoError(t, err)

	statuses := mgr.ListSessions()
	require.Len(t, statuses, 2)
	ids := map[string]bool{}
	for _, s := range statuses {
		ids[s.SessionID] = true
		assert.NotEmpty(t, s.ResponseTopic)
	}
	assert.True(t, ids["s1"])
	assert.True(t, ids["s2"])
}
