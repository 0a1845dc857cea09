package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

func TestStatusBusRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	bus := NewStatusBus(rdb, "broker:")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := domain.JobStatusTopic("job-1")
	ch, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)

	update := domain.StatusUpdate{JobID: "job-1", Status: "in_progress", Progress: 55, Timestamp: 123}
	require.NoError(t, bus.Publish(ctx, topic, update))

	select {
	case raw := <-ch:
		var got domain.StatusUpdate
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, update, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status message")
	}
}

func TestStatusBusNoSubscriberIsLost(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	bus := NewStatusBus(rdb, "broker:")

	// publishing with nobody listening succeeds and persists nothing
	require.NoError(t, bus.Publish(context.Background(), "job:ghost:status", map[string]any{"x": 1}))
	keys := mr.Keys()
	assert.Empty(t, keys)
}
