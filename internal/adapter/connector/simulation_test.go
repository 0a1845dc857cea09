package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

func TestSimulationContract(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulation("comfyui", "whisper")

	caps := sim.Capabilities()
	assert.Equal(t, []string{"comfyui", "whisper"}, caps.Services)
	assert.True(t, caps.SupportsStatusQuery)
	assert.True(t, caps.SupportsCancel)

	id, err := sim.Submit(ctx, []byte(`{"prompt":"x"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := sim.QueryStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalRunning, st.State)

	st, err = sim.QueryStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalNotFound, st.State)

	require.NoError(t, sim.Cancel(ctx, id))
	st, err = sim.QueryStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalFailed, st.State)
}

func TestSimulationSetOutcome(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulation()

	sim.SetOutcome("x", domain.ExternalStatus{State: domain.ExternalCompleted, Result: []byte(`{}`)})
	st, err := sim.QueryStatus(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalCompleted, st.State)
}

func TestRegistryResolvesAllServices(t *testing.T) {
	r := NewRegistry()
	sim := NewSimulation("comfyui", "whisper")
	r.Register(sim)

	c, ok := r.ConnectorFor("comfyui")
	assert.True(t, ok)
	assert.NotNil(t, c)

	c, ok = r.ConnectorFor("whisper")
	assert.True(t, ok)
	assert.NotNil(t, c)

	_, ok = r.ConnectorFor("missing")
	assert.False(t, ok)
}
