package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/connector"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

func newSupervisor(h *harness, connectors domain.ConnectorRegistry) *Supervisor {
	return NewSupervisor(h.store, h.events, connectors, nil, RecoveryConfig{
		Tick:            30 * time.Second,
		WorkerStale:     90 * time.Second,
		ProgressSilence: 5 * time.Minute,
		WorkerGC:        time.Hour,
	})
}

func TestOrphanRecoveryWithExternalCompletion(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	// W3 registered and claimed 95 seconds ago, then its heartbeat stopped
	past := h.pastStore(95 * time.Second)
	require.NoError(t, past.RegisterWorker(ctx, domain.Worker{ID: "W3", Capabilities: comfyCaps()}))

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	j7, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui"})
	require.NoError(t, err)
	claimed, err := past.ClaimNext(ctx, "W3", comfyCaps())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, h.store.SetServiceJobID(ctx, j7.ID, "sim-X"))

	sim := connector.NewSimulation("comfyui")
	sim.SetOutcome("sim-X", domain.ExternalStatus{
		State:  domain.ExternalCompleted,
		Result: []byte(`{"image":"recovered"}`),
	})
	connectors := connector.NewRegistry()
	connectors.Register(sim)

	newSupervisor(h, connectors).SweepOnce(ctx)

	w, err := h.store.GetWorker(ctx, "W3")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerOffline, w.Status)

	final, err := h.store.GetJob(ctx, j7.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, final.Status)
	assert.Equal(t, []byte(`{"image":"recovered"}`), final.Result)
	assert.Equal(t, 0, final.RetryCount, "external completion does not burn a retry")

	assert.Len(t, h.events.ofType(domain.EventWorkerOffline), 1)
	assert.Len(t, h.events.ofType(domain.EventJobCompleted), 1)
}

func TestOrphanRecoveryRetriesWhenExternalUnknown(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	past := h.pastStore(2 * time.Minute)
	require.NoError(t, past.RegisterWorker(ctx, domain.Worker{ID: "W1", Capabilities: comfyCaps()}))

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	j, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui"})
	require.NoError(t, err)
	claimed, err := past.ClaimNext(ctx, "W1", comfyCaps())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, h.store.SetServiceJobID(ctx, j.ID, "sim-unknown"))

	// the simulation reports not_found, so recovery proceeds with retry
	// accounting rather than assuming completion
	connectors := connector.NewRegistry()
	connectors.Register(connector.NewSimulation("comfyui"))

	newSupervisor(h, connectors).SweepOnce(ctx)

	final, err := h.store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Len(t, h.events.ofType(domain.EventJobRetry), 1)
}

func TestOrphanRecoveryWithoutConnector(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	j, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui"})
	require.NoError(t, err)
	_, err = h.store.ClaimNext(ctx, "ghost", comfyCaps())
	require.NoError(t, err)

	// owner was never registered: the job is orphaned immediately
	newSupervisor(h, connector.NewRegistry()).SweepOnce(ctx)

	final, err := h.store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, final.Status)
	assert.Equal(t, 1, final.RetryCount)
}

func TestTimeoutSweep(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	// fresh heartbeat, but the claim happened two seconds ago with a one
	// second budget
	require.NoError(t, h.store.RegisterWorker(ctx, domain.Worker{ID: "W1", Capabilities: comfyCaps()}))

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	j8, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui", TimeoutMillis: 1000})
	require.NoError(t, err)

	past := h.pastStore(2 * time.Second)
	claimed, err := past.ClaimNext(ctx, "W1", comfyCaps())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, h.store.SetServiceJobID(ctx, j8.ID, "sim-t"))

	sim := connector.NewSimulation("comfyui")
	sim.SetOutcome("sim-t", domain.ExternalStatus{State: domain.ExternalRunning})
	connectors := connector.NewRegistry()
	connectors.Register(sim)

	newSupervisor(h, connectors).SweepOnce(ctx)

	final, err := h.store.GetJob(ctx, j8.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobTimeout, final.Status)

	// the owning worker got a directed abort
	directed := h.events.statusesOn(domain.WorkerControlTopic("W1"))
	require.Len(t, directed, 1)

	// best-effort external cancel reached the connector
	st, err := sim.QueryStatus(ctx, "sim-t")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalFailed, st.State)

	assert.Len(t, h.events.ofType(domain.EventJobTimeout), 1)

	// worker is idle again, ready for its next claim
	w, err := h.store.GetWorker(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerIdle, w.Status)
}

func TestStuckJobSweep(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	require.NoError(t, h.store.RegisterWorker(ctx, domain.Worker{ID: "W1", Capabilities: comfyCaps()}))

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	j, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui"})
	require.NoError(t, err)

	// claimed six minutes ago with no progress since; the ten minute
	// timeout budget has not elapsed, so the progress-silence branch fires
	past := h.pastStore(6 * time.Minute)
	claimed, err := past.ClaimNext(ctx, "W1", comfyCaps())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	newSupervisor(h, connector.NewRegistry()).SweepOnce(ctx)

	final, err := h.store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, final.Status, "stuck job is retried")
	assert.Equal(t, 1, final.RetryCount)
}

func TestNoZombieOwnershipAfterSweep(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	broker := NewBroker(h.store, h.events, 3, 10*time.Minute)
	for i := 0; i < 3; i++ {
		_, err := broker.Submit(ctx, SubmitRequest{ServiceRequired: "comfyui"})
		require.NoError(t, err)
		_, err = h.store.ClaimNext(ctx, "vanished", comfyCaps())
		require.NoError(t, err)
	}

	newSupervisor(h, connector.NewRegistry()).SweepOnce(ctx)

	active, err := h.store.GetActiveJobs(ctx, "")
	require.NoError(t, err)
	for _, j := range active {
		if j.WorkerID == "" {
			continue
		}
		_, err := h.store.GetWorker(ctx, j.WorkerID)
		assert.NoError(t, err, "active job %s references a registered worker", j.ID)
	}
}

func TestGraveyardSweep(t *testing.T) {
	ctx := context.Background()
	h, cleanup := newHarness(t)
	defer cleanup()

	past := h.pastStore(2 * time.Hour)
	require.NoError(t, past.RegisterWorker(ctx, domain.Worker{ID: "old", Capabilities: comfyCaps()}))
	require.NoError(t, h.store.UpdateWorkerStatus(ctx, "old", domain.WorkerOffline))

	require.NoError(t, h.store.RegisterWorker(ctx, domain.Worker{ID: "fresh", Capabilities: comfyCaps()}))

	newSupervisor(h, connector.NewRegistry()).SweepOnce(ctx)

	_, err := h.store.GetWorker(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.store.GetWorker(ctx, "fresh")
	assert.NoError(t, err)

	assert.Len(t, h.events.ofType(domain.EventWorkerRemoved), 1)
}

func TestSupervisorRunStopsOnContextCancel(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	s := newSupervisor(h, connector.NewRegistry())
	s.cfg.Tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
