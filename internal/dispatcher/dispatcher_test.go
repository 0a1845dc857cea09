package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/store/redisstore"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
	"github.com/fairyhunter13/ai-job-broker/internal/usecase"
)

func env(msgType string, data any) Envelope {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return Envelope{
		ID:        "m-1",
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "test",
		Data:      raw,
	}
}

func TestDispatchValidatesEnvelope(t *testing.T) {
	d := New(UnknownWarn)
	ctx := context.Background()

	for name, e := range map[string]Envelope{
		"missing id":        {Type: "x", Timestamp: 1},
		"missing type":      {ID: "1", Timestamp: 1},
		"missing timestamp": {ID: "1", Type: "x"},
	} {
		reply := d.Dispatch(ctx, e)
		assert.Equal(t, TypeError, reply.Type, name)
		assert.Equal(t, "validation_error", reply.Code, name)
	}
}

func TestDispatchUnknownTypeRepliesError(t *testing.T) {
	d := New(UnknownWarn)

	reply := d.Dispatch(context.Background(), env("no_such_type", nil))
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "m-1", reply.ReplyTo)
	assert.Contains(t, reply.Message, "no_such_type")
}

func TestDispatchRawMalformed(t *testing.T) {
	d := New(UnknownWarn)
	reply := d.DispatchRaw(context.Background(), []byte("{not json"))
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "validation_error", reply.Code)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := New(UnknownWarn)
	h := func(context.Context, Envelope) (any, error) { return nil, nil }
	d.Register("t", h)
	assert.Panics(t, func() { d.Register("t", h) })
}

func TestDispatchAckAndErrorCodes(t *testing.T) {
	d := New(UnknownWarn)
	d.Register("ok", func(context.Context, Envelope) (any, error) {
		return map[string]any{"x": 1}, nil
	})
	d.Register("missing", func(context.Context, Envelope) (any, error) {
		return nil, fmt.Errorf("%w: job j1", domain.ErrNotFound)
	})
	d.Register("stale", func(context.Context, Envelope) (any, error) {
		return nil, fmt.Errorf("%w: job j1", domain.ErrStaleUpdate)
	})
	d.Register("boom", func(context.Context, Envelope) (any, error) {
		return nil, errors.New("unexpected")
	})

	ctx := context.Background()

	reply := d.Dispatch(ctx, env("ok", nil))
	assert.Equal(t, TypeAck, reply.Type)
	assert.Equal(t, "m-1", reply.ReplyTo)
	assert.NotNil(t, reply.Data)

	reply = d.Dispatch(ctx, env("missing", nil))
	assert.Equal(t, "not_found", reply.Code)

	reply = d.Dispatch(ctx, env("stale", nil))
	assert.Equal(t, "stale_update", reply.Code)

	reply = d.Dispatch(ctx, env("boom", nil))
	assert.Equal(t, "internal_error", reply.Code)
}

func TestStatsCountsPerType(t *testing.T) {
	d := New(UnknownWarn)
	d.Register("ok", func(context.Context, Envelope) (any, error) { return nil, nil })
	d.Register("bad", func(context.Context, Envelope) (any, error) { return nil, errors.New("no") })

	ctx := context.Background()
	d.Dispatch(ctx, env("ok", nil))
	d.Dispatch(ctx, env("ok", nil))
	d.Dispatch(ctx, env("bad", nil))
	d.Dispatch(ctx, env("no_such", nil))

	snap := d.Stats().Snapshot()
	assert.Equal(t, int64(4), snap.Total)
	assert.Equal(t, int64(2), snap.PerType["ok"].Success)
	assert.Equal(t, int64(1), snap.PerType["bad"].Failure)
	assert.Equal(t, int64(1), snap.PerType["no_such"].Failure)
	assert.Greater(t, snap.PerSecond, 0.0)
}

// fabricStub satisfies domain.Events for wiring the application services.
type fabricStub struct{}

func (fabricStub) Publish(domain.Context, domain.Event)            {}
func (fabricStub) PublishStatus(domain.Context, string, any)       {}
func (fabricStub) EventsSince(domain.Context, int64, int64) (domain.EventsPage, error) {
	return domain.EventsPage{}, nil
}

func newWiredDispatcher(t *testing.T) (*Dispatcher, domain.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.New(rdb, "broker:")

	ev := fabricStub{}
	broker := usecase.NewBroker(store, ev, 3, 10*time.Minute)
	registry := usecase.NewRegistry(store, ev)
	engine := usecase.NewEngine(store, ev)

	d := New(UnknownWarn)
	RegisterCoreHandlers(d, broker, registry, engine, store)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return d, store, cleanup
}

func TestCoreHandlersEndToEnd(t *testing.T) {
	ctx := context.Background()
	d, store, cleanup := newWiredDispatcher(t)
	defer cleanup()

	caps := domain.Capabilities{Services: []string{"comfyui"}, Tags: []string{"gpu"}}

	// register worker
	reg := env(TypeRegisterWorker, registerWorkerData{Capabilities: caps})
	reg.WorkerID = "W1"
	reply := d.Dispatch(ctx, reg)
	require.Equal(t, TypeAck, reply.Type, reply.Message)

	// submit
	reply = d.Dispatch(ctx, env(TypeSubmitJob, submitJobData{
		ServiceRequired: "comfyui",
		Priority:        10,
		Payload:         json.RawMessage(`{"prompt":"x"}`),
	}))
	require.Equal(t, TypeAck, reply.Type, reply.Message)
	jobID := reply.Data.(map[string]any)["job_id"].(string)
	require.NotEmpty(t, jobID)

	// claim
	claim := env(TypeServiceRequest, serviceRequestData{Capabilities: caps})
	claim.WorkerID = "W1"
	reply = d.Dispatch(ctx, claim)
	require.Equal(t, TypeAck, reply.Type, reply.Message)
	claimed := reply.Data.(map[string]any)["job"].(*domain.Job)
	require.NotNil(t, claimed)
	assert.Equal(t, jobID, claimed.ID)

	// progress carrying the external correlation id
	prog := env(TypeUpdateProgress, progressData{JobID: jobID, Progress: 30, ServiceJobID: "ext-1"})
	prog.WorkerID = "W1"
	reply = d.Dispatch(ctx, prog)
	require.Equal(t, TypeAck, reply.Type, reply.Message)

	// complete
	comp := env(TypeCompleteJob, completeJobData{JobID: jobID, Result: json.RawMessage(`{"ok":true}`)})
	comp.WorkerID = "W1"
	reply = d.Dispatch(ctx, comp)
	require.Equal(t, TypeAck, reply.Type, reply.Message)

	// sync reflects the final state
	reply = d.Dispatch(ctx, env(TypeSyncJobState, jobRefData{JobID: jobID}))
	require.Equal(t, TypeAck, reply.Type, reply.Message)

	j, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, j.Status)
	assert.Equal(t, "ext-1", j.ServiceJobID)
}

func TestHandlersRequireWorkerID(t *testing.T) {
	ctx := context.Background()
	d, _, cleanup := newWiredDispatcher(t)
	defer cleanup()

	reply := d.Dispatch(ctx, env(TypeWorkerHeartbeat, nil))
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "validation_error", reply.Code)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	ctx := context.Background()
	d, _, cleanup := newWiredDispatcher(t)
	defer cleanup()

	hb := env(TypeWorkerHeartbeat, heartbeatData{SystemInfo: json.RawMessage(`{"load":1}`)})
	hb.WorkerID = "ghost"
	reply := d.Dispatch(ctx, hb)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "not_found", reply.Code)
}
