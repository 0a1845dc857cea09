// Package dispatcher routes inbound client and worker messages to the
// application services. It is the only place that calls across components.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Message types understood by the dispatcher.
const (
	TypeSubmitJob       = "submit_job"
	TypeUpdateProgress  = "update_progress"
	TypeCompleteJob     = "complete_job"
	TypeFailJob         = "fail_job"
	TypeCancelJob       = "cancel_job"
	TypeSyncJobState    = "sync_job_state"
	TypeRegisterWorker  = "register_worker"
	TypeWorkerStatus    = "worker_status"
	TypeWorkerHeartbeat = "worker_heartbeat"
	TypeServiceRequest  = "service_request"
	TypeAck             = "ack"
	TypeError           = "error"
)

// Envelope is the uniform inbound message shape. Source names the origin
// (client, worker, monitor); WorkerID names the acting worker when one is
// involved.
type Envelope struct {
	ID        string          `json:"id" validate:"required"`
	Type      string          `json:"type" validate:"required"`
	Timestamp int64           `json:"timestamp" validate:"required,gt=0"`
	Source    string          `json:"source,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Reply is the dispatcher's answer to a message: an ack carrying the
// handler's result, or an error identifying what went wrong.
type Reply struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ReplyTo   string `json:"reply_to"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Handler processes one message type. The returned value is carried in the
// ack's data field.
type Handler func(ctx context.Context, env Envelope) (any, error)

// UnknownTypePolicy controls how an unregistered message type is handled.
type UnknownTypePolicy string

const (
	// UnknownWarn logs a warning and replies with an error message.
	UnknownWarn UnknownTypePolicy = "warn"
	// UnknownError additionally counts the message as a dispatch failure.
	UnknownError UnknownTypePolicy = "error"
)

// Dispatcher maps message types to handlers. The registry is populated at
// startup and treated as immutable afterwards; Register is not safe for
// concurrent use with Dispatch.
type Dispatcher struct {
	handlers map[string]Handler
	validate *validator.Validate
	policy   UnknownTypePolicy
	stats    *Stats
	now      func() int64
}

// New constructs a Dispatcher with an empty registry.
func New(policy UnknownTypePolicy) *Dispatcher {
	if policy != UnknownError {
		policy = UnknownWarn
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		validate: validator.New(),
		policy:   policy,
		stats:    NewStats(),
		now:      domain.NowMillis,
	}
}

// WithClock overrides the Dispatcher's time source, for tests.
func (d *Dispatcher) WithClock(now func() int64) *Dispatcher {
	d.now = now
	return d
}

// Register binds a handler to a message type. Exactly one handler per type:
// a duplicate registration is a programming error and panics at startup.
func (d *Dispatcher) Register(msgType string, h Handler) {
	if _, dup := d.handlers[msgType]; dup {
		panic(fmt.Sprintf("dispatcher: duplicate handler for %q", msgType))
	}
	d.handlers[msgType] = h
}

// Stats returns the dispatcher's statistics surface.
func (d *Dispatcher) Stats() *Stats { return d.stats }

// Dispatch validates the envelope and routes it to the registered handler.
// Every message gets a reply: an ack with the handler's result, or an error
// reply. Dispatch never raises past this point.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Reply {
	if err := d.validate.Struct(env); err != nil {
		d.stats.record(env.Type, false)
		observability.DispatcherMessagesTotal.WithLabelValues(env.Type, "invalid").Inc()
		return d.errorReply(env, "validation_error", fmt.Sprintf("invalid envelope: %v", err))
	}

	h, ok := d.handlers[env.Type]
	if !ok {
		slog.Warn("unknown message type",
			slog.String("message_id", env.ID),
			slog.String("type", env.Type),
			slog.String("source", env.Source))
		outcome := "unknown"
		if d.policy == UnknownError {
			outcome = "error"
		}
		d.stats.record(env.Type, false)
		observability.DispatcherMessagesTotal.WithLabelValues(env.Type, outcome).Inc()
		return d.errorReply(env, "validation_error", fmt.Sprintf("unknown message type %q", env.Type))
	}

	result, err := h(ctx, env)
	if err != nil {
		d.stats.record(env.Type, false)
		observability.DispatcherMessagesTotal.WithLabelValues(env.Type, "failure").Inc()
		code := errorCode(err)
		slog.Warn("message handling failed",
			slog.String("message_id", env.ID),
			slog.String("type", env.Type),
			slog.String("code", code),
			slog.Any("error", err))
		return d.errorReply(env, code, err.Error())
	}

	d.stats.record(env.Type, true)
	observability.DispatcherMessagesTotal.WithLabelValues(env.Type, "success").Inc()
	return Reply{
		ID:        env.ID + ":ack",
		Type:      TypeAck,
		ReplyTo:   env.ID,
		Timestamp: d.now(),
		Data:      result,
	}
}

// DispatchRaw decodes a JSON envelope and dispatches it. A payload that is
// not an envelope at all still gets an error reply.
func (d *Dispatcher) DispatchRaw(ctx context.Context, raw []byte) Reply {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.stats.record("", false)
		observability.DispatcherMessagesTotal.WithLabelValues("", "invalid").Inc()
		return d.errorReply(env, "validation_error", fmt.Sprintf("malformed message: %v", err))
	}
	return d.Dispatch(ctx, env)
}

func (d *Dispatcher) errorReply(env Envelope, code, msg string) Reply {
	return Reply{
		ID:        env.ID + ":err",
		Type:      TypeError,
		ReplyTo:   env.ID,
		Timestamp: d.now(),
		Code:      code,
		Message:   msg,
	}
}

// errorCode maps the error taxonomy onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStaleUpdate):
		return "stale_update"
	case errors.Is(err, domain.ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	default:
		return "internal_error"
	}
}
