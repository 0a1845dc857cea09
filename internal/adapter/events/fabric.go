package events

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Fabric wires the persistent stream, the ephemeral status bus, the monitor
// hub, and the optional long-term archiver behind the domain.Events port.
//
// Every publish is fire-and-forget: the store's mutations are the source of
// truth and the fabric is a derived view, so a publish failure is logged
// and counted but never surfaces to the caller.
type Fabric struct {
	stream   *Stream
	status   *StatusBus
	hub      *Hub
	archiver domain.EventArchiver
	entropy  io.Reader
	now      func() time.Time
}

// NewFabric constructs a Fabric. hub and archiver may be nil.
func NewFabric(stream *Stream, status *StatusBus, hub *Hub, archiver domain.EventArchiver) *Fabric {
	// Publish is called from concurrent request handlers, so the monotonic
	// entropy source must be the locked variant.
	entropy := &ulid.LockedMonotonicReader{
		MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // trace ids, not secrets
	}
	return &Fabric{
		stream:   stream,
		status:   status,
		hub:      hub,
		archiver: archiver,
		entropy:  entropy,
		now:      time.Now,
	}
}

// Publish appends a lifecycle event to the persistent stream, fans it out
// to monitors, and forwards terminal events to the archiver.
func (f *Fabric) Publish(ctx domain.Context, e domain.Event) {
	if e.Timestamp == 0 {
		e.Timestamp = f.now().UnixMilli()
	}
	if e.TraceID == "" {
		e.TraceID = f.traceID(ctx)
	}
	if f.stream != nil {
		if err := f.stream.Append(ctx, e); err != nil {
			observability.EventPublishFailuresTotal.WithLabelValues("stream").Inc()
			slog.Warn("event stream append failed",
				slog.String("event_type", string(e.Type)),
				slog.String("job_id", e.JobID),
				slog.Any("error", err))
		}
	}
	if f.hub != nil {
		f.hub.BroadcastEvent(e)
	}
	if f.archiver != nil && (e.IsError() || e.Type == domain.EventJobCompleted || e.Type == domain.EventJobCancelled) {
		if err := f.archiver.Archive(ctx, e); err != nil {
			observability.EventPublishFailuresTotal.WithLabelValues("archive").Inc()
			slog.Warn("event archive failed",
				slog.String("event_type", string(e.Type)),
				slog.Any("error", err))
		}
	}
}

// PublishStatus sends a payload on an ephemeral status channel and fans it
// out to monitors subscribed to progress/status topics.
func (f *Fabric) PublishStatus(ctx domain.Context, topic string, payload any) {
	if f.status != nil {
		if err := f.status.Publish(ctx, topic, payload); err != nil {
			observability.EventPublishFailuresTotal.WithLabelValues("status").Inc()
			slog.Warn("status publish failed", slog.String("topic", topic), slog.Any("error", err))
		}
	}
	if f.hub != nil {
		if u, ok := payload.(domain.StatusUpdate); ok {
			f.hub.BroadcastStatus(u, domain.JobStatus(u.Status).IsTerminal())
		}
	}
}

// EventsSince replays persistent events for monitor resync.
func (f *Fabric) EventsSince(ctx domain.Context, since int64, limit int64) (domain.EventsPage, error) {
	return f.stream.EventsSince(ctx, since, limit)
}

// TrimAged enforces the age-based retention windows. Called periodically by
// the recovery supervisor alongside its sweeps.
func (f *Fabric) TrimAged(ctx domain.Context) error {
	return f.stream.TrimAged(ctx)
}

// traceID reuses the active span's trace id when present so stream entries
// correlate with traces; otherwise it mints a ULID.
func (f *Fabric) traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ulid.MustNew(ulid.Timestamp(f.now()), f.entropy).String()
}
