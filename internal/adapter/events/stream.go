// Package events implements the event fabric: a persistent, replayable
// lifecycle stream plus ephemeral per-entity status channels, with monitor
// subscription and resync.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// StreamConfig bounds the persistent streams by count and age.
type StreamConfig struct {
	MainMaxLen      int64
	ErrorsMaxLen    int64
	MainRetention   time.Duration
	ErrorsRetention time.Duration
}

// DefaultStreamConfig matches the documented retention targets: ~10k main
// entries for 24h, ~50k error entries for 7d.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MainMaxLen:      10000,
		ErrorsMaxLen:    50000,
		MainRetention:   24 * time.Hour,
		ErrorsRetention: 7 * 24 * time.Hour,
	}
}

// Stream is the append-only persistent event log backed by Redis streams.
// Error events are mirrored to a second stream with longer retention.
type Stream struct {
	rdb    redis.Cmdable
	prefix string
	cfg    StreamConfig
	now    func() time.Time
}

// NewStream constructs a Stream with the given key prefix.
func NewStream(rdb redis.Cmdable, prefix string, cfg StreamConfig) *Stream {
	if cfg.MainMaxLen <= 0 {
		cfg.MainMaxLen = DefaultStreamConfig().MainMaxLen
	}
	if cfg.ErrorsMaxLen <= 0 {
		cfg.ErrorsMaxLen = DefaultStreamConfig().ErrorsMaxLen
	}
	return &Stream{rdb: rdb, prefix: prefix, cfg: cfg, now: time.Now}
}

func (s *Stream) mainKey() string { return s.prefix + "events:main" }

func (s *Stream) errorsKey() string { return s.prefix + "events:errors" }

// Append writes the event to the main stream, and to the error stream when
// the event is an error. Streams are length-capped on every append.
func (s *Stream) Append(ctx domain.Context, e domain.Event) error {
	values := eventValues(e)
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.mainKey(),
		MaxLen: s.cfg.MainMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd main: %w", err)
	}
	if e.IsError() {
		if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: s.errorsKey(),
			MaxLen: s.cfg.ErrorsMaxLen,
			Approx: true,
			Values: values,
		}).Err(); err != nil {
			return fmt.Errorf("xadd errors: %w", err)
		}
	}
	return nil
}

// EventsSince replays main-stream events at or after since (epoch ms), up
// to limit. HasMore is set when more events remain past the page;
// OldestAvailable tells the monitor whether trimming ate part of the
// requested range, in which case it must reconcile with a full snapshot.
func (s *Stream) EventsSince(ctx domain.Context, since int64, limit int64) (domain.EventsPage, error) {
	if limit <= 0 {
		limit = 100
	}
	start := "-"
	if since > 0 {
		start = strconv.FormatInt(since, 10) + "-0"
	}
	msgs, err := s.rdb.XRangeN(ctx, s.mainKey(), start, "+", limit+1).Result()
	if err != nil {
		return domain.EventsPage{}, fmt.Errorf("xrange: %w", err)
	}
	page := domain.EventsPage{}
	if int64(len(msgs)) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	page.Events = make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		page.Events = append(page.Events, eventFromValues(m.Values))
	}
	oldest, err := s.rdb.XRangeN(ctx, s.mainKey(), "-", "+", 1).Result()
	if err != nil {
		return domain.EventsPage{}, fmt.Errorf("xrange oldest: %w", err)
	}
	if len(oldest) > 0 {
		page.OldestAvailable = idMillis(oldest[0].ID)
	}
	return page, nil
}

// TrimAged drops entries older than the configured retention windows.
// Count-based capping happens on append; this enforces the age bound.
func (s *Stream) TrimAged(ctx domain.Context) error {
	now := s.now().UnixMilli()
	if s.cfg.MainRetention > 0 {
		minID := strconv.FormatInt(now-s.cfg.MainRetention.Milliseconds(), 10)
		if err := s.rdb.XTrimMinID(ctx, s.mainKey(), minID).Err(); err != nil {
			return fmt.Errorf("xtrim main: %w", err)
		}
	}
	if s.cfg.ErrorsRetention > 0 {
		minID := strconv.FormatInt(now-s.cfg.ErrorsRetention.Milliseconds(), 10)
		if err := s.rdb.XTrimMinID(ctx, s.errorsKey(), minID).Err(); err != nil {
			return fmt.Errorf("xtrim errors: %w", err)
		}
	}
	return nil
}

func eventValues(e domain.Event) map[string]any {
	values := map[string]any{
		"timestamp":  strconv.FormatInt(e.Timestamp, 10),
		"event_type": string(e.Type),
		"trace_id":   e.TraceID,
	}
	if e.Service != "" {
		values["service"] = e.Service
	}
	if e.JobID != "" {
		values["job_id"] = e.JobID
	}
	if e.WorkerID != "" {
		values["worker_id"] = e.WorkerID
	}
	if e.MachineID != "" {
		values["machine_id"] = e.MachineID
	}
	if len(e.Data) > 0 {
		b, _ := json.Marshal(e.Data)
		values["data"] = string(b)
	}
	return values
}

func eventFromValues(values map[string]any) domain.Event {
	get := func(k string) string {
		if v, ok := values[k].(string); ok {
			return v
		}
		return ""
	}
	e := domain.Event{
		Service:   get("service"),
		Type:      domain.EventType(get("event_type")),
		TraceID:   get("trace_id"),
		JobID:     get("job_id"),
		WorkerID:  get("worker_id"),
		MachineID: get("machine_id"),
	}
	e.Timestamp, _ = strconv.ParseInt(get("timestamp"), 10, 64)
	if raw := get("data"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Data)
	}
	return e
}

// idMillis extracts the millisecond component of a stream entry id.
func idMillis(id string) int64 {
	ms, _ := strconv.ParseInt(strings.SplitN(id, "-", 2)[0], 10, 64)
	return ms
}
