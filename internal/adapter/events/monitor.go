package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Topic is a monitor subscription category.
type Topic string

const (
	TopicWorkers      Topic = "workers"
	TopicJobs         Topic = "jobs"
	TopicJobsProgress Topic = "jobs:progress"
	TopicJobsStatus   Topic = "jobs:status"
	TopicSystem       Topic = "system"
	TopicHeartbeat    Topic = "heartbeat"
)

// Filters narrow a monitor's subscription. Zero values match everything.
type Filters struct {
	JobType     string
	WorkerID    string
	PriorityMin int
	PriorityMax int
}

func (f Filters) matchEvent(e domain.Event) bool {
	if f.JobType != "" && e.Service != "" && e.Service != f.JobType {
		return false
	}
	if f.WorkerID != "" && e.WorkerID != "" && e.WorkerID != f.WorkerID {
		return false
	}
	if f.PriorityMin != 0 || f.PriorityMax != 0 {
		if p, ok := eventPriority(e); ok {
			if f.PriorityMin != 0 && p < f.PriorityMin {
				return false
			}
			if f.PriorityMax != 0 && p > f.PriorityMax {
				return false
			}
		}
	}
	return true
}

func eventPriority(e domain.Event) (int, bool) {
	v, ok := e.Data["priority"]
	if !ok {
		return 0, false
	}
	switch p := v.(type) {
	case int:
		return p, true
	case int64:
		return int(p), true
	case float64:
		return int(p), true
	}
	return 0, false
}

// Notification is a single fan-out delivery to a monitor. Exactly one of
// Event and Status is set.
type Notification struct {
	Topic  Topic
	Event  *domain.Event
	Status *domain.StatusUpdate
}

type monitor struct {
	id       string
	topics   map[Topic]bool
	filters  Filters
	ch       chan Notification
	lastBeat time.Time
}

// Hub tracks monitor subscriptions and fans lifecycle events and status
// updates out to them. Delivery is non-blocking: a monitor that cannot keep
// up loses messages instead of buffering unboundedly, and resyncs from the
// persistent stream.
type Hub struct {
	mu       sync.RWMutex
	monitors map[string]*monitor
	timeout  time.Duration
	now      func() time.Time
}

// NewHub constructs a Hub with the given heartbeat timeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Hub{
		monitors: make(map[string]*monitor),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Register subscribes a monitor to the given topics and returns its id and
// delivery channel. The channel closes when the monitor is dropped.
func (h *Hub) Register(topics []Topic, f Filters) (string, <-chan Notification) {
	m := &monitor{
		id:       uuid.NewString(),
		topics:   make(map[Topic]bool, len(topics)),
		filters:  f,
		ch:       make(chan Notification, 256),
		lastBeat: h.now(),
	}
	for _, t := range topics {
		m.topics[t] = true
	}
	h.mu.Lock()
	h.monitors[m.id] = m
	n := len(h.monitors)
	h.mu.Unlock()
	observability.MonitorsConnected.Set(float64(n))
	return m.id, m.ch
}

// Unregister drops a monitor and closes its channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	m, ok := h.monitors[id]
	if ok {
		delete(h.monitors, id)
	}
	n := len(h.monitors)
	h.mu.Unlock()
	if ok {
		close(m.ch)
	}
	observability.MonitorsConnected.Set(float64(n))
}

// Heartbeat records liveness for a monitor. Returns false when the monitor
// is unknown (already expired), in which case it must re-register.
func (h *Hub) Heartbeat(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.monitors[id]
	if !ok {
		return false
	}
	m.lastBeat = h.now()
	return true
}

// BroadcastEvent fans a lifecycle event out to monitors subscribed to its
// category.
func (h *Hub) BroadcastEvent(e domain.Event) {
	topic := categoryOf(e.Type)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.monitors {
		if !m.topics[topic] {
			continue
		}
		if !m.filters.matchEvent(e) {
			continue
		}
		ev := e
		select {
		case m.ch <- Notification{Topic: topic, Event: &ev}:
		default:
		}
	}
}

// BroadcastStatus fans an ephemeral status update out to monitors. Progress
// ticks go to jobs:progress; terminal notices to jobs:status.
func (h *Hub) BroadcastStatus(u domain.StatusUpdate, terminal bool) {
	topic := TopicJobsProgress
	if terminal {
		topic = TopicJobsStatus
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.monitors {
		if !m.topics[topic] {
			continue
		}
		if m.filters.WorkerID != "" && u.WorkerID != "" && u.WorkerID != m.filters.WorkerID {
			continue
		}
		su := u
		select {
		case m.ch <- Notification{Topic: topic, Status: &su}:
		default:
		}
	}
}

// Run expires monitors that stop heartbeating. Blocks until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.expire()
		}
	}
}

func (h *Hub) expire() {
	cutoff := h.now().Add(-h.timeout)
	h.mu.Lock()
	var dropped []*monitor
	for id, m := range h.monitors {
		if m.lastBeat.Before(cutoff) {
			delete(h.monitors, id)
			dropped = append(dropped, m)
		}
	}
	n := len(h.monitors)
	h.mu.Unlock()
	for _, m := range dropped {
		close(m.ch)
		slog.Warn("monitor expired", slog.String("monitor_id", m.id))
	}
	observability.MonitorsConnected.Set(float64(n))
}

func categoryOf(t domain.EventType) Topic {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "worker."):
		return TopicWorkers
	case strings.HasPrefix(s, "job."):
		return TopicJobs
	default:
		return TopicSystem
	}
}
