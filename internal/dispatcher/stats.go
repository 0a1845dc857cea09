package dispatcher

import (
	"sync"
	"time"
)

// TypeStats counts outcomes for one message type.
type TypeStats struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Snapshot is a point-in-time view of the dispatcher's statistics.
type Snapshot struct {
	Total        int64                `json:"total"`
	PerType      map[string]TypeStats `json:"per_type"`
	PerSecond    float64              `json:"messages_per_second"`
	UptimeMillis int64                `json:"uptime_ms"`
}

// Stats accumulates per-type message counts and a messages/sec rate over a
// sliding one-minute window.
type Stats struct {
	mu      sync.Mutex
	perType map[string]*TypeStats
	total   int64
	started time.Time

	// per-second buckets covering the last minute
	buckets [60]int64
	stamps  [60]int64
	clock   func() time.Time
}

// NewStats constructs an empty Stats.
func NewStats() *Stats {
	return &Stats{
		perType: make(map[string]*TypeStats),
		started: time.Now(),
		clock:   time.Now,
	}
}

func (s *Stats) record(msgType string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, exists := s.perType[msgType]
	if !exists {
		ts = &TypeStats{}
		s.perType[msgType] = ts
	}
	if ok {
		ts.Success++
	} else {
		ts.Failure++
	}
	s.total++

	sec := s.clock().Unix()
	i := sec % 60
	if s.stamps[i] != sec {
		s.stamps[i] = sec
		s.buckets[i] = 0
	}
	s.buckets[i]++
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	per := make(map[string]TypeStats, len(s.perType))
	for k, v := range s.perType {
		per[k] = *v
	}

	now := s.clock().Unix()
	var recent int64
	for i := range s.buckets {
		if now-s.stamps[i] < 60 {
			recent += s.buckets[i]
		}
	}

	return Snapshot{
		Total:        s.total,
		PerType:      per,
		PerSecond:    float64(recent) / 60.0,
		UptimeMillis: s.clock().Sub(s.started).Milliseconds(),
	}
}
