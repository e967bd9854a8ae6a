package handler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiterSet holds one token bucket per conversation.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newLimiterSet(perSec float64, burst int) *limiterSet {
	if perSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:   rate.Limit(perSec),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// allow reports whether a turn for id may run now. A nil set allows all.
func (s *limiterSet) allow(id string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[id] = e
	}
	e.seen = time.Now()
	return e.limiter.Allow()
}

// forget drops the bucket for id.
func (s *limiterSet) forget(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// prune drops buckets not used since cutoff.
func (s *limiterSet) prune(cutoff time.Time) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.seen.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
