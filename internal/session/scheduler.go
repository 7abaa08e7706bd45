package session

import (
	"sync"
	"time"
)

// scheduler owns the synchronizer's deferred work: one expiry timer and
// one reset-debounce timer per user, each cancelable and restartable.
// Scheduling under the same key replaces the pending timer.
type scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newScheduler() *scheduler {
	return &scheduler{timers: map[string]*time.Timer{}}
}

func (s *scheduler) schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
}

func (s *scheduler) cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *scheduler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
