package session

import (
	"context"
	"sync"
)

// MemoryRepo keeps snapshots in process memory. It backs tests and the
// synchronizer's degraded local-only fallback; it is never authoritative.
type MemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]TaskSession
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: map[string]TaskSession{}}
}

func (r *MemoryRepo) Get(_ context.Context, userID string) (TaskSession, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return TaskSession{}, false, nil
	}
	return cloneSession(s), true, nil
}

func (r *MemoryRepo) Upsert(_ context.Context, userID string, s TaskSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = cloneSession(s)
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	return nil
}

func cloneSession(s TaskSession) TaskSession {
	out := s
	out.Tasks = make([]TaskItem, len(s.Tasks))
	copy(out.Tasks, s.Tasks)
	if s.LockTime != nil {
		t := *s.LockTime
		out.LockTime = &t
	}
	return out
}
