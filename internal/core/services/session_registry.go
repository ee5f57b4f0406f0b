package services

import (
	"sort"
	"sync"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// SessionRegistry tracks live delivery connections for the admin API.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnID]ports.SessionSource
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.ConnID]ports.SessionSource),
	}
}

func (r *SessionRegistry) Register(id domain.ConnID, source ports.SessionSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = source
}

func (r *SessionRegistry) Unregister(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Snapshot returns the state of every live connection, oldest first.
func (r *SessionRegistry) Snapshot() []domain.SessionSnapshot {
	r.mu.RLock()
	sources := make([]ports.SessionSource, 0, len(r.sessions))
	for _, src := range r.sessions {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	out := make([]domain.SessionSnapshot, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *SessionRegistry) Get(id domain.ConnID) (domain.SessionSnapshot, bool) {
	r.mu.RLock()
	src, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return domain.SessionSnapshot{}, false
	}
	return src.Snapshot(), true
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
