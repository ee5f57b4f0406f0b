package services

import (
	"sync"

	"vidstream/internal/core/domain"
)

// SessionState is the per-connection streaming record. Every accessor is
// atomic on its own; the delivery loop is the only writer.
type SessionState struct {
	mu sync.RWMutex

	bytesDelivered      int64
	reportedPosition    float64
	reportedDuration    float64
	chunksSinceLastPoll int
}

func NewSessionState() *SessionState {
	return &SessionState{}
}

func (s *SessionState) BytesDelivered() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytesDelivered
}

func (s *SessionState) AddBytesDelivered(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.bytesDelivered += n
	}
}

func (s *SessionState) Position() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportedPosition
}

func (s *SessionState) SetPosition(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportedPosition = v
}

func (s *SessionState) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportedDuration
}

func (s *SessionState) SetDuration(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportedDuration = v
}

// UpdatePlayback stores both halves of a report under one lock.
func (s *SessionState) UpdatePlayback(r domain.PlaybackReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportedPosition = r.Position
	s.reportedDuration = r.Duration
}

func (s *SessionState) ChunksSinceLastPoll() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksSinceLastPoll
}

func (s *SessionState) IncrementChunksSinceLastPoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunksSinceLastPoll++
}

func (s *SessionState) ResetPollCadence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunksSinceLastPoll = 0
}

// Reset zeroes all fields together.
func (s *SessionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesDelivered = 0
	s.reportedPosition = 0
	s.reportedDuration = 0
	s.chunksSinceLastPoll = 0
}

// FlowSnapshot is a consistent copy of the fields the gate reads.
type FlowSnapshot struct {
	BytesDelivered      int64
	ReportedPosition    float64
	ReportedDuration    float64
	ChunksSinceLastPoll int
}

func (s *SessionState) Snapshot() FlowSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FlowSnapshot{
		BytesDelivered:      s.bytesDelivered,
		ReportedPosition:    s.reportedPosition,
		ReportedDuration:    s.reportedDuration,
		ChunksSinceLastPoll: s.chunksSinceLastPoll,
	}
}
