package services

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// MetricsService keeps per-video delivery statistics in memory for the admin
// API.
type MetricsService struct {
	mu sync.RWMutex

	stats map[domain.VideoID]*domain.DeliveryStats

	activeConnections int64
	totalConnections  int64
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		stats: make(map[domain.VideoID]*domain.DeliveryStats),
	}
}

func (m *MetricsService) ConnectionOpened() {
	atomic.AddInt64(&m.activeConnections, 1)
	atomic.AddInt64(&m.totalConnections, 1)
}

func (m *MetricsService) ConnectionClosed(time.Duration) {
	atomic.AddInt64(&m.activeConnections, -1)
}

func (m *MetricsService) StreamStarted(id domain.VideoID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(id)
	s.StreamsStarted++
	s.Timestamp = time.Now()
}

func (m *MetricsService) StreamFinished(id domain.VideoID, outcome domain.StreamOutcome, bytes int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(id)
	switch outcome {
	case domain.OutcomeCompleted:
		s.StreamsFinished++
	case domain.OutcomeNotFound:
		// counted separately; the id may not be in the catalog at all
		s.NotFound++
	default:
		s.StreamsFailed++
	}
	if elapsed > 0 {
		s.LastStreamTime = elapsed
	}
	s.Timestamp = time.Now()
}

func (m *MetricsService) ChunkSent(id domain.VideoID, bytes int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).BytesDelivered += int64(bytes)
}

func (m *MetricsService) GateWait(id domain.VideoID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).GateWaits++
}

func (m *MetricsService) PlaybackPoll(id domain.VideoID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).PlaybackPolls++
}

// GetDeliveryStats returns a copy of one video's statistics.
func (m *MetricsService) GetDeliveryStats(id domain.VideoID) domain.DeliveryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[id]; ok {
		return *s
	}
	return domain.DeliveryStats{VideoID: id, Timestamp: time.Now()}
}

// AllDeliveryStats returns copies of every tracked video's statistics,
// ordered by video id.
func (m *MetricsService) AllDeliveryStats() []domain.DeliveryStats {
	m.mu.RLock()
	out := make([]domain.DeliveryStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, *s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

func (m *MetricsService) ActiveConnections() int64 {
	return atomic.LoadInt64(&m.activeConnections)
}

func (m *MetricsService) TotalConnections() int64 {
	return atomic.LoadInt64(&m.totalConnections)
}

func (m *MetricsService) entry(id domain.VideoID) *domain.DeliveryStats {
	s, ok := m.stats[id]
	if !ok {
		s = &domain.DeliveryStats{VideoID: id}
		m.stats[id] = s
	}
	return s
}

// MultiMetrics fans delivery events out to several sinks.
type MultiMetrics []ports.DeliveryMetrics

func (mm MultiMetrics) ConnectionOpened() {
	for _, m := range mm {
		m.ConnectionOpened()
	}
}

func (mm MultiMetrics) ConnectionClosed(lifetime time.Duration) {
	for _, m := range mm {
		m.ConnectionClosed(lifetime)
	}
}

func (mm MultiMetrics) StreamStarted(id domain.VideoID) {
	for _, m := range mm {
		m.StreamStarted(id)
	}
}

func (mm MultiMetrics) StreamFinished(id domain.VideoID, outcome domain.StreamOutcome, bytes int64, elapsed time.Duration) {
	for _, m := range mm {
		m.StreamFinished(id, outcome, bytes, elapsed)
	}
}

func (mm MultiMetrics) ChunkSent(id domain.VideoID, bytes int, latency time.Duration) {
	for _, m := range mm {
		m.ChunkSent(id, bytes, latency)
	}
}

func (mm MultiMetrics) GateWait(id domain.VideoID) {
	for _, m := range mm {
		m.GateWait(id)
	}
}

func (mm MultiMetrics) PlaybackPoll(id domain.VideoID) {
	for _, m := range mm {
		m.PlaybackPoll(id)
	}
}

// NopDeliveryMetrics discards every event.
type NopDeliveryMetrics struct{}

func (NopDeliveryMetrics) ConnectionOpened() {}
func (NopDeliveryMetrics) ConnectionClosed(time.Duration) {}
func (NopDeliveryMetrics) StreamStarted(domain.VideoID) {}
func (NopDeliveryMetrics) GateWait(domain.VideoID) {}
func (NopDeliveryMetrics) PlaybackPoll(domain.VideoID) {}
func (NopDeliveryMetrics) ChunkSent(domain.VideoID, int, time.Duration) {}
func (NopDeliveryMetrics) StreamFinished(domain.VideoID, domain.StreamOutcome, int64, time.Duration) {
}
