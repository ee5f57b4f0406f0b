package ports

import (
	"context"
	"time"

	"vidstream/internal/core/domain"
)

// Player is the capability surface a presentation layer exposes to the
// receiver. Implementations must be safe for concurrent use.
type Player interface {
	IsActive() bool
	CurrentPosition() float64
	TotalDuration() float64
	RequestSeek(t float64) error
	Stop()
}

// Presenter starts local playback of a (possibly still growing) file.
type Presenter interface {
	Present(ctx context.Context, path string, video domain.Video) (Player, error)
}

// Notifier surfaces user-visible failures.
type Notifier interface {
	Notify(kind domain.FailureKind, message string)
}

// SessionRegistry tracks live delivery connections.
type SessionRegistry interface {
	Register(id domain.ConnID, source SessionSource)
	Unregister(id domain.ConnID)
	Snapshot() []domain.SessionSnapshot
	Get(id domain.ConnID) (domain.SessionSnapshot, bool)
	Count() int
}

// SessionSource produces snapshots of one connection's state.
type SessionSource interface {
	Snapshot() domain.SessionSnapshot
}

// DeliveryMetrics receives delivery engine events.
type DeliveryMetrics interface {
	ConnectionOpened()
	ConnectionClosed(lifetime time.Duration)
	StreamStarted(id domain.VideoID)
	StreamFinished(id domain.VideoID, outcome domain.StreamOutcome, bytes int64, elapsed time.Duration)
	ChunkSent(id domain.VideoID, bytes int, latency time.Duration)
	GateWait(id domain.VideoID)
	PlaybackPoll(id domain.VideoID)
}
