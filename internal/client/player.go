package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// ClockPlayer is a headless player: its position advances with wall-clock
// time and the duration is estimated from the file size and a nominal
// bitrate in bytes per second.
type ClockPlayer struct {
	duration float64
	now      func() time.Time

	mu      sync.Mutex
	base    float64
	since   time.Time
	stopped bool
}

func NewClockPlayer(size, bytesPerSecond int64) *ClockPlayer {
	return newClockPlayer(size, bytesPerSecond, time.Now)
}

func newClockPlayer(size, bytesPerSecond int64, now func() time.Time) *ClockPlayer {
	duration := 0.0
	if bytesPerSecond > 0 {
		duration = float64(size) / float64(bytesPerSecond)
	}
	return &ClockPlayer{duration: duration, now: now, since: now()}
}

func (p *ClockPlayer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

func (p *ClockPlayer) CurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *ClockPlayer) TotalDuration() float64 {
	return p.duration
}

// Finished reports whether playback reached the end.
func (p *ClockPlayer) Finished() bool {
	return p.CurrentPosition() >= p.duration
}

func (p *ClockPlayer) RequestSeek(t float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("seek on stopped player")
	}
	if t < 0 {
		t = 0
	}
	if t > p.duration {
		t = p.duration
	}
	p.base = t
	p.since = p.now()
	return nil
}

func (p *ClockPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.base = p.positionLocked()
	p.stopped = true
}

func (p *ClockPlayer) positionLocked() float64 {
	if p.stopped {
		return p.base
	}
	pos := p.base + p.now().Sub(p.since).Seconds()
	if pos > p.duration {
		return p.duration
	}
	return pos
}

// ClockPresenter presents videos with a ClockPlayer.
type ClockPresenter struct {
	BytesPerSecond int64

	mu   sync.Mutex
	last *ClockPlayer
}

func (cp *ClockPresenter) Present(_ context.Context, _ string, video domain.Video) (ports.Player, error) {
	p := NewClockPlayer(video.Size, cp.BytesPerSecond)
	cp.mu.Lock()
	cp.last = p
	cp.mu.Unlock()
	return p, nil
}

// Last returns the most recently presented player, or nil.
func (cp *ClockPresenter) Last() *ClockPlayer {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.last
}
