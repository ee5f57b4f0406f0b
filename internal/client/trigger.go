package client

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultPlaybackThreshold = 1024 * 1024

// PlaybackTrigger starts presentation once enough of a buffer file has
// arrived. Write events on the file wake it; a ticker covers filesystems
// without notification support.
type PlaybackTrigger struct {
	Threshold    int64
	PollInterval time.Duration
	Presenter    ports.Presenter
	Logger       *zap.SugaredLogger
}

// Run blocks until buf holds Threshold bytes or its download completes,
// then presents it exactly once.
func (t *PlaybackTrigger) Run(ctx context.Context, buf *BufferFile, video domain.Video) (ports.Player, error) {
	if err := t.wait(ctx, buf); err != nil {
		return nil, err
	}

	video.Path = buf.Path()
	player, err := t.Presenter.Present(ctx, buf.Path(), video)
	if err != nil {
		return nil, fmt.Errorf("present %s: %w", video.ID, err)
	}
	t.Logger.Infow("playback started", "video_id", video.ID, "path", buf.Path(), "buffered", buf.Written())
	return player, nil
}

func (t *PlaybackTrigger) ready(buf *BufferFile) bool {
	return buf.IsComplete() || buf.Written() >= t.threshold()
}

func (t *PlaybackTrigger) threshold() int64 {
	if t.Threshold > 0 {
		return t.Threshold
	}
	return DefaultPlaybackThreshold
}

func (t *PlaybackTrigger) wait(ctx context.Context, buf *BufferFile) error {
	if t.ready(buf) {
		return nil
	}

	interval := t.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Logger.Warnw("file watch unavailable, polling buffer file", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(buf.Path())); err != nil {
			t.Logger.Warnw("file watch unavailable, polling buffer file", "path", buf.Path(), "error", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}
	target := filepath.Base(buf.Path())

	// A write may have landed before the watch was armed.
	if t.ready(buf) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-buf.Done():
			return nil
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != target || !event.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.Logger.Debugw("file watch error", "error", err)
			continue
		}
		if t.ready(buf) {
			return nil
		}
	}
}
