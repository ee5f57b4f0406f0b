package client

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrBufferClosed = errors.New("buffer file closed for writing")

// BufferFile is the local append-only mirror of one remote video. Appends go
// straight to the file so a player can read what has arrived so far.
type BufferFile struct {
	path  string
	total int64

	mu       sync.Mutex
	f        *os.File
	written  int64
	complete bool
	done     chan struct{}
}

// CreateBufferFile creates an empty buffer file in dir for a video of total
// bytes, keeping the media extension so players can sniff the format.
func CreateBufferFile(dir, mediaType string, total int64) (*BufferFile, error) {
	ext := strings.ToLower(mediaType)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) {
		ext = ""
	}

	f, err := os.CreateTemp(dir, "vidstream-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create buffer file: %w", err)
	}
	return &BufferFile{
		path:  f.Name(),
		total: total,
		f:     f,
		done:  make(chan struct{}),
	}, nil
}

func (b *BufferFile) Path() string { return b.path }

func (b *BufferFile) Total() int64 { return b.total }

// Append writes one chunk at the end of the file.
func (b *BufferFile) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return ErrBufferClosed
	}
	n, err := b.f.Write(p)
	b.written += int64(n)
	if err != nil {
		return fmt.Errorf("append to buffer file: %w", err)
	}
	return nil
}

func (b *BufferFile) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Fraction is the downloaded share of the video in [0, 1].
func (b *BufferFile) Fraction() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.complete:
		return 1
	case b.total <= 0:
		return 0
	}
	f := float64(b.written) / float64(b.total)
	if f > 1 {
		return 1
	}
	return f
}

// Complete closes the file for writing and marks the download finished.
func (b *BufferFile) Complete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.complete {
		return nil
	}
	b.complete = true
	close(b.done)
	return b.closeLocked()
}

func (b *BufferFile) IsComplete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete
}

// Done is closed once the download completes.
func (b *BufferFile) Done() <-chan struct{} { return b.done }

// Close stops further writes. The file stays on disk and readable.
func (b *BufferFile) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

// Remove closes the file and deletes it.
func (b *BufferFile) Remove() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	closeErr := b.closeLocked()
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

func (b *BufferFile) closeLocked() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
