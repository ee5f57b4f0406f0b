package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"vidstream/internal/core/domain"

	"github.com/quic-go/quic-go/quicvarint"
)

// Encoder writes protocol messages. Each Write* call emits one complete
// message and flushes it; calls are serialized so a message is never
// interleaved with another writer's.
type Encoder struct {
	mu      sync.Mutex
	w       *bufio.Writer
	scratch []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:       bufio.NewWriterSize(w, 32*1024),
		scratch: make([]byte, 0, 64),
	}
}

// WriteCatalog sends the catalog snapshot that opens every connection.
func (e *Encoder) WriteCatalog(videos []domain.VideoSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(videos) > MaxCatalogEntries {
		return fmt.Errorf("catalog too large: %d entries", len(videos))
	}
	if err := e.writeTag(TagCatalog); err != nil {
		return err
	}
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], Version)
	if _, err := e.w.Write(v[:]); err != nil {
		return err
	}
	if err := e.writeVarint(uint64(len(videos))); err != nil {
		return err
	}
	for _, video := range videos {
		if err := e.writeString(string(video.ID)); err != nil {
			return err
		}
		if err := e.writeString(video.Title); err != nil {
			return err
		}
		if err := e.writeInt64(video.Size); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

func (e *Encoder) WriteStreamRequest(id domain.VideoID) error {
	return e.message(StreamTag(id), nil)
}

func (e *Encoder) WritePlaybackTime(report domain.PlaybackReport) error {
	return e.message(PlaybackTimeTag(report.Position), func() error {
		return e.writeFloat64(report.Duration)
	})
}

func (e *Encoder) WriteExit(stayConnected bool) error {
	return e.message(TagExit, func() error {
		return e.writeBool(stayConnected)
	})
}

func (e *Encoder) WriteVideoStart(mediaType string, id domain.VideoID, totalSize int64) error {
	return e.message(TagVideoStart, func() error {
		if err := e.writeString(mediaType); err != nil {
			return err
		}
		if err := e.writeString(string(id)); err != nil {
			return err
		}
		return e.writeInt64(totalSize)
	})
}

// WriteChunk sends VIDEO_CHUNK with data as payload.
func (e *Encoder) WriteChunk(data []byte) error {
	if len(data) > math.MaxInt32 {
		return fmt.Errorf("chunk too large: %d bytes", len(data))
	}
	return e.message(TagVideoChunk, func() error {
		if err := e.writeInt32(int32(len(data))); err != nil {
			return err
		}
		_, err := e.w.Write(data)
		return err
	})
}

func (e *Encoder) WriteWaiting() error     { return e.message(TagWaiting, nil) }
func (e *Encoder) WriteGetPlayback() error { return e.message(TagGetPlayback, nil) }
func (e *Encoder) WriteVideoEnd() error    { return e.message(TagVideoEnd, nil) }
func (e *Encoder) WriteVideoError() error  { return e.message(TagVideoError, nil) }

// WritePlaybackReport answers WAITING / GET_PLAYBACK. It has no tag.
func (e *Encoder) WritePlaybackReport(report domain.PlaybackReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writeFloat64(report.Position); err != nil {
		return err
	}
	if err := e.writeFloat64(report.Duration); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) message(tag string, fields func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writeTag(tag); err != nil {
		return err
	}
	if fields != nil {
		if err := fields(); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

func (e *Encoder) writeTag(tag string) error {
	if len(tag) == 0 || len(tag) > MaxTagLength {
		return fmt.Errorf("invalid tag length %d", len(tag))
	}
	return e.writeBytes(tag)
}

func (e *Encoder) writeString(s string) error {
	if len(s) > MaxStringLength {
		return fmt.Errorf("string field too long: %d bytes", len(s))
	}
	return e.writeBytes(s)
}

func (e *Encoder) writeBytes(s string) error {
	if err := e.writeVarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := e.w.WriteString(s)
	return err
}

func (e *Encoder) writeVarint(v uint64) error {
	e.scratch = quicvarint.Append(e.scratch[:0], v)
	_, err := e.w.Write(e.scratch)
	return err
}

func (e *Encoder) writeInt64(v int64) error {
	e.scratch = binary.BigEndian.AppendUint64(e.scratch[:0], uint64(v))
	_, err := e.w.Write(e.scratch)
	return err
}

func (e *Encoder) writeInt32(v int32) error {
	e.scratch = binary.BigEndian.AppendUint32(e.scratch[:0], uint32(v))
	_, err := e.w.Write(e.scratch)
	return err
}

func (e *Encoder) writeFloat64(v float64) error {
	e.scratch = binary.BigEndian.AppendUint64(e.scratch[:0], math.Float64bits(v))
	_, err := e.w.Write(e.scratch)
	return err
}

func (e *Encoder) writeBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return e.w.WriteByte(b)
}

// Flush pushes any buffered bytes. Write* methods already flush; this is for
// callers that wrap the underlying writer.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Flush()
}
