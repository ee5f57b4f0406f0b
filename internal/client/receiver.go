package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/protocol"
)

// session is one connection to the server. Only the receive loop reads from
// it; commands and poll replies share the encoder.
type session struct {
	conn    net.Conn
	enc     *protocol.Encoder
	dec     *protocol.Decoder
	started time.Time

	// progressed is touched only by the receive loop.
	progressed bool
	// reconnect marks a deliberate close; guarded by Client.mu.
	reconnect bool
}

func (s *session) healthy(stableAfter time.Duration) bool {
	return s.progressed || (stableAfter > 0 && time.Since(s.started) >= stableAfter)
}

func (c *Client) attach(conn net.Conn) *session {
	sess := &session{
		conn:    conn,
		enc:     protocol.NewEncoder(conn),
		dec:     protocol.NewDecoder(conn),
		started: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.sess = sess
	c.inFlight = false
	return sess
}

// detach drops sess and abandons any stream it was carrying. It reports
// whether the session was closed on purpose.
func (c *Client) detach(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == sess {
		c.sess = nil
	}
	c.inFlight = false
	if st := c.stream; st != nil && !st.buf.IsComplete() {
		st.cancel()
		if err := st.buf.Close(); err != nil {
			c.log.Warnw("failed to close buffer file", "path", st.buf.Path(), "error", err)
		}
		c.log.Infow("stream abandoned", "video_id", st.video.ID, "received", st.buf.Written(), "size", st.buf.Total())
	}
	return sess.reconnect
}

// receive mirrors the server's message stream until the connection fails.
func (c *Client) receive(ctx context.Context, sess *session) error {
	stop := context.AfterFunc(ctx, func() { sess.conn.Close() })
	defer stop()

	var chunk []byte
	for {
		tag, err := sess.dec.ReadTag()
		if err != nil {
			return err
		}

		switch tag {
		case protocol.TagCatalog:
			videos, err := sess.dec.ReadCatalogBody()
			if err != nil {
				return err
			}
			c.setCatalog(videos)

		case protocol.TagVideoStart:
			start, err := sess.dec.ReadVideoStart()
			if err != nil {
				return err
			}
			c.beginStream(ctx, start)

		case protocol.TagVideoChunk:
			chunk, err = sess.dec.ReadChunk(chunk)
			if err != nil {
				return err
			}
			sess.progressed = true
			c.appendChunk(chunk)

		case protocol.TagGetPlayback, protocol.TagWaiting:
			c.mu.Lock()
			report := c.reportLocked()
			c.mu.Unlock()
			if err := sess.enc.WritePlaybackReport(report); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}

		case protocol.TagVideoEnd:
			sess.progressed = true
			c.finishStream()

		case protocol.TagVideoError:
			c.failStream()

		default:
			return fmt.Errorf("%w: unexpected tag %q", protocol.ErrProtocolDesync, tag)
		}
	}
}

func (c *Client) setCatalog(videos []domain.VideoSummary) {
	c.mu.Lock()
	c.catalog = videos
	onCatalog := c.opts.OnCatalog
	c.mu.Unlock()

	c.log.Infow("catalog received", "videos", len(videos))
	if onCatalog != nil {
		onCatalog(append([]domain.VideoSummary(nil), videos...))
	}
}

// beginStream replaces any previous buffer file with a fresh one and arms
// the playback trigger for it.
func (c *Client) beginStream(ctx context.Context, start protocol.VideoStart) {
	c.mu.Lock()
	c.discardStreamLocked()

	video := domain.Video{ID: start.VideoID, Size: start.TotalSize, MediaType: start.MediaType}
	for _, v := range c.catalog {
		if v.ID == start.VideoID {
			video.Title = v.Title
			break
		}
	}

	buf, err := CreateBufferFile(c.opts.BufferDir, start.MediaType, start.TotalSize)
	if err != nil {
		c.mu.Unlock()
		c.log.Errorw("cannot create buffer file", "video_id", start.VideoID, "error", err)
		c.opts.Notifier.Notify(domain.FailureStream, streamFailure(video.Title))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{video: video, buf: buf, cancel: cancel}
	c.stream = st
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Infow("stream started", "video_id", video.ID, "size", video.Size, "path", buf.Path())
	go c.awaitPlayback(streamCtx, st)
}

func (c *Client) awaitPlayback(ctx context.Context, st *stream) {
	defer c.wg.Done()

	player, err := c.trigger.Run(ctx, st.buf, st.video)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Errorw("playback failed", "video_id", st.video.ID, "error", err)
			c.opts.Notifier.Notify(domain.FailureStream, streamFailure(st.video.Title))
		}
		return
	}

	c.mu.Lock()
	current := c.stream == st && ctx.Err() == nil
	if current {
		st.player = player
	}
	c.mu.Unlock()

	if !current {
		player.Stop()
	}
}

// appendChunk writes a chunk to the current buffer file. Chunks with no
// open buffer file were still read off the wire and are dropped here.
func (c *Client) appendChunk(p []byte) {
	c.mu.Lock()
	st := c.stream
	c.mu.Unlock()
	if st == nil {
		return
	}

	if err := st.buf.Append(p); err != nil && !errors.Is(err, ErrBufferClosed) {
		c.log.Errorw("buffer write failed", "video_id", st.video.ID, "error", err)
	}
}

func (c *Client) finishStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
	st := c.stream
	if st == nil {
		return
	}
	if err := st.buf.Complete(); err != nil {
		c.log.Warnw("failed to close buffer file", "path", st.buf.Path(), "error", err)
	}
	c.log.Infow("download complete", "video_id", st.video.ID, "bytes", st.buf.Written())
}

func (c *Client) failStream() {
	c.mu.Lock()
	c.inFlight = false
	title := ""
	if c.stream != nil {
		title = c.stream.video.Title
	}
	c.discardStreamLocked()
	c.mu.Unlock()

	c.opts.Notifier.Notify(domain.FailureStream, streamFailure(title))
}

func streamFailure(title string) string {
	if title == "" {
		return "could not stream/play"
	}
	return "could not stream/play " + title
}
