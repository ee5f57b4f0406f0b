// Package client implements the viewer side of the streaming protocol: it
// keeps one connection to the delivery server, assembles received chunks
// into a local buffer file and answers the server's playback polls.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/pkg/circuitbreaker"
	"vidstream/pkg/config"
	"vidstream/pkg/retry"

	"go.uber.org/zap"
)

// ErrGaveUp ends Run after consecutive sessions kept dropping.
var ErrGaveUp = errors.New("gave up reconnecting")

// Dialer opens the transport to the server. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Options struct {
	Address             string
	BufferDir           string
	PlaybackThreshold   int64
	TriggerPollInterval time.Duration
	// StableAfter is how long a session must last to count as healthy when
	// it received no video data before dropping.
	StableAfter time.Duration
	Retry       retry.Config
	Breaker     circuitbreaker.Config

	Dialer    Dialer
	Presenter ports.Presenter
	Notifier  ports.Notifier
	OnCatalog func([]domain.VideoSummary)
}

// OptionsFromConfig maps the client config section onto Options. Presenter
// defaults to a ClockPresenter driven by the nominal bitrate.
func OptionsFromConfig(cfg *config.Config) Options {
	cc := cfg.Client
	return Options{
		Address:             cc.ServerAddress,
		BufferDir:           cc.BufferDir,
		PlaybackThreshold:   cc.PlaybackThreshold,
		TriggerPollInterval: cc.TriggerPollInterval,
		StableAfter:         cc.Reconnect.CooldownPeriod,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  cc.Reconnect.MaxAttempts,
			InitialDelay: cc.Reconnect.InitialDelay,
			MaxDelay:     cc.Reconnect.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold:    cc.Reconnect.FailureThreshold,
			SuccessThreshold:    1,
			Timeout:             cc.Reconnect.CooldownPeriod,
			MaxRequestsHalfOpen: 1,
		},
		Dialer:    &net.Dialer{Timeout: cc.DialTimeout, KeepAlive: 30 * time.Second},
		Presenter: &ClockPresenter{BytesPerSecond: cc.NominalBitrate},
	}
}

type Client struct {
	opts    Options
	log     *zap.SugaredLogger
	breaker *circuitbreaker.CircuitBreaker
	trigger *PlaybackTrigger

	// cmdMu serializes user commands so a check of the stream state and the
	// write that depends on it cannot interleave with another command.
	cmdMu sync.Mutex

	mu        sync.Mutex
	sess      *session
	catalog   []domain.VideoSummary
	inFlight  bool
	stream    *stream
	closed    bool
	cancelRun context.CancelFunc

	wg sync.WaitGroup
}

type stream struct {
	video  domain.Video
	buf    *BufferFile
	cancel context.CancelFunc
	player ports.Player
}

func New(opts Options, logger *zap.SugaredLogger) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Presenter == nil {
		opts.Presenter = &ClockPresenter{BytesPerSecond: 250 * 1024}
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}
	if opts.Breaker.FailureThreshold <= 0 {
		opts.Breaker = circuitbreaker.DefaultConfig()
	}

	c := &Client{
		opts:    opts,
		log:     logger,
		breaker: circuitbreaker.New(opts.Breaker),
		trigger: &PlaybackTrigger{
			Threshold:    opts.PlaybackThreshold,
			PollInterval: opts.TriggerPollInterval,
			Presenter:    opts.Presenter,
			Logger:       logger,
		},
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("reconnect breaker state changed", "from", from.String(), "to", to.String())
	})
	return c
}

// Run connects and serves sessions until ctx ends, Close is called, or
// reconnecting is abandoned. Each session starts from a fresh catalog; a
// partially received stream is never resumed.
func (c *Client) Run(ctx context.Context) error {
	defer c.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClientClosed
	}
	c.cancelRun = cancel
	c.mu.Unlock()

	retryCfg := c.opts.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warnw("connect failed, retrying", "address", c.opts.Address, "attempt", attempt, "delay", delay, "error", err)
	}

	for {
		conn, err := retry.RetryWithResult(ctx, retryCfg, func() (net.Conn, error) {
			return c.opts.Dialer.DialContext(ctx, "tcp", c.opts.Address)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.opts.Notifier.Notify(domain.FailureConnect, "could not connect to "+c.opts.Address)
			return fmt.Errorf("connect %s: %w", c.opts.Address, err)
		}

		sess := c.attach(conn)
		if sess == nil {
			conn.Close()
			return nil
		}
		c.log.Infow("connected", "address", c.opts.Address, "remote_addr", conn.RemoteAddr().String())

		err = c.receive(ctx, sess)
		deliberate := c.detach(sess)
		sess.conn.Close()

		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		if deliberate {
			c.log.Infow("reconnecting after stream cancel")
			continue
		}

		c.log.Warnw("connection lost", "error", err, "session_age", time.Since(sess.started))
		if sess.healthy(c.opts.StableAfter) {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}
		if err := c.breaker.Allow(); err != nil {
			c.opts.Notifier.Notify(domain.FailureConnect, "could not connect to "+c.opts.Address)
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
	}
}

// Select discards the previous buffer file and asks the server to stream id.
func (c *Client) Select(id domain.VideoID) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	sess, err := c.commandSessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.discardStreamLocked()
	c.inFlight = true
	c.mu.Unlock()

	if err := sess.enc.WriteStreamRequest(id); err != nil {
		sess.conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	c.log.Infow("stream requested", "video_id", id)
	return nil
}

// ReportPlayback sends the local playback position and duration.
func (c *Client) ReportPlayback() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	sess, err := c.commandSessionLocked()
	report := c.reportLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := sess.enc.WritePlaybackTime(report); err != nil {
		sess.conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// CloseVideo stops playback and deletes the buffer file. With no stream in
// flight the server is told to reset its session; otherwise the connection
// is closed, which is the only way to cancel a stream, and Run reconnects.
func (c *Client) CloseVideo() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.discardStreamLocked()
	sess, inFlight := c.sess, c.inFlight
	if sess != nil && inFlight {
		sess.reconnect = true
	}
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if inFlight {
		return sess.conn.Close()
	}
	if err := sess.enc.WriteExit(true); err != nil {
		sess.conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Close says goodbye to the server when it is safe to, closes the
// connection and stops Run. The buffer file is deleted.
func (c *Client) Close() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.discardStreamLocked()
	sess, inFlight, cancel := c.sess, c.inFlight, c.cancelRun
	c.mu.Unlock()

	if sess != nil {
		if !inFlight {
			_ = sess.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := sess.enc.WriteExit(false); err != nil {
				c.log.Debugw("exit not delivered", "error", err)
			}
		}
		sess.conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Catalog returns the most recent catalog snapshot.
func (c *Client) Catalog() []domain.VideoSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.VideoSummary(nil), c.catalog...)
}

// Lookup finds a catalog entry by id or, failing that, by title.
func (c *Client) Lookup(idOrTitle string) (domain.VideoSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.catalog {
		if string(v.ID) == idOrTitle {
			return v, true
		}
	}
	for _, v := range c.catalog {
		if strings.EqualFold(v.Title, idOrTitle) {
			return v, true
		}
	}
	return domain.VideoSummary{}, false
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// StreamInFlight reports whether a requested stream has not ended yet.
func (c *Client) StreamInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// StreamActive reports whether a player is presenting the current stream.
func (c *Client) StreamActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerLocked() != nil
}

func (c *Client) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.playerLocked(); p != nil {
		return p.CurrentPosition()
	}
	return 0
}

func (c *Client) TotalTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.playerLocked(); p != nil {
		return p.TotalDuration()
	}
	return 0
}

// DownloadComplete reports whether the current stream reached VIDEO_END.
func (c *Client) DownloadComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil && c.stream.buf.IsComplete()
}

// RequestSeek moves playback to t seconds, clamped to the part of the file
// that has been downloaded.
func (c *Client) RequestSeek(t float64) error {
	c.mu.Lock()
	p := c.playerLocked()
	var limit float64
	if p != nil {
		limit = c.stream.buf.Fraction() * p.TotalDuration()
	}
	c.mu.Unlock()

	if p == nil {
		return fmt.Errorf("seek: no active playback")
	}
	if t > limit {
		t = limit
	}
	if t < 0 {
		t = 0
	}
	return p.RequestSeek(t)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) commandSessionLocked() (*session, error) {
	switch {
	case c.closed:
		return nil, domain.ErrClientClosed
	case c.sess == nil:
		return nil, domain.ErrNotConnected
	case c.inFlight:
		return nil, domain.ErrStreamInFlight
	}
	return c.sess, nil
}

func (c *Client) playerLocked() ports.Player {
	if c.stream == nil || c.stream.player == nil || !c.stream.player.IsActive() {
		return nil
	}
	return c.stream.player
}

func (c *Client) reportLocked() domain.PlaybackReport {
	if p := c.playerLocked(); p != nil {
		return domain.PlaybackReport{Position: p.CurrentPosition(), Duration: p.TotalDuration()}
	}
	return domain.SentinelReport
}

// discardStreamLocked stops the current stream's player and trigger and
// deletes its buffer file.
func (c *Client) discardStreamLocked() {
	st := c.stream
	if st == nil {
		return
	}
	c.stream = nil
	st.cancel()
	if st.player != nil {
		st.player.Stop()
	}
	if err := st.buf.Remove(); err != nil {
		c.log.Warnw("failed to remove buffer file", "path", st.buf.Path(), "error", err)
	}
}

// LogNotifier reports user-visible failures to the log.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n LogNotifier) Notify(kind domain.FailureKind, message string) {
	n.Logger.Errorw(message, "failure", string(kind))
}

var _ ports.Notifier = LogNotifier{}
