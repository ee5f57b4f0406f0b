package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/protocol"
	"vidstream/pkg/circuitbreaker"
	"vidstream/pkg/retry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// loopDialer dials a loopback listener and hands every accepted server
// connection to the test.
type loopDialer struct {
	dials   atomic.Int32
	ln      net.Listener
	servers chan net.Conn
	done    chan struct{}
	err     error
}

func newLoopDialer(t *testing.T) *loopDialer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &loopDialer{ln: ln, servers: make(chan net.Conn, 4), done: make(chan struct{})}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			select {
			case d.servers <- conn:
			case <-d.done:
				conn.Close()
				return
			}
		}
	}()
	t.Cleanup(d.stop)
	return d
}

func (d *loopDialer) stop() {
	select {
	case <-d.done:
	default:
		close(d.done)
		d.ln.Close()
	}
}

func (d *loopDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.ln.Addr().String())
}

func (d *loopDialer) accept(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case conn := <-d.servers:
		t.Cleanup(func() { conn.Close() })
		return &fakeServer{t: t, conn: conn, enc: protocol.NewEncoder(conn), dec: protocol.NewDecoder(conn)}
	case <-time.After(5 * time.Second):
		t.Fatal("client did not dial")
		return nil
	}
}

// fakeServer plays the delivery server's side of one connection.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

func (s *fakeServer) catalog(videos ...domain.VideoSummary) {
	require.NoError(s.t, s.enc.WriteCatalog(videos))
}

func (s *fakeServer) command() protocol.Command {
	s.t.Helper()
	cmd, err := s.dec.ReadCommand()
	require.NoError(s.t, err)
	return cmd
}

func (s *fakeServer) poll(waiting bool) domain.PlaybackReport {
	s.t.Helper()
	if waiting {
		require.NoError(s.t, s.enc.WriteWaiting())
	} else {
		require.NoError(s.t, s.enc.WriteGetPlayback())
	}
	report, err := s.dec.ReadPlaybackReport()
	require.NoError(s.t, err)
	return report
}

func (s *fakeServer) stream(id domain.VideoID, data []byte, chunk int, end bool) {
	s.t.Helper()
	require.NoError(s.t, s.enc.WriteVideoStart(".mp4", id, int64(len(data))))
	for off := 0; off < len(data); off += chunk {
		require.NoError(s.t, s.enc.WriteChunk(data[off:min(off+chunk, len(data))]))
	}
	if end {
		require.NoError(s.t, s.enc.WriteVideoEnd())
	}
}

type fakePlayer struct {
	mu       sync.Mutex
	pos, dur float64
	stopped  bool
	seeks    []float64
}

func (p *fakePlayer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

func (p *fakePlayer) CurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayer) TotalDuration() float64 { return p.dur }

func (p *fakePlayer) RequestSeek(t float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, t)
	p.pos = t
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

type recordingPresenter struct {
	mu     sync.Mutex
	paths  []string
	player *fakePlayer
}

func (r *recordingPresenter) Present(_ context.Context, path string, _ domain.Video) (ports.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return r.player, nil
}

func (r *recordingPresenter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

type recordingNotifier struct {
	kinds chan domain.FailureKind
}

func (n *recordingNotifier) Notify(kind domain.FailureKind, _ string) {
	select {
	case n.kinds <- kind:
	default:
	}
}

type harness struct {
	client    *Client
	dialer    *loopDialer
	presenter *recordingPresenter
	notifier  *recordingNotifier
	catalogs  chan []domain.VideoSummary
	done      chan error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:    newLoopDialer(t),
		presenter: &recordingPresenter{player: &fakePlayer{pos: 12, dur: 60}},
		notifier:  &recordingNotifier{kinds: make(chan domain.FailureKind, 8)},
		catalogs:  make(chan []domain.VideoSummary, 8),
		done:      make(chan error, 1),
	}
	opts := Options{
		Address:             "pipe",
		BufferDir:           t.TempDir(),
		PlaybackThreshold:   16,
		TriggerPollInterval: 10 * time.Millisecond,
		StableAfter:         time.Hour,
		Retry:               retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Breaker:             circuitbreaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1},
		Dialer:              h.dialer,
		Presenter:           h.presenter,
		Notifier:            h.notifier,
		OnCatalog:           func(v []domain.VideoSummary) { h.catalogs <- v },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.client = New(opts, zaptest.NewLogger(t).Sugar())
	return h
}

func (h *harness) run() {
	go func() { h.done <- h.client.Run(context.Background()) }()
}

func (h *harness) waitCatalog(t *testing.T) []domain.VideoSummary {
	t.Helper()
	select {
	case v := <-h.catalogs:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("no catalog received")
		return nil
	}
}

func (h *harness) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// closeClient runs Close concurrently with the server reading EXIT.
func (h *harness) closeClient() <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- h.client.Close() }()
	return errc
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

var (
	videoA = domain.VideoSummary{ID: "a", Title: "a.mp4", Size: 100}
	videoB = domain.VideoSummary{ID: "b", Title: "b.mp4", Size: 50}
)
