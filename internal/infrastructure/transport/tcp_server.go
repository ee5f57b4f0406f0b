// Package transport accepts viewer TCP connections and hands each one to the
// delivery engine on its own goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"vidstream/internal/core/ports"

	"go.uber.org/zap"
)

// ConnectionGate decides whether a freshly accepted connection is served.
type ConnectionGate interface {
	Allow(addr net.Addr) bool
}

type Options struct {
	// MaxConnections caps concurrently served connections; 0 means no cap.
	MaxConnections int
	Gate           ConnectionGate
}

// Server is the TCP accept loop.
type Server struct {
	addr    string
	handler ports.ConnectionHandler
	opts    Options
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	ready    chan struct{}
}

func NewServer(addr string, handler ports.ConnectionHandler, opts Options, logger *zap.SugaredLogger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		opts:    opts,
		logger:  logger.With("component", "tcp-server"),
		conns:   make(map[net.Conn]struct{}),
		ready:   make(chan struct{}),
	}
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe blocks until ctx is cancelled, then closes the listener and
// every live connection and waits for their handlers to return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	close(s.ready)

	s.logger.Infow("listening", "addr", l.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		l.Close()
		s.closeAll()
	})
	defer stop()

	var sem chan struct{}
	if s.opts.MaxConnections > 0 {
		sem = make(chan struct{}, s.opts.MaxConnections)
	}

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = backoff(tempDelay)
				s.logger.Warnw("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		if s.opts.Gate != nil && !s.opts.Gate.Allow(conn.RemoteAddr()) {
			s.logger.Warnw("connection throttled", "remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		if sem != nil {
			select {
			case sem <- struct{}{}:
			default:
				s.logger.Warnw("connection limit reached", "remote_addr", conn.RemoteAddr().String(), "max", s.opts.MaxConnections)
				conn.Close()
				continue
			}
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			if sem != nil {
				defer func() { <-sem }()
			}
			// Errors are logged by the handler; one bad viewer never stops
			// the server.
			_ = s.handler.HandleConnection(ctx, conn)
		}()
	}
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
