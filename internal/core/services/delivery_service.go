package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/protocol"
	apperrors "vidstream/pkg/errors"
	"vidstream/pkg/optimize"
	"vidstream/pkg/tracing"
	"vidstream/pkg/utils"

	"go.uber.org/zap"
)

// DeliveryConfig holds the per-connection streaming parameters.
type DeliveryConfig struct {
	ChunkSize        int
	MaxBufferSeconds float64
	PollCadence      int
	WaitInterval     time.Duration
	// ReadTimeout bounds each read from the viewer; zero means no deadline.
	ReadTimeout time.Duration
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		ChunkSize:        256 * 1024,
		MaxBufferSeconds: 30,
		PollCadence:      100,
		WaitInterval:     time.Second,
	}
}

// DeliveryService runs the server side of the protocol, one call to
// HandleConnection per accepted connection.
type DeliveryService struct {
	catalog  ports.Catalog
	cfg      DeliveryConfig
	flow     FlowController
	pool     *optimize.BytePool
	metrics  ports.DeliveryMetrics
	registry ports.SessionRegistry
	logger   *zap.SugaredLogger
}

func NewDeliveryService(
	catalog ports.Catalog,
	cfg DeliveryConfig,
	metrics ports.DeliveryMetrics,
	registry ports.SessionRegistry,
	logger *zap.SugaredLogger,
) *DeliveryService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultDeliveryConfig().ChunkSize
	}
	if metrics == nil {
		metrics = NopDeliveryMetrics{}
	}
	return &DeliveryService{
		catalog:  catalog,
		cfg:      cfg,
		flow:     NewFlowController(cfg.MaxBufferSeconds, cfg.PollCadence),
		pool:     optimize.NewBytePool(cfg.ChunkSize),
		metrics:  metrics,
		registry: registry,
		logger:   logger,
	}
}

// connection is the engine's view of one accepted viewer.
type connection struct {
	id          domain.ConnID
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time
	enc         *protocol.Encoder
	dec         *protocol.Decoder
	state       *SessionState

	mu      sync.RWMutex
	phase   domain.ConnectionState
	videoID domain.VideoID
}

func newConnection(conn net.Conn) *connection {
	return &connection{
		id:          domain.ConnID(utils.GenerateID("conn")),
		conn:        conn,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		enc:         protocol.NewEncoder(conn),
		dec:         protocol.NewDecoder(conn),
		state:       NewSessionState(),
		phase:       domain.StateCatalogSent,
	}
}

func (c *connection) setPhase(phase domain.ConnectionState, id domain.VideoID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	c.videoID = id
}

// Snapshot implements ports.SessionSource.
func (c *connection) Snapshot() domain.SessionSnapshot {
	c.mu.RLock()
	phase, id := c.phase, c.videoID
	c.mu.RUnlock()

	flow := c.state.Snapshot()
	return domain.SessionSnapshot{
		ConnID:              c.id,
		RemoteAddr:          c.remoteAddr,
		State:               phase,
		VideoID:             id,
		ConnectedAt:         c.connectedAt,
		BytesDelivered:      flow.BytesDelivered,
		ReportedPosition:    flow.ReportedPosition,
		ReportedDuration:    flow.ReportedDuration,
		ChunksSinceLastPoll: flow.ChunksSinceLastPoll,
	}
}

// HandleConnection sends the catalog and serves commands until the viewer
// exits, the connection fails, or ctx is cancelled. It always closes conn.
// A nil return means the viewer closed the session cleanly.
func (s *DeliveryService) HandleConnection(ctx context.Context, conn net.Conn) error {
	c := newConnection(conn)
	log := s.logger.With("conn_id", c.id, "remote_addr", c.remoteAddr)

	ctx, span := tracing.TraceConnection(ctx, string(c.id), c.remoteAddr)
	defer span.End()

	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.metrics.ConnectionOpened()
	defer func() { s.metrics.ConnectionClosed(time.Since(c.connectedAt)) }()

	if s.registry != nil {
		s.registry.Register(c.id, c)
		defer s.registry.Unregister(c.id)
	}
	defer c.setPhase(domain.StateClosed, "")

	log.Infow("viewer connected")

	err := s.serve(ctx, c, log)
	switch {
	case err == nil:
		log.Infow("viewer disconnected", "bytes", c.state.BytesDelivered())
	case ctx.Err() != nil:
		log.Infow("connection closed on shutdown")
		err = nil
	default:
		tracing.RecordError(ctx, err)
		log.Warnw("connection dropped", "error", err, "code", apperrors.CodeOf(ClassifyError(err)))
	}
	return err
}

func (s *DeliveryService) serve(ctx context.Context, c *connection, log *zap.SugaredLogger) error {
	videos, err := s.catalog.List(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}
	summaries := make([]domain.VideoSummary, 0, len(videos))
	for _, v := range videos {
		summaries = append(summaries, v.Summary())
	}
	if err := c.enc.WriteCatalog(summaries); err != nil {
		return transportErr("send catalog", err)
	}
	c.setPhase(domain.StateCatalogSent, "")

	for {
		c.setPhase(domain.StateAwaitingCommand, "")
		s.armReadDeadline(c)
		cmd, err := c.dec.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return transportErr("read command", err)
		}

		switch cmd.Kind {
		case protocol.CommandExit:
			if !cmd.StayConnected {
				log.Debugw("viewer exit")
				return nil
			}
			c.state.Reset()
			log.Debugw("viewer closed video, session reset")

		case protocol.CommandPlaybackTime:
			c.state.UpdatePlayback(cmd.Report)

		case protocol.CommandStream:
			if err := s.serveStream(ctx, c, cmd.VideoID, log.With("video_id", cmd.VideoID)); err != nil {
				return err
			}
		}
	}
}

// serveStream delivers one video. It returns an error only when the
// connection can no longer be used.
func (s *DeliveryService) serveStream(ctx context.Context, c *connection, id domain.VideoID, log *zap.SugaredLogger) error {
	c.state.Reset()

	video, ok, err := s.catalog.Get(ctx, id)
	if err != nil {
		log.Errorw("catalog lookup failed", "error", err)
		s.metrics.StreamFinished(id, domain.OutcomeSourceRead, 0, 0)
		return s.sendVideoError(c)
	}
	if !ok {
		log.Infow("requested video not found")
		s.metrics.StreamFinished(id, domain.OutcomeNotFound, 0, 0)
		return s.sendVideoError(c)
	}

	src, err := s.catalog.Open(ctx, video)
	if err != nil {
		log.Errorw("open media source failed", "path", video.Path, "error", err)
		s.metrics.StreamFinished(id, domain.OutcomeSourceRead, 0, 0)
		return s.sendVideoError(c)
	}
	defer src.Close()

	ctx, span := tracing.TraceDelivery(ctx, string(c.id), string(id))
	defer span.End()

	c.setPhase(domain.StateStreaming, id)
	started := time.Now()
	s.metrics.StreamStarted(id)
	log.Infow("stream started", "size", video.Size)

	outcome, streamErr := s.deliver(ctx, c, video, src)
	elapsed := time.Since(started)
	bytes := c.state.BytesDelivered()
	s.metrics.StreamFinished(id, outcome, bytes, elapsed)
	tracing.AddSpanAttributes(ctx, tracing.BytesKey.Int64(bytes), tracing.OutcomeKey.String(string(outcome)))

	switch outcome {
	case domain.OutcomeCompleted:
		log.Infow("stream completed", "bytes", bytes, "elapsed", elapsed)
		if err := c.enc.WriteVideoEnd(); err != nil {
			return transportErr("send video end", err)
		}
		return nil
	case domain.OutcomeSourceRead:
		tracing.RecordError(ctx, streamErr)
		log.Errorw("media source read failed", "bytes", bytes, "error", streamErr)
		return s.sendVideoError(c)
	default:
		tracing.RecordError(ctx, streamErr)
		// Best effort: the peer may already be gone.
		_ = c.enc.WriteVideoError()
		return streamErr
	}
}

// deliver runs the chunk loop with the gate and the poll cadence.
func (s *DeliveryService) deliver(ctx context.Context, c *connection, video domain.Video, src io.Reader) (domain.StreamOutcome, error) {
	if err := c.enc.WriteVideoStart(video.MediaType, video.ID, video.Size); err != nil {
		return domain.OutcomeTransport, transportErr("send video start", err)
	}

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if err := s.sendChunk(ctx, c, video, buf[:n]); err != nil {
				if ctx.Err() != nil {
					return domain.OutcomeCancelled, ctx.Err()
				}
				return domain.OutcomeTransport, err
			}
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return domain.OutcomeCompleted, nil
		default:
			return domain.OutcomeSourceRead, fmt.Errorf("%w: %v", domain.ErrSourceRead, readErr)
		}
	}
}

func (s *DeliveryService) sendChunk(ctx context.Context, c *connection, video domain.Video, chunk []byte) error {
	for s.flow.ShouldWait(c.state.Snapshot(), video.Size) {
		if err := c.enc.WriteWaiting(); err != nil {
			return transportErr("send waiting", err)
		}
		if err := s.readReport(c); err != nil {
			return err
		}
		s.metrics.GateWait(video.ID)
		if err := sleepCtx(ctx, s.cfg.WaitInterval); err != nil {
			return err
		}
	}

	if s.flow.ShouldPoll(c.state.Snapshot()) {
		if err := c.enc.WriteGetPlayback(); err != nil {
			return transportErr("send get playback", err)
		}
		if err := s.readReport(c); err != nil {
			return err
		}
		c.state.ResetPollCadence()
		s.metrics.PlaybackPoll(video.ID)
	}

	start := time.Now()
	if err := c.enc.WriteChunk(chunk); err != nil {
		return transportErr("send chunk", err)
	}
	s.metrics.ChunkSent(video.ID, len(chunk), time.Since(start))
	c.state.AddBytesDelivered(int64(len(chunk)))
	c.state.IncrementChunksSinceLastPoll()
	return nil
}

func (s *DeliveryService) readReport(c *connection) error {
	s.armReadDeadline(c)
	report, err := c.dec.ReadPlaybackReport()
	if err != nil {
		return transportErr("read playback report", err)
	}
	c.state.UpdatePlayback(report)
	return nil
}

func (s *DeliveryService) sendVideoError(c *connection) error {
	if err := c.enc.WriteVideoError(); err != nil {
		return transportErr("send video error", err)
	}
	return nil
}

func (s *DeliveryService) armReadDeadline(c *connection) {
	if s.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

func transportErr(op string, err error) error {
	if errors.Is(err, protocol.ErrProtocolDesync) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyError maps a delivery error onto the application error taxonomy.
func ClassifyError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrVideoNotFound):
		return apperrors.NewNotFoundError("video").WithContext("cause", err.Error())
	case errors.Is(err, protocol.ErrProtocolDesync):
		return apperrors.NewProtocolDesyncError(err)
	case errors.Is(err, domain.ErrSourceRead):
		return apperrors.NewSourceReadError(err)
	case errors.Is(err, domain.ErrTransport):
		return apperrors.NewTransportError(err)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "delivery failed", 500)
	}
}
