package client

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestClient_CatalogSentinelAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil)
	h.run()
	srv := h.dialer.accept(t)

	srv.catalog(videoA, videoB)
	assert.Equal(t, []domain.VideoSummary{videoA, videoB}, h.waitCatalog(t))

	assert.Equal(t, domain.SentinelReport, srv.poll(false))
	assert.Equal(t, domain.SentinelReport, srv.poll(true))

	v, ok := h.client.Lookup("B.MP4")
	require.True(t, ok)
	assert.Equal(t, videoB.ID, v.ID)

	closed := h.closeClient()
	cmd := srv.command()
	assert.Equal(t, protocol.CommandExit, cmd.Kind)
	assert.False(t, cmd.StayConnected)
	require.NoError(t, <-closed)

	require.NoError(t, h.waitDone(t))
	assert.ErrorIs(t, h.client.Select("a"), domain.ErrClientClosed)
	h.dialer.stop()
}

func TestClient_StreamAssemblyAndPlayback(t *testing.T) {
	h := newHarness(t, nil)
	h.run()
	srv := h.dialer.accept(t)
	srv.catalog(videoA)
	h.waitCatalog(t)

	require.NoError(t, h.client.Select("a"))
	cmd := srv.command()
	assert.Equal(t, protocol.CommandStream, cmd.Kind)
	assert.Equal(t, domain.VideoID("a"), cmd.VideoID)

	data := payload(100)
	srv.stream("a", data, 30, true)

	require.Eventually(t, h.client.DownloadComplete, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, h.client.StreamActive, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.presenter.calls())

	got, err := os.ReadFile(h.presenter.paths[0])
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, domain.PlaybackReport{Position: 12, Duration: 60}, srv.poll(false))
	assert.Equal(t, 12.0, h.client.CurrentTime())
	assert.Equal(t, 60.0, h.client.TotalTime())

	require.NoError(t, h.client.ReportPlayback())
	cmd = srv.command()
	assert.Equal(t, protocol.CommandPlaybackTime, cmd.Kind)
	assert.Equal(t, domain.PlaybackReport{Position: 12, Duration: 60}, cmd.Report)

	// selecting again discards the finished buffer file
	require.NoError(t, h.client.Select("a"))
	srv.command()
	_, err = os.Stat(h.presenter.paths[0])
	assert.True(t, os.IsNotExist(err))

	closed := h.closeClient()
	require.NoError(t, <-closed)
	require.NoError(t, h.waitDone(t))
}

func TestClient_CommandsRejectedWhileStreaming(t *testing.T) {
	h := newHarness(t, nil)
	h.run()
	srv := h.dialer.accept(t)
	srv.catalog(videoA)
	h.waitCatalog(t)

	require.NoError(t, h.client.CloseVideo())
	cmd := srv.command()
	assert.Equal(t, protocol.CommandExit, cmd.Kind)
	assert.True(t, cmd.StayConnected)

	require.NoError(t, h.client.Select("a"))
	srv.command()
	assert.True(t, h.client.StreamInFlight())

	assert.ErrorIs(t, h.client.Select("a"), domain.ErrStreamInFlight)
	assert.ErrorIs(t, h.client.ReportPlayback(), domain.ErrStreamInFlight)

	require.NoError(t, h.client.Close())
	require.NoError(t, h.waitDone(t))
}

func TestClient_VideoErrorNotifies(t *testing.T) {
	h := newHarness(t, nil)
	h.run()
	srv := h.dialer.accept(t)
	srv.catalog(videoA)
	h.waitCatalog(t)

	require.NoError(t, h.client.Select("missing"))
	srv.command()
	require.NoError(t, srv.enc.WriteVideoError())

	select {
	case kind := <-h.notifier.kinds:
		assert.Equal(t, domain.FailureStream, kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no failure notification")
	}
	require.Eventually(t, func() bool { return !h.client.StreamInFlight() }, 5*time.Second, 5*time.Millisecond)

	closed := h.closeClient()
	srv.command()
	require.NoError(t, <-closed)
	require.NoError(t, h.waitDone(t))
}

func TestClient_ChunksWithoutBufferAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.run()
	srv := h.dialer.accept(t)
	srv.catalog(videoA)
	h.waitCatalog(t)

	// a stray chunk must be consumed so the next message still parses
	require.NoError(t, srv.enc.WriteChunk(payload(10)))
	assert.Equal(t, domain.SentinelReport, srv.poll(false))

	require.NoError(t, h.client.Close())
	require.NoError(t, h.waitDone(t))
}

func TestClient_ReconnectAfterDrop(t *testing.T) {
	h := newHarness(t, nil)
	h.run()

	first := h.dialer.accept(t)
	first.catalog(videoA)
	h.waitCatalog(t)

	require.NoError(t, h.client.Select("a"))
	first.command()
	first.stream("a", payload(100), 40, false)

	var old *BufferFile
	require.Eventually(t, func() bool {
		h.client.mu.Lock()
		defer h.client.mu.Unlock()
		if h.client.stream != nil && h.client.stream.buf.Written() == 100 {
			old = h.client.stream.buf
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, first.conn.Close())

	second := h.dialer.accept(t)
	second.catalog(videoB)
	assert.Equal(t, []domain.VideoSummary{videoB}, h.waitCatalog(t))

	assert.ErrorIs(t, old.Append([]byte("late")), ErrBufferClosed)
	info, err := os.Stat(old.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())
	assert.False(t, h.client.StreamInFlight())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
	assert.Equal(t, 0, h.client.breaker.GetStats().FailureCount)

	require.NoError(t, h.client.Close())
	require.NoError(t, h.waitDone(t))
}

func TestClient_CloseVideoMidStreamReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.run()

	first := h.dialer.accept(t)
	first.catalog(videoA)
	h.waitCatalog(t)
	require.NoError(t, h.client.Select("a"))
	first.command()

	require.NoError(t, h.client.CloseVideo())

	second := h.dialer.accept(t)
	second.catalog(videoA)
	h.waitCatalog(t)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
	assert.Equal(t, 0, h.client.breaker.GetStats().FailureCount)

	require.NoError(t, h.client.Close())
	require.NoError(t, h.waitDone(t))
}

func TestClient_GivesUpAfterRepeatedDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, func(o *Options) { o.Breaker.FailureThreshold = 2 })
	h.run()

	for i := 0; i < 2; i++ {
		srv := h.dialer.accept(t)
		require.NoError(t, srv.conn.Close())
	}

	err := h.waitDone(t)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
	assert.Equal(t, domain.FailureConnect, <-h.notifier.kinds)
	h.dialer.stop()
}

func TestClient_ConnectAttemptsExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.err = errors.New("connection refused")
	h.run()

	err := h.waitDone(t)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, int32(3), h.dialer.dials.Load())
	assert.Equal(t, domain.FailureConnect, <-h.notifier.kinds)
}

func TestClient_RequestSeekClampedToDownloaded(t *testing.T) {
	h := newHarness(t, nil)
	buf, err := CreateBufferFile(t.TempDir(), ".mp4", 100)
	require.NoError(t, err)
	require.NoError(t, buf.Append(payload(50)))

	player := &fakePlayer{dur: 100}
	h.client.stream = &stream{buf: buf, player: player, cancel: func() {}}

	require.NoError(t, h.client.RequestSeek(80))
	require.NoError(t, h.client.RequestSeek(-5))
	require.NoError(t, h.client.RequestSeek(20))
	assert.Equal(t, []float64{50, 0, 20}, player.seeks)

	h.client.stream = nil
	assert.Error(t, h.client.RequestSeek(1))
}

func TestClient_CommandsNeedConnection(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.client.Select("a"), domain.ErrNotConnected)
	assert.ErrorIs(t, h.client.ReportPlayback(), domain.ErrNotConnected)
	assert.NoError(t, h.client.CloseVideo())

	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, h.client.Run(context.Background()), domain.ErrClientClosed)
}
