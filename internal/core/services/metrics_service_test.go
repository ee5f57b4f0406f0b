package services

import (
	"testing"
	"time"

	"vidstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestMetricsService_DeliveryStats(t *testing.T) {
	m := NewMetricsService()

	m.ConnectionOpened()
	m.StreamStarted("v1")
	m.ChunkSent("v1", 1000, time.Millisecond)
	m.ChunkSent("v1", 500, time.Millisecond)
	m.GateWait("v1")
	m.PlaybackPoll("v1")
	m.StreamFinished("v1", domain.OutcomeCompleted, 1500, time.Second)
	m.StreamFinished("v2", domain.OutcomeTransport, 0, time.Second)
	m.StreamFinished("missing", domain.OutcomeNotFound, 0, 0)

	v1 := m.GetDeliveryStats("v1")
	assert.Equal(t, 1, v1.StreamsStarted)
	assert.Equal(t, 1, v1.StreamsFinished)
	assert.Equal(t, int64(1500), v1.BytesDelivered)
	assert.Equal(t, 1, v1.GateWaits)
	assert.Equal(t, 1, v1.PlaybackPolls)
	assert.Equal(t, time.Second, v1.LastStreamTime)

	assert.Equal(t, 1, m.GetDeliveryStats("v2").StreamsFailed)
	assert.Equal(t, 1, m.GetDeliveryStats("missing").NotFound)

	all := m.AllDeliveryStats()
	assert.Len(t, all, 3)
	assert.Equal(t, domain.VideoID("missing"), all[0].VideoID)

	assert.Equal(t, int64(1), m.ActiveConnections())
	m.ConnectionClosed(time.Second)
	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(1), m.TotalConnections())
}

func TestMultiMetrics_FansOut(t *testing.T) {
	a, b := NewMetricsService(), NewMetricsService()
	mm := MultiMetrics{a, b, NopDeliveryMetrics{}}

	mm.StreamStarted("v")
	mm.ChunkSent("v", 10, 0)

	assert.Equal(t, int64(10), a.GetDeliveryStats("v").BytesDelivered)
	assert.Equal(t, int64(10), b.GetDeliveryStats("v").BytesDelivered)
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
	assert.Equal(t, "TRANSPORT_FAILURE", string(ClassifyError(transportErr("write", assert.AnError)).Code))
	assert.Equal(t, "SOURCE_READ_FAILURE", string(ClassifyError(domain.ErrSourceRead).Code))
	assert.Equal(t, "NOT_FOUND", string(ClassifyError(domain.ErrVideoNotFound).Code))
	assert.Equal(t, "INTERNAL_ERROR", string(ClassifyError(assert.AnError).Code))
}
