package monitoring

import (
	"time"

	"vidstream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports delivery engine events. It implements
// ports.DeliveryMetrics.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	bytesDelivered    prometheus.Counter

	connectionDuration prometheus.Histogram
	chunkWriteDuration prometheus.Histogram
	streamDuration     prometheus.Histogram

	streamsActive   prometheus.Gauge
	streamsStarted  prometheus.Counter
	streamsFinished *prometheus.CounterVec
	gateWaits       prometheus.Counter
	playbackPolls   prometheus.Counter
}

// NewPrometheusCollector registers the delivery metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidstream_connections_active",
			Help: "Number of viewer connections currently open",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_connections_total",
			Help: "Total number of viewer connections accepted",
		}),

		bytesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_bytes_delivered_total",
			Help: "Total video payload bytes sent in VIDEO_CHUNK messages",
		}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidstream_connection_duration_seconds",
			Help:    "Lifetime of viewer connections",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),

		chunkWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidstream_chunk_write_duration_seconds",
			Help:    "Time spent writing one VIDEO_CHUNK to the socket",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		streamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidstream_stream_duration_seconds",
			Help:    "Time from VIDEO_START to the end of a stream",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		streamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidstream_streams_active",
			Help: "Number of streams currently being delivered",
		}),

		streamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_streams_started_total",
			Help: "Total number of streams that sent VIDEO_START",
		}),

		streamsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidstream_streams_finished_total",
			Help: "Stream requests by outcome",
		}, []string{"outcome"}),

		gateWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_gate_waits_total",
			Help: "WAITING messages sent because the viewer was too far behind",
		}),

		playbackPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_playback_polls_total",
			Help: "GET_PLAYBACK messages sent on the poll cadence",
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.connectionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) StreamStarted(domain.VideoID) {
	p.streamsActive.Inc()
	p.streamsStarted.Inc()
}

// StreamFinished records every stream request outcome. Requests that never
// reached VIDEO_START carry a zero elapsed time and were not counted active.
func (p *PrometheusCollector) StreamFinished(_ domain.VideoID, outcome domain.StreamOutcome, _ int64, elapsed time.Duration) {
	p.streamsFinished.WithLabelValues(string(outcome)).Inc()
	if elapsed > 0 {
		p.streamsActive.Dec()
		p.streamDuration.Observe(elapsed.Seconds())
	}
}

func (p *PrometheusCollector) ChunkSent(_ domain.VideoID, bytes int, latency time.Duration) {
	p.bytesDelivered.Add(float64(bytes))
	p.chunkWriteDuration.Observe(latency.Seconds())
}

func (p *PrometheusCollector) GateWait(domain.VideoID) {
	p.gateWaits.Inc()
}

func (p *PrometheusCollector) PlaybackPoll(domain.VideoID) {
	p.playbackPolls.Inc()
}
