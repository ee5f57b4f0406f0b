package domain

import "time"

// StreamOutcome classifies how one stream request ended.
type StreamOutcome string

const (
	OutcomeCompleted  StreamOutcome = "completed"
	OutcomeNotFound   StreamOutcome = "not_found"
	OutcomeSourceRead StreamOutcome = "source_read_failure"
	OutcomeTransport  StreamOutcome = "transport_failure"
	OutcomeCancelled  StreamOutcome = "cancelled"
)

// DeliveryStats aggregates delivery activity for one video.
type DeliveryStats struct {
	VideoID         VideoID       `json:"video_id"`
	StreamsStarted  int           `json:"streams_started"`
	StreamsFinished int           `json:"streams_finished"`
	StreamsFailed   int           `json:"streams_failed"`
	NotFound        int           `json:"not_found"`
	BytesDelivered  int64         `json:"bytes_delivered"`
	GateWaits       int           `json:"gate_waits"`
	PlaybackPolls   int           `json:"playback_polls"`
	LastStreamTime  time.Duration `json:"last_stream_time"`
	Timestamp       time.Time     `json:"timestamp"`
}
