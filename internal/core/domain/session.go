package domain

import "time"

// ConnID identifies one accepted connection for logs and the admin API.
type ConnID string

// ConnectionState is the delivery engine's lifecycle position.
type ConnectionState string

const (
	StateCatalogSent     ConnectionState = "catalog_sent"
	StateAwaitingCommand ConnectionState = "awaiting_command"
	StateStreaming       ConnectionState = "streaming"
	StateClosed          ConnectionState = "closed"
)

// SessionSnapshot is a point-in-time copy of one connection's streaming state.
type SessionSnapshot struct {
	ConnID              ConnID          `json:"conn_id"`
	RemoteAddr          string          `json:"remote_addr"`
	State               ConnectionState `json:"state"`
	VideoID             VideoID         `json:"video_id,omitempty"`
	ConnectedAt         time.Time       `json:"connected_at"`
	BytesDelivered      int64           `json:"bytes_delivered"`
	ReportedPosition    float64         `json:"reported_position"`
	ReportedDuration    float64         `json:"reported_duration"`
	ChunksSinceLastPoll int             `json:"chunks_since_last_poll"`
}
