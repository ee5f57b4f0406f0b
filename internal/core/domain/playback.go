package domain

// PlaybackReport is a client's answer to WAITING / GET_PLAYBACK, and the
// payload of PLAYBACK_TIME. Both values are seconds.
type PlaybackReport struct {
	Position float64
	Duration float64
}

// SentinelReport is sent when no local player is active. It is kept for wire
// compatibility only: a real 200s video at position 0 looks identical, so
// nothing should treat it as a duration.
var SentinelReport = PlaybackReport{Position: 0, Duration: 200}

// IsSentinel reports whether r is exactly the "not playing" sentinel.
func (r PlaybackReport) IsSentinel() bool {
	return r == SentinelReport
}
