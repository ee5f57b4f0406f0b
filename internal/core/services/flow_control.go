package services

import "math"

// FlowController decides when delivery must pause for the viewer to catch up.
type FlowController struct {
	MaxBufferSeconds float64
	PollCadence      int
}

func NewFlowController(maxBufferSeconds float64, pollCadence int) FlowController {
	if pollCadence <= 0 {
		pollCadence = 100
	}
	return FlowController{MaxBufferSeconds: maxBufferSeconds, PollCadence: pollCadence}
}

// LeadBytes is the number of bytes the viewer may hold ahead of its playback
// position. It returns +Inf while the duration is unknown.
func (f FlowController) LeadBytes(snap FlowSnapshot, totalSize int64) float64 {
	if snap.ReportedDuration <= 0 {
		return math.Inf(1)
	}
	bytesPerSecond := float64(totalSize) / snap.ReportedDuration
	return (snap.ReportedPosition + f.MaxBufferSeconds) * bytesPerSecond
}

// ShouldWait reports whether the next chunk must be held back.
// Unknown duration (<= 0) never waits.
func (f FlowController) ShouldWait(snap FlowSnapshot, totalSize int64) bool {
	if snap.ReportedDuration <= 0 {
		return false
	}
	return float64(snap.BytesDelivered) > f.LeadBytes(snap, totalSize)
}

// ShouldPoll reports whether a GET_PLAYBACK is due before the next chunk.
func (f FlowController) ShouldPoll(snap FlowSnapshot) bool {
	return snap.ChunksSinceLastPoll >= f.PollCadence
}
