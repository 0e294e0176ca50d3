package session

import "time"

// BitrateCheckInterval is how often the orchestration layer consults the
// controller with a fresh worst-client RTT.
const BitrateCheckInterval = 5 * time.Second

// BitrateController maps the worst round-trip time across viewers to a
// coarse encoder bitrate: a three-tier step function, not congestion
// control. The worst client governs so nobody is streamed past their
// link.
type BitrateController struct {
	target uint32
}

// NewBitrateController creates a controller that restores to target when
// the network is healthy.
func NewBitrateController(target uint32) *BitrateController {
	return &BitrateController{target: target}
}

// Adjust returns the bitrate for the given worst-client RTT: half the
// target above 100ms, three-quarters above 50ms, the full target
// otherwise.
func (b *BitrateController) Adjust(maxRTT time.Duration) uint32 {
	switch {
	case maxRTT > 100*time.Millisecond:
		return b.target / 2
	case maxRTT > 50*time.Millisecond:
		return b.target * 3 / 4
	default:
		return b.target
	}
}

// Target returns the configured full-rate bitrate.
func (b *BitrateController) Target() uint32 {
	return b.target
}
