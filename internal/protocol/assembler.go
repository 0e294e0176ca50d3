package protocol

import (
	"time"

	"github.com/lancast/lancast/internal/media"
)

// frameKey identifies one in-flight frame. The numeric frame id space is
// shared between video and audio, so the packet type is part of the key
// to keep the two from colliding.
type frameKey struct {
	frameID uint16
	ptype   PacketType
}

// partialFrame holds the reassembly state for one frame. Owned
// exclusively by the Assembler; created on the first fragment seen for a
// key and destroyed on completion or purge.
type partialFrame struct {
	fragTotal   uint16
	received    uint16
	flags       uint8 // union of all fragment flags seen
	timestampUS uint32
	fragments   [][]byte // indexed by frag_idx, nil = not yet received
	created     time.Time
	nackSent    bool
}

// IncompleteKeyframe reports a keyframe that is still missing fragments
// after the NACK age threshold, so the session layer can request a
// retransmit.
type IncompleteKeyframe struct {
	FrameID   uint16
	FragTotal uint16
	Missing   []uint16
}

// Assembler reconstructs encoded frames from fragments arriving in any
// order. It has no internal locking: in normal use all three methods are
// invoked from the single receive loop of one connection endpoint, and a
// caller that breaks that invariant must guard the whole Assembler with
// its own mutex.
type Assembler struct {
	pending map[frameKey]*partialFrame
	now     func() time.Time // swapped in tests
}

func NewAssembler() *Assembler {
	return &Assembler{
		pending: make(map[frameKey]*partialFrame),
		now:     time.Now,
	}
}

// Feed accepts one received packet. It returns the reassembled frame
// when the packet completes one, and nil otherwise. Malformed packets
// (invalid header, zero frag_total, out-of-range frag_idx, frag_total
// disagreeing with the first fragment seen for the frame) and duplicate
// fragments are dropped without mutating state.
func (a *Assembler) Feed(p Packet) *media.EncodedFrame {
	h := p.Header
	if !h.Valid() || h.FragTotal == 0 {
		return nil
	}

	key := frameKey{frameID: h.FrameID, ptype: h.Type}
	state, ok := a.pending[key]
	if !ok {
		state = &partialFrame{
			fragTotal:   h.FragTotal,
			timestampUS: h.TimestampUS,
			fragments:   make([][]byte, h.FragTotal),
			created:     a.now(),
		}
		a.pending[key] = state
	}

	// A sender must report the same frag_total on every fragment of a
	// frame; a mismatch means a malformed or confused sender.
	if h.FragTotal != state.fragTotal {
		return nil
	}
	if h.FragIdx >= state.fragTotal {
		return nil
	}
	if state.fragments[h.FragIdx] != nil {
		return nil // duplicate
	}

	payload := p.Payload
	if payload == nil {
		payload = []byte{} // non-nil so the duplicate check still fires
	}
	state.fragments[h.FragIdx] = payload
	state.received++
	state.flags |= h.Flags

	if state.received < state.fragTotal {
		return nil
	}

	// All fragments present: concatenate in index order and hand off.
	size := 0
	for _, frag := range state.fragments {
		size += len(frag)
	}
	data := make([]byte, 0, size)
	for _, frag := range state.fragments {
		data = append(data, frag...)
	}

	frame := &media.EncodedFrame{
		Data:    data,
		PTS:     int64(state.timestampUS),
		FrameID: h.FrameID,
	}
	switch {
	case key.ptype == TypeAudioData:
		frame.Type = media.Audio
	case state.flags&FlagKeyframe != 0:
		frame.Type = media.VideoKeyframe
	default:
		frame.Type = media.VideoDelta
	}

	delete(a.pending, key)
	return frame
}

// CheckIncompleteKeyframes reports every partial keyframe at least
// minAge old that has not been reported before. Each frame is reported
// at most once (the one-shot marker), so a poll interval shorter than
// the round-trip time cannot trigger a NACK storm.
func (a *Assembler) CheckIncompleteKeyframes(minAge time.Duration) []IncompleteKeyframe {
	var reports []IncompleteKeyframe
	now := a.now()

	for key, state := range a.pending {
		if state.flags&FlagKeyframe == 0 || state.nackSent {
			continue
		}
		if now.Sub(state.created) < minAge {
			continue
		}

		var missing []uint16
		for i := uint16(0); i < state.fragTotal; i++ {
			if state.fragments[i] == nil {
				missing = append(missing, i)
			}
		}
		if len(missing) == 0 {
			continue
		}
		state.nackSent = true
		reports = append(reports, IncompleteKeyframe{
			FrameID:   key.frameID,
			FragTotal: state.fragTotal,
			Missing:   missing,
		})
	}

	return reports
}

// PurgeStale removes every partial frame older than timeout, of any
// media type, without hand-off, and returns how many were dropped. This
// bounds memory under sustained loss and keeps frames from completing
// after their presentation time has passed; fragments arriving after a
// purge start a fresh entry.
func (a *Assembler) PurgeStale(timeout time.Duration) int {
	now := a.now()
	purged := 0
	for key, state := range a.pending {
		if now.Sub(state.created) > timeout {
			delete(a.pending, key)
			purged++
		}
	}
	return purged
}

// Pending returns the number of frames currently being reassembled.
func (a *Assembler) Pending() int {
	return len(a.pending)
}
