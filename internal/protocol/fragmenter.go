package protocol

import (
	"fmt"
	"math"

	"github.com/lancast/lancast/internal/media"
)

// ErrTooManyFragments is returned when a frame would need more fragments
// than the 16-bit frag_total field can describe (>77 MB at the current
// fragment budget, far beyond any realistic encoded frame).
var ErrTooManyFragments = fmt.Errorf("protocol: frame exceeds %d fragments", math.MaxUint16)

// Fragment splits one encoded frame into wire packets of at most
// MaxFragmentData payload bytes each. Every packet shares the frame's id
// and carries its position and the total count; the sequence counter is
// advanced once per packet and is shared across all frames the sender
// emits, so it gives a global per-sender packet order. A zero-length
// frame produces no packets, which is a valid no-op.
func Fragment(frame *media.EncodedFrame, seq *uint32) ([]Packet, error) {
	size := len(frame.Data)
	if size == 0 {
		return nil, nil
	}

	total := (size + MaxFragmentData - 1) / MaxFragmentData
	if total > math.MaxUint16 {
		return nil, ErrTooManyFragments
	}

	var ptype PacketType
	var flags uint8
	switch frame.Type {
	case media.Audio:
		ptype = TypeAudioData
	case media.VideoKeyframe:
		ptype = TypeVideoData
		flags |= FlagKeyframe
	default:
		ptype = TypeVideoData
	}

	packets := make([]Packet, 0, total)
	for i := 0; i < total; i++ {
		h := Header{
			Magic:       Magic,
			Version:     Version,
			Type:        ptype,
			Flags:       flags,
			Sequence:    *seq,
			TimestampUS: uint32(frame.PTS),
			FrameID:     frame.FrameID,
			FragIdx:     uint16(i),
			FragTotal:   uint16(total),
		}
		if i == 0 {
			h.Flags |= FlagFirst
		}
		if i == total-1 {
			h.Flags |= FlagLast
		}
		*seq++

		off := i * MaxFragmentData
		end := off + MaxFragmentData
		if end > size {
			end = size
		}
		packets = append(packets, Packet{Header: h, Payload: frame.Data[off:end]})
	}

	return packets, nil
}
