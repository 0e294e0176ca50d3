package media

// The capture and codec stages are external collaborators: they wrap OS
// and codec libraries and live behind these interfaces so the transport
// core never depends on which backend is in use. The only implementations
// shipped in this repository are the synthetic sources used for loopback
// runs and tests.

// VideoSource produces raw pictures at the pace its backend dictates.
type VideoSource interface {
	// Capture returns the next picture, or (nil, nil) when no new
	// picture is available yet.
	Capture() (*RawVideoFrame, error)
	Width() uint32
	Height() uint32
	Close() error
}

// AudioSource produces blocks of raw PCM.
type AudioSource interface {
	Capture() (*RawAudioFrame, error)
	Close() error
}

// VideoEncoder turns raw pictures into encoded frames ready for
// fragmentation. ForceKeyframe makes the next output a keyframe so a
// joining viewer gets a clean decode starting point.
type VideoEncoder interface {
	Encode(frame *RawVideoFrame) (*EncodedFrame, error)
	ForceKeyframe()
	SetBitrate(bps uint32)
	// CodecData returns the codec initialization bytes (e.g. SPS/PPS)
	// to ship in STREAM_CONFIG, or nil if the codec has none.
	CodecData() []byte
	Close() error
}

// AudioEncoder turns raw PCM into encoded audio frames.
type AudioEncoder interface {
	Encode(frame *RawAudioFrame) (*EncodedFrame, error)
	Close() error
}

// VideoDecoder turns reassembled encoded frames back into raw pictures
// on the viewer side.
type VideoDecoder interface {
	Decode(frame *EncodedFrame) (*RawVideoFrame, error)
	Close() error
}

// FrameSink consumes decoded output on the viewer side; the real
// implementation is a render surface, which is out of scope here.
type FrameSink interface {
	Deliver(frame *RawVideoFrame) error
	Close() error
}
