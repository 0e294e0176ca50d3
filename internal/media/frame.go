// Package media defines the frame types that flow through the lancast
// pipeline, from capture through transport to playback.
package media

// Channel buffer sizes used by both the host pipeline (producer) and the
// viewer session (consumer) to decouple frame production from consumption.
// Sized to absorb jitter without excessive memory: ~2 seconds of video,
// ~2.5s of audio.
const (
	VideoBufferSize = 60
	AudioBufferSize = 120
)

// FrameType classifies one encoded media unit for transport.
type FrameType uint8

const (
	VideoKeyframe FrameType = iota
	VideoDelta
	Audio
)

func (t FrameType) String() string {
	switch t {
	case VideoKeyframe:
		return "video-keyframe"
	case VideoDelta:
		return "video-delta"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// EncodedFrame is one logical unit of encoded media: a single video frame
// or a single audio frame. It is the unit the fragmenter splits into wire
// packets and the unit the assembler reconstructs on the far side.
type EncodedFrame struct {
	Data    []byte
	Type    FrameType
	PTS     int64 // presentation timestamp, microseconds
	FrameID uint16
}

// StreamConfig describes the stream a host is serving. It is sent to
// viewers in the WELCOME payload, followed by the codec initialization
// bytes (SPS/PPS extradata) in a STREAM_CONFIG message when present.
type StreamConfig struct {
	Width           uint32
	Height          uint32
	FPS             uint32
	VideoBitrate    uint32
	AudioSampleRate uint32
	AudioChannels   uint16
	CodecData       []byte
}

// DefaultStreamConfig returns the stream parameters used when the host
// does not override them: 1080p30 at 6 Mbps with 48 kHz stereo audio.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Width:           1920,
		Height:          1080,
		FPS:             30,
		VideoBitrate:    6_000_000,
		AudioSampleRate: 48_000,
		AudioChannels:   2,
	}
}

// RawVideoFrame is one uncompressed picture as produced by a capture
// backend: YUV420p pixel data plus dimensions and a capture timestamp.
type RawVideoFrame struct {
	Data   []byte
	Width  uint32
	Height uint32
	PTS    int64 // microseconds
}

// RawAudioFrame is one block of uncompressed audio as produced by a
// capture backend: interleaved float32 PCM samples.
type RawAudioFrame struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint16
	PTS        int64 // microseconds
}
