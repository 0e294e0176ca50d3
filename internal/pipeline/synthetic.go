package pipeline

import (
	"math"
	"time"

	"github.com/lancast/lancast/internal/media"
)

// Synthetic capture and codec stages let the full host pipeline run on a
// machine with no screen capture or codec backends: a moving-gradient
// video source, a sine-tone audio source, and passthrough "encoders"
// that ship raw data. Every passthrough video frame is a keyframe, the
// same simplification the uncompressed path has always used.

// SyntheticVideoSource generates YUV420p test-pattern frames with a
// gradient that shifts each frame, so motion is visible end to end.
type SyntheticVideoSource struct {
	width  uint32
	height uint32
	count  uint64
	start  time.Time
}

func NewSyntheticVideoSource(width, height uint32) *SyntheticVideoSource {
	return &SyntheticVideoSource{width: width, height: height, start: time.Now()}
}

func (s *SyntheticVideoSource) Width() uint32  { return s.width }
func (s *SyntheticVideoSource) Height() uint32 { return s.height }

func (s *SyntheticVideoSource) Capture() (*media.RawVideoFrame, error) {
	w, h := int(s.width), int(s.height)
	data := make([]byte, w*h*3/2)

	shift := byte(s.count * 2)
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		base := byte(y) + shift
		for x := range row {
			row[x] = base + byte(x)
		}
	}
	// Chroma planes: flat mid-gray with a slow hue drift.
	u := data[w*h : w*h+w*h/4]
	v := data[w*h+w*h/4:]
	for i := range u {
		u[i] = 128 + shift/4
	}
	for i := range v {
		v[i] = 128 - shift/4
	}

	s.count++
	return &media.RawVideoFrame{
		Data:   data,
		Width:  s.width,
		Height: s.height,
		PTS:    time.Since(s.start).Microseconds(),
	}, nil
}

func (s *SyntheticVideoSource) Close() error { return nil }

// SyntheticAudioSource generates 20ms blocks of a 440 Hz sine tone,
// pacing itself to real time so the pipeline is not flooded.
type SyntheticAudioSource struct {
	sampleRate uint32
	channels   uint16
	phase      float64
	start      time.Time
	produced   time.Duration
}

func NewSyntheticAudioSource(sampleRate uint32, channels uint16) *SyntheticAudioSource {
	return &SyntheticAudioSource{sampleRate: sampleRate, channels: channels, start: time.Now()}
}

func (s *SyntheticAudioSource) Capture() (*media.RawAudioFrame, error) {
	const blockDuration = 20 * time.Millisecond

	// Sleep until real time catches up with what we have produced.
	if ahead := s.produced - time.Since(s.start); ahead > 0 {
		time.Sleep(ahead)
	}

	samplesPerChannel := int(uint64(s.sampleRate) * uint64(blockDuration) / uint64(time.Second))
	samples := make([]float32, samplesPerChannel*int(s.channels))
	step := 2 * math.Pi * 440 / float64(s.sampleRate)
	for i := 0; i < samplesPerChannel; i++ {
		v := float32(0.2 * math.Sin(s.phase))
		s.phase += step
		for ch := 0; ch < int(s.channels); ch++ {
			samples[i*int(s.channels)+ch] = v
		}
	}

	pts := s.produced.Microseconds()
	s.produced += blockDuration

	return &media.RawAudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		PTS:        pts,
	}, nil
}

func (s *SyntheticAudioSource) Close() error { return nil }

// PassthroughVideoEncoder wraps raw pictures as keyframe payloads
// without compression. SetBitrate is recorded but has no effect on an
// uncompressed stream; ForceKeyframe is trivially satisfied.
type PassthroughVideoEncoder struct {
	bitrate uint32
}

func NewPassthroughVideoEncoder() *PassthroughVideoEncoder {
	return &PassthroughVideoEncoder{}
}

func (e *PassthroughVideoEncoder) Encode(frame *media.RawVideoFrame) (*media.EncodedFrame, error) {
	return &media.EncodedFrame{
		Data: frame.Data,
		Type: media.VideoKeyframe,
		PTS:  frame.PTS,
	}, nil
}

func (e *PassthroughVideoEncoder) ForceKeyframe()        {}
func (e *PassthroughVideoEncoder) SetBitrate(bps uint32) { e.bitrate = bps }
func (e *PassthroughVideoEncoder) CodecData() []byte     { return nil }
func (e *PassthroughVideoEncoder) Close() error          { return nil }

// PassthroughAudioEncoder ships float32 PCM as little-endian bytes.
type PassthroughAudioEncoder struct{}

func NewPassthroughAudioEncoder() *PassthroughAudioEncoder {
	return &PassthroughAudioEncoder{}
}

func (e *PassthroughAudioEncoder) Encode(frame *media.RawAudioFrame) (*media.EncodedFrame, error) {
	data := make([]byte, 4*len(frame.Samples))
	for i, s := range frame.Samples {
		bits := math.Float32bits(s)
		data[4*i] = byte(bits)
		data[4*i+1] = byte(bits >> 8)
		data[4*i+2] = byte(bits >> 16)
		data[4*i+3] = byte(bits >> 24)
	}
	return &media.EncodedFrame{
		Data: data,
		Type: media.Audio,
		PTS:  frame.PTS,
	}, nil
}

func (e *PassthroughAudioEncoder) Close() error { return nil }
