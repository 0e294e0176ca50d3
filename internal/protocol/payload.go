package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrShortPayload is returned when a control payload is shorter than its
// fixed layout requires. Receivers drop the message; on an unreliable
// medium a truncated datagram is routine noise, not a fault.
var ErrShortPayload = errors.New("protocol: control payload too short")

// Fixed control payload sizes on the wire.
const (
	HelloPayloadSize   = 4
	WelcomePayloadSize = 22
	PingPayloadSize    = 8
	NackHeaderSize     = 4
)

// HelloPayload announces a client to the host. The client identifier is
// currently informational only.
type HelloPayload struct {
	ClientID uint32
}

func (p HelloPayload) Marshal() []byte {
	buf := make([]byte, HelloPayloadSize)
	binary.LittleEndian.PutUint32(buf, p.ClientID)
	return buf
}

func ParseHelloPayload(buf []byte) (HelloPayload, error) {
	if len(buf) < HelloPayloadSize {
		return HelloPayload{}, ErrShortPayload
	}
	return HelloPayload{ClientID: binary.LittleEndian.Uint32(buf)}, nil
}

// WelcomePayload carries the stream parameters from host to client in
// reply to HELLO.
type WelcomePayload struct {
	Width           uint32
	Height          uint32
	FPS             uint32
	VideoBitrate    uint32
	AudioSampleRate uint32
	AudioChannels   uint16
}

func (p WelcomePayload) Marshal() []byte {
	buf := make([]byte, WelcomePayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Width)
	binary.LittleEndian.PutUint32(buf[4:8], p.Height)
	binary.LittleEndian.PutUint32(buf[8:12], p.FPS)
	binary.LittleEndian.PutUint32(buf[12:16], p.VideoBitrate)
	binary.LittleEndian.PutUint32(buf[16:20], p.AudioSampleRate)
	binary.LittleEndian.PutUint16(buf[20:22], p.AudioChannels)
	return buf
}

func ParseWelcomePayload(buf []byte) (WelcomePayload, error) {
	if len(buf) < WelcomePayloadSize {
		return WelcomePayload{}, ErrShortPayload
	}
	return WelcomePayload{
		Width:           binary.LittleEndian.Uint32(buf[0:4]),
		Height:          binary.LittleEndian.Uint32(buf[4:8]),
		FPS:             binary.LittleEndian.Uint32(buf[8:12]),
		VideoBitrate:    binary.LittleEndian.Uint32(buf[12:16]),
		AudioSampleRate: binary.LittleEndian.Uint32(buf[16:20]),
		AudioChannels:   binary.LittleEndian.Uint16(buf[20:22]),
	}, nil
}

// PingPayload carries a send timestamp in microseconds. PONG echoes the
// payload byte-for-byte, so only the original sender's clock is ever
// compared against it.
type PingPayload struct {
	TimestampUS uint64
}

func (p PingPayload) Marshal() []byte {
	buf := make([]byte, PingPayloadSize)
	binary.LittleEndian.PutUint64(buf, p.TimestampUS)
	return buf
}

func ParsePingPayload(buf []byte) (PingPayload, error) {
	if len(buf) < PingPayloadSize {
		return PingPayload{}, ErrShortPayload
	}
	return PingPayload{TimestampUS: binary.LittleEndian.Uint64(buf)}, nil
}

// NackPayload names the fragments of one keyframe that a viewer is still
// missing: a 4-byte header (frame id + count) followed by one u16 per
// missing fragment index.
type NackPayload struct {
	FrameID uint16
	Missing []uint16
}

func (p NackPayload) Marshal() []byte {
	buf := make([]byte, NackHeaderSize+2*len(p.Missing))
	binary.LittleEndian.PutUint16(buf[0:2], p.FrameID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(p.Missing)))
	for i, idx := range p.Missing {
		binary.LittleEndian.PutUint16(buf[4+2*i:], idx)
	}
	return buf
}

// ParseNackPayload parses a NACK. Indices past the end of a truncated
// payload are silently dropped rather than failing the whole message,
// mirroring how the host treats them: a shorter list just resends less.
func ParseNackPayload(buf []byte) (NackPayload, error) {
	if len(buf) < NackHeaderSize {
		return NackPayload{}, ErrShortPayload
	}
	p := NackPayload{FrameID: binary.LittleEndian.Uint16(buf[0:2])}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	for i := 0; i < n; i++ {
		off := NackHeaderSize + 2*i
		if off+2 > len(buf) {
			break
		}
		p.Missing = append(p.Missing, binary.LittleEndian.Uint16(buf[off:]))
	}
	return p, nil
}
