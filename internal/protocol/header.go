// Package protocol implements the lancast wire format: a fixed 20-byte
// little-endian packet header, fixed-layout control payloads, and the
// fragmentation/reassembly engine that moves encoded media frames over
// an unreliable datagram transport.
package protocol

import "encoding/binary"

// Wire constants. A full datagram is HeaderSize + at most MaxFragmentData
// bytes, which stays well under typical path MTU on a LAN.
const (
	Magic   = 0xAA
	Version = 1

	HeaderSize      = 20
	MaxFragmentData = 1184
	MaxDatagramSize = HeaderSize + MaxFragmentData

	DefaultPort = 7878
)

// PacketType identifies the packet on the wire.
type PacketType uint8

const (
	TypeVideoData    PacketType = 0x01
	TypeAudioData    PacketType = 0x02
	TypeHello        PacketType = 0x10
	TypeWelcome      PacketType = 0x11
	TypeAck          PacketType = 0x12
	TypeNack         PacketType = 0x13
	TypeKeyframeReq  PacketType = 0x14
	TypePing         PacketType = 0x20
	TypePong         PacketType = 0x21
	TypeBye          PacketType = 0x30
	TypeStreamConfig PacketType = 0x40
)

func (t PacketType) String() string {
	switch t {
	case TypeVideoData:
		return "VIDEO_DATA"
	case TypeAudioData:
		return "AUDIO_DATA"
	case TypeHello:
		return "HELLO"
	case TypeWelcome:
		return "WELCOME"
	case TypeAck:
		return "ACK"
	case TypeNack:
		return "NACK"
	case TypeKeyframeReq:
		return "KEYFRAME_REQ"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeBye:
		return "BYE"
	case TypeStreamConfig:
		return "STREAM_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// Header flag bits. KEYFRAME is set on every fragment of a keyframe;
// FIRST and LAST mark the frame boundaries (a single-fragment frame
// carries both).
const (
	FlagNone     uint8 = 0x00
	FlagKeyframe uint8 = 0x01
	FlagFirst    uint8 = 0x02
	FlagLast     uint8 = 0x04
)

// Header is the fixed packet header.
//
// Wire layout (little-endian):
//
//	offset 0  magic        u8
//	offset 1  version      u8
//	offset 2  type         u8
//	offset 3  flags        u8
//	offset 4  sequence     u32
//	offset 8  timestamp_us u32
//	offset 12 frame_id     u16
//	offset 14 frag_idx     u16
//	offset 16 frag_total   u16
//	offset 18 reserved     u16
type Header struct {
	Magic       uint8
	Version     uint8
	Type        PacketType
	Flags       uint8
	Sequence    uint32
	TimestampUS uint32
	FrameID     uint16
	FragIdx     uint16
	FragTotal   uint16
}

// Valid reports whether the header carries the protocol magic and a
// supported version. This is the only gate; type-specific payload
// validation happens in the consuming component.
func (h Header) Valid() bool {
	return h.Magic == Magic && h.Version == Version
}

func (h Header) marshal(buf []byte) {
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = uint8(h.Type)
	buf[3] = h.Flags
	binary.LittleEndian.PutUint32(buf[4:8], h.Sequence)
	binary.LittleEndian.PutUint32(buf[8:12], h.TimestampUS)
	binary.LittleEndian.PutUint16(buf[12:14], h.FrameID)
	binary.LittleEndian.PutUint16(buf[14:16], h.FragIdx)
	binary.LittleEndian.PutUint16(buf[16:18], h.FragTotal)
	buf[18] = 0
	buf[19] = 0
}

func parseHeader(buf []byte) Header {
	return Header{
		Magic:       buf[0],
		Version:     buf[1],
		Type:        PacketType(buf[2]),
		Flags:       buf[3],
		Sequence:    binary.LittleEndian.Uint32(buf[4:8]),
		TimestampUS: binary.LittleEndian.Uint32(buf[8:12]),
		FrameID:     binary.LittleEndian.Uint16(buf[12:14]),
		FragIdx:     binary.LittleEndian.Uint16(buf[14:16]),
		FragTotal:   binary.LittleEndian.Uint16(buf[16:18]),
	}
}

// Packet is one wire datagram: header plus payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// Marshal serializes the packet into exactly HeaderSize+len(Payload)
// bytes.
func (p Packet) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	p.Header.marshal(buf)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// ParsePacket parses a received datagram. Buffers shorter than the
// header yield a packet whose header fails Valid; callers must check it
// before trusting any field. Remaining bytes past the header are the
// payload, which may be empty (control messages like PING carry none).
func ParsePacket(buf []byte) Packet {
	if len(buf) < HeaderSize {
		return Packet{}
	}
	p := Packet{Header: parseHeader(buf)}
	if len(buf) > HeaderSize {
		p.Payload = make([]byte, len(buf)-HeaderSize)
		copy(p.Payload, buf[HeaderSize:])
	}
	return p
}

// NewControlPacket builds a payload-bearing packet of the given type with
// the magic and version filled in, drawing one sequence number from seq.
func NewControlPacket(t PacketType, payload []byte, seq *uint32) Packet {
	p := Packet{
		Header: Header{
			Magic:    Magic,
			Version:  Version,
			Type:     t,
			Sequence: *seq,
		},
		Payload: payload,
	}
	*seq++
	return p
}
