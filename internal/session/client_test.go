package session

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/protocol"
	"github.com/lancast/lancast/internal/transport"
)

// fakeHost is a raw socket standing in for the host side of the
// handshake, so client behavior is tested against exact wire bytes.
type fakeHost struct {
	t    *testing.T
	conn *transport.Conn
	seq  uint32
	peer *net.UDPAddr
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	conn, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakeHost{t: t, conn: conn}
}

func (f *fakeHost) port() int {
	return f.conn.LocalPort()
}

// expect receives packets until one of the wanted type arrives,
// recording the client's address.
func (f *fakeHost) expect(want protocol.PacketType) protocol.Packet {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		buf, src, err := f.conn.Recv(200 * time.Millisecond)
		if err != nil {
			continue
		}
		pkt := protocol.ParsePacket(buf)
		if pkt.Header.Valid() && pkt.Header.Type == want {
			f.peer = src
			return pkt
		}
	}
	f.t.Fatalf("no %v packet received", want)
	return protocol.Packet{}
}

func (f *fakeHost) send(ptype protocol.PacketType, payload []byte) {
	f.t.Helper()
	pkt := protocol.NewControlPacket(ptype, payload, &f.seq)
	if err := f.conn.SendTo(pkt.Marshal(), f.peer); err != nil {
		f.t.Fatalf("send %v: %v", ptype, err)
	}
}

func (f *fakeHost) sendWelcome(codecData []byte) {
	wp := protocol.WelcomePayload{
		Width:           1280,
		Height:          720,
		FPS:             60,
		VideoBitrate:    4_000_000,
		AudioSampleRate: 48_000,
		AudioChannels:   2,
	}
	f.send(protocol.TypeWelcome, wp.Marshal())
	if len(codecData) > 0 {
		f.send(protocol.TypeStreamConfig, codecData)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := transport.Dial()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn, nil, nil)
}

// connect runs the handshake between client and fake host concurrently.
func connect(t *testing.T, c *Client, f *fakeHost, codecData []byte) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- c.Connect("127.0.0.1", f.port())
	}()

	f.expect(protocol.TypeHello)
	f.sendWelcome(codecData)

	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.expect(protocol.TypeKeyframeReq)
}

func TestClient_ConnectHandshake(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)

	codec := []byte{0x67, 0x64, 0x00, 0x28}
	connect(t, c, f, codec)

	if !c.Connected() {
		t.Error("client not connected after handshake")
	}
	cfg := c.StreamConfig()
	if cfg.Width != 1280 || cfg.Height != 720 || cfg.FPS != 60 {
		t.Errorf("stream config = %+v", cfg)
	}
	if !bytes.Equal(cfg.CodecData, codec) {
		t.Errorf("codec data = %v, want %v", cfg.CodecData, codec)
	}
}

func TestClient_ConnectWithoutStreamConfig(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)

	// No STREAM_CONFIG follows WELCOME; that is not an error.
	connect(t, c, f, nil)

	if len(c.StreamConfig().CodecData) != 0 {
		t.Error("unexpected codec data")
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	c := newTestClient(t)

	// Nothing listens on this port; HELLO goes nowhere.
	dead, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := dead.LocalPort()
	dead.Close()

	if err := c.Connect("127.0.0.1", port); err == nil {
		t.Fatal("connect succeeded with no host")
	}
	if c.Connected() {
		t.Error("client claims connected after failed handshake")
	}
}

func TestClient_ConnectRejectsNonWelcome(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		done <- c.Connect("127.0.0.1", f.port())
	}()

	f.expect(protocol.TypeHello)
	f.send(protocol.TypeBye, nil)

	if err := <-done; err == nil {
		t.Fatal("connect accepted a non-WELCOME reply")
	}
}

func TestClient_DisconnectSendsBye(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)
	connect(t, c, f, nil)

	c.Disconnect()
	f.expect(protocol.TypeBye)
	if c.Connected() {
		t.Error("still connected after disconnect")
	}

	// Idempotent: a second disconnect is a no-op.
	c.Disconnect()
}

func TestClient_ReceivesBroadcastFrame(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)
	connect(t, c, f, nil)

	data := make([]byte, protocol.MaxFragmentData*2+100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	var seq uint32
	packets, err := protocol.Fragment(&media.EncodedFrame{Data: data, Type: media.VideoKeyframe, FrameID: 8, PTS: 99}, &seq)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	for _, p := range packets {
		if err := f.conn.SendTo(p.Marshal(), f.peer); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.Poll(); err != nil {
			t.Fatalf("poll: %v", err)
		}
		select {
		case frame := <-c.Video():
			if !bytes.Equal(frame.Data, data) {
				t.Error("reassembled frame differs from broadcast")
			}
			if frame.Type != media.VideoKeyframe || frame.FrameID != 8 {
				t.Errorf("frame = type %v id %d", frame.Type, frame.FrameID)
			}
			return
		default:
		}
	}
	t.Fatal("frame never delivered")
}

func TestClient_AudioRoutedSeparately(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)
	connect(t, c, f, nil)

	var seq uint32
	packets, err := protocol.Fragment(&media.EncodedFrame{Data: []byte("pcm"), Type: media.Audio, FrameID: 3}, &seq)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	if err := f.conn.SendTo(packets[0].Marshal(), f.peer); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.Poll(); err != nil {
			t.Fatalf("poll: %v", err)
		}
		select {
		case <-c.Video():
			t.Fatal("audio frame delivered on the video channel")
		case frame := <-c.Audio():
			if frame.Type != media.Audio {
				t.Errorf("type = %v, want audio", frame.Type)
			}
			return
		default:
		}
	}
	t.Fatal("frame never delivered")
}

func TestClient_EchoesPing(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)
	connect(t, c, f, nil)

	payload := protocol.PingPayload{TimestampUS: 123456}.Marshal()
	f.send(protocol.TypePing, payload)

	go func() {
		for i := 0; i < 20; i++ {
			_ = c.Poll()
		}
	}()

	pong := f.expect(protocol.TypePong)
	if !bytes.Equal(pong.Payload, payload) {
		t.Errorf("pong payload = %v, want the ping payload echoed unchanged", pong.Payload)
	}
}

func TestClient_NacksIncompleteKeyframe(t *testing.T) {
	f := newFakeHost(t)
	c := newTestClient(t)
	connect(t, c, f, nil)

	// Three fragments, withhold the middle one.
	data := make([]byte, protocol.MaxFragmentData*3)
	var seq uint32
	packets, err := protocol.Fragment(&media.EncodedFrame{Data: data, Type: media.VideoKeyframe, FrameID: 44}, &seq)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	for _, i := range []int{0, 2} {
		if err := f.conn.SendTo(packets[i].Marshal(), f.peer); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_ = c.Poll()
			}
		}
	}()
	defer close(stop)

	nackPkt := f.expect(protocol.TypeNack)
	nack, err := protocol.ParseNackPayload(nackPkt.Payload)
	if err != nil {
		t.Fatalf("parse nack: %v", err)
	}
	if nack.FrameID != 44 {
		t.Errorf("nack frame id = %d, want 44", nack.FrameID)
	}
	if len(nack.Missing) != 1 || nack.Missing[0] != 1 {
		t.Errorf("nack missing = %v, want [1]", nack.Missing)
	}
}

func TestClient_PollRequiresConnection(t *testing.T) {
	c := newTestClient(t)
	if err := c.Poll(); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
