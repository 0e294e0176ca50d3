package session

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/protocol"
	"github.com/lancast/lancast/internal/transport"
)

// ErrNotConnected is returned by client operations that need an
// established session.
var ErrNotConnected = errors.New("session: not connected")

const (
	// handshakeTimeout bounds each receive while waiting for WELCOME
	// and the optional STREAM_CONFIG.
	handshakeTimeout = time.Second

	// streamTimeout is the steady-state receive timeout; short enough
	// that the poll loop observes cancellation promptly.
	streamTimeout = 50 * time.Millisecond

	// nackAge is how long a keyframe may sit incomplete before its
	// missing fragments are NACKed.
	nackAge = 100 * time.Millisecond

	// purgeTimeout abandons any partial frame older than this.
	purgeTimeout = 500 * time.Millisecond
)

// Client is the viewer-side connection state machine. Connect and
// Disconnect manage the session; Poll runs one receive cycle and is
// looped from a single goroutine, which is also the only goroutine
// allowed to touch the assembler.
type Client struct {
	log       *slog.Logger
	conn      *transport.Conn
	metrics   *metrics.Metrics
	assembler *protocol.Assembler

	server    *net.UDPAddr
	cfg       media.StreamConfig
	connected atomic.Bool
	seq       uint32

	video chan *media.EncodedFrame
	audio chan *media.EncodedFrame

	now func() time.Time
}

// NewClient creates a client speaking on conn. A nil logger falls back
// to slog.Default; a nil metrics handle disables instrumentation.
func NewClient(conn *transport.Conn, log *slog.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:       log.With("component", "client"),
		conn:      conn,
		metrics:   m,
		assembler: protocol.NewAssembler(),
		video:     make(chan *media.EncodedFrame, media.VideoBufferSize),
		audio:     make(chan *media.EncodedFrame, media.AudioBufferSize),
		now:       time.Now,
	}
}

// Video delivers completed video frames in completion order.
func (c *Client) Video() <-chan *media.EncodedFrame { return c.video }

// Audio delivers completed audio frames in completion order.
func (c *Client) Audio() <-chan *media.EncodedFrame { return c.audio }

// StreamConfig returns the stream parameters received during the
// handshake. Valid after a successful Connect.
func (c *Client) StreamConfig() media.StreamConfig { return c.cfg }

// Connected reports whether the session is established.
func (c *Client) Connected() bool { return c.connected.Load() }

// Connect performs the HELLO/WELCOME handshake with the host, waits one
// extra timeout window for the optional STREAM_CONFIG carrying codec
// initialization bytes (its absence is not an error), and finishes by
// requesting a keyframe so the decoder gets a clean starting point.
func (c *Client) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("session: resolve %s:%d: %w", host, port, err)
	}
	c.server = addr

	hello := protocol.HelloPayload{ClientID: rand.Uint32()}
	pkt := protocol.NewControlPacket(protocol.TypeHello, hello.Marshal(), &c.seq)
	if err := c.conn.SendTo(pkt.Marshal(), c.server); err != nil {
		return fmt.Errorf("session: send HELLO: %w", err)
	}
	c.log.Info("sent hello", "server", addr.String(), "client_id", hello.ClientID)

	buf, _, err := c.conn.Recv(handshakeTimeout)
	if err != nil {
		return fmt.Errorf("session: no WELCOME: %w", err)
	}
	welcome := protocol.ParsePacket(buf)
	if !welcome.Header.Valid() || welcome.Header.Type != protocol.TypeWelcome {
		return fmt.Errorf("session: expected WELCOME, got type %#02x", uint8(welcome.Header.Type))
	}

	wp, err := protocol.ParseWelcomePayload(welcome.Payload)
	if err != nil {
		return fmt.Errorf("session: malformed WELCOME: %w", err)
	}
	c.cfg = media.StreamConfig{
		Width:           wp.Width,
		Height:          wp.Height,
		FPS:             wp.FPS,
		VideoBitrate:    wp.VideoBitrate,
		AudioSampleRate: wp.AudioSampleRate,
		AudioChannels:   wp.AudioChannels,
	}

	// The host sends STREAM_CONFIG only when it has codec data; not
	// receiving one here is a legitimate outcome.
	if buf, _, err := c.conn.Recv(handshakeTimeout); err == nil {
		if cfg := protocol.ParsePacket(buf); cfg.Header.Valid() && cfg.Header.Type == protocol.TypeStreamConfig {
			c.cfg.CodecData = cfg.Payload
			c.log.Info("received codec data", "bytes", len(cfg.Payload))
		}
	}

	c.connected.Store(true)
	c.log.Info("connected",
		"server", addr.String(),
		"width", c.cfg.Width,
		"height", c.cfg.Height,
		"fps", c.cfg.FPS)

	c.RequestKeyframe()
	return nil
}

// Disconnect sends a best-effort BYE and tears the session down.
// Idempotent: disconnecting an unconnected client is a no-op.
func (c *Client) Disconnect() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	pkt := protocol.NewControlPacket(protocol.TypeBye, nil, &c.seq)
	_ = c.conn.SendTo(pkt.Marshal(), c.server)
	c.log.Info("disconnected")
}

// RequestKeyframe asks the host to force its next frame to be a
// keyframe. Fire-and-forget and idempotent.
func (c *Client) RequestKeyframe() {
	if c.server == nil {
		return
	}
	pkt := protocol.NewControlPacket(protocol.TypeKeyframeReq, nil, &c.seq)
	_ = c.conn.SendTo(pkt.Marshal(), c.server)
}

// Poll runs one receive cycle: it dispatches at most one packet, then
// NACKs any keyframe that has sat incomplete past the age threshold and
// purges abandoned partial frames. A receive timeout is not an error.
func (c *Client) Poll() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	buf, _, err := c.conn.Recv(streamTimeout)
	switch {
	case err == nil:
		c.metrics.IncPacketsReceived()
		c.handle(buf)
	case errors.Is(err, transport.ErrTimeout):
		// silence; fall through to housekeeping
	default:
		return err
	}

	for _, missing := range c.assembler.CheckIncompleteKeyframes(nackAge) {
		c.sendNack(missing)
	}
	if purged := c.assembler.PurgeStale(purgeTimeout); purged > 0 {
		c.metrics.AddFramesPurged(purged)
		c.log.Debug("purged stale partial frames", "count", purged)
	}
	return nil
}

func (c *Client) handle(buf []byte) {
	if len(buf) < protocol.HeaderSize {
		return
	}
	pkt := protocol.ParsePacket(buf)
	if !pkt.Header.Valid() {
		c.log.Warn("packet with bad magic/version")
		return
	}

	switch pkt.Header.Type {
	case protocol.TypeVideoData, protocol.TypeAudioData:
		frame := c.assembler.Feed(pkt)
		if frame == nil {
			return
		}
		c.metrics.IncFramesAssembled()
		c.deliver(frame)
	case protocol.TypePing:
		// Echo the opaque timestamp back unchanged; only the host's
		// clock is ever compared against it.
		pong := protocol.NewControlPacket(protocol.TypePong, pkt.Payload, &c.seq)
		_ = c.conn.SendTo(pong.Marshal(), c.server)
	}
}

// deliver routes a completed frame to its typed channel, dropping it if
// the consumer has fallen behind. Dropping beats blocking the receive
// loop: stalled delivery would otherwise stall NACK emission too.
func (c *Client) deliver(frame *media.EncodedFrame) {
	ch := c.video
	if frame.Type == media.Audio {
		ch = c.audio
	}
	select {
	case ch <- frame:
	default:
		c.log.Debug("delivery queue full, dropping frame",
			"type", frame.Type.String(), "frame_id", frame.FrameID)
	}
}

func (c *Client) sendNack(missing protocol.IncompleteKeyframe) {
	nack := protocol.NackPayload{FrameID: missing.FrameID, Missing: missing.Missing}
	pkt := protocol.NewControlPacket(protocol.TypeNack, nack.Marshal(), &c.seq)
	_ = c.conn.SendTo(pkt.Marshal(), c.server)
	c.metrics.IncNacksSent()
	c.log.Debug("sent nack",
		"frame_id", missing.FrameID,
		"missing", len(missing.Missing),
		"total", missing.FragTotal)
}
