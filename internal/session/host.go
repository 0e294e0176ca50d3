// Package session implements the two connection state machines of the
// lancast protocol: the host side, which registers viewers and
// broadcasts fragmented media to them, and the client side, which joins
// a host and reassembles what it receives. Both sides share the
// selective-reliability machinery: keyframes, and only keyframes, are
// recovered via NACK-driven retransmission.
package session

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/protocol"
	"github.com/lancast/lancast/internal/transport"
)

const (
	// PingInterval is how often the host pings every registered viewer
	// to drive the RTT loop.
	PingInterval = 2 * time.Second

	// clientIdleTimeout evicts a viewer that has sent nothing at all
	// (no PONG, NACK, or KEYFRAME_REQ) for this long.
	clientIdleTimeout = 30 * time.Second

	// maxPlausibleRTT rejects PONG-derived samples that can only come
	// from clock corruption or a replayed packet.
	maxPlausibleRTT = 10 * time.Second
)

// ClientRecord is the host's view of one registered viewer.
type ClientRecord struct {
	Addr     *net.UDPAddr
	RTT      time.Duration
	RTTValid bool
	LastSeen time.Time
}

// keyframeCache holds the most recently broadcast keyframe's fragments
// so a NACK referencing it can be answered. It is overwritten on every
// new keyframe and guarded separately from the client table because the
// send loop writes it while the poll loop reads it.
type keyframeCache struct {
	frameID   uint16
	fragments []protocol.Packet
	valid     bool
}

// Host is the server-side connection state machine. Broadcast is called
// from the sender goroutine and Poll from the receive goroutine; all
// shared state between them is guarded here.
type Host struct {
	log     *slog.Logger
	conn    *transport.Conn
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*ClientRecord
	cfg     media.StreamConfig

	kfMu     sync.Mutex
	keyframe keyframeCache

	seqMu sync.Mutex
	seq   uint32

	keyframeReq chan struct{}

	lastPing time.Time
	now      func() time.Time
}

// NewHost creates a host speaking on conn. A nil logger falls back to
// slog.Default; a nil metrics handle disables instrumentation.
func NewHost(conn *transport.Conn, cfg media.StreamConfig, log *slog.Logger, m *metrics.Metrics) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		log:         log.With("component", "host"),
		conn:        conn,
		metrics:     m,
		clients:     make(map[string]*ClientRecord),
		cfg:         cfg,
		keyframeReq: make(chan struct{}, 1),
		now:         time.Now,
	}
}

// SetStreamConfig replaces the stream parameters advertised to newly
// connecting viewers.
func (h *Host) SetStreamConfig(cfg media.StreamConfig) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// KeyframeRequests delivers one signal per KEYFRAME_REQ received while
// the channel has room; the orchestration layer forwards it to the
// encoder. Coalescing repeated requests into one pending signal is
// deliberate: one forced keyframe answers them all.
func (h *Host) KeyframeRequests() <-chan struct{} {
	return h.keyframeReq
}

// ClientCount returns the number of registered viewers.
func (h *Host) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the client table.
func (h *Host) Clients() []ClientRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ClientRecord, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, *c)
	}
	return out
}

// MaxRTT returns the worst valid round-trip time across all viewers,
// and false if no viewer has produced a valid sample yet. The
// adaptive-bitrate policy keys on this: the worst client governs.
func (h *Host) MaxRTT() (time.Duration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var max time.Duration
	any := false
	for _, c := range h.clients {
		if !c.RTTValid {
			continue
		}
		any = true
		if c.RTT > max {
			max = c.RTT
		}
	}
	return max, any
}

// Broadcast fragments one encoded frame and sends every fragment to
// every registered viewer. For keyframes the fragment list replaces the
// retransmit cache before anything is sent, so even the fastest NACK
// finds it populated. Individual send failures are swallowed: a lost
// datagram is the medium's normal behavior.
func (h *Host) Broadcast(frame *media.EncodedFrame) error {
	h.seqMu.Lock()
	packets, err := protocol.Fragment(frame, &h.seq)
	h.seqMu.Unlock()
	if err != nil {
		return err
	}
	if len(packets) == 0 {
		return nil
	}

	if frame.Type == media.VideoKeyframe {
		h.kfMu.Lock()
		h.keyframe = keyframeCache{frameID: frame.FrameID, fragments: packets, valid: true}
		h.kfMu.Unlock()
	}

	h.mu.RLock()
	dests := make([]*net.UDPAddr, 0, len(h.clients))
	for _, c := range h.clients {
		dests = append(dests, c.Addr)
	}
	h.mu.RUnlock()

	for _, dest := range dests {
		for _, p := range packets {
			_ = h.conn.SendTo(p.Marshal(), dest)
		}
		h.metrics.AddPacketsSent(len(packets))
	}
	return nil
}

// Poll runs one receive cycle: it fires the periodic PING pass when due,
// then waits up to timeout for one packet and dispatches it. A timeout
// is not an error. The caller loops Poll from a single goroutine.
func (h *Host) Poll(timeout time.Duration) error {
	if h.now().Sub(h.lastPing) >= PingInterval {
		h.sendPings()
		h.lastPing = h.now()
	}

	buf, src, err := h.conn.Recv(timeout)
	if err != nil {
		if err == transport.ErrTimeout {
			return nil
		}
		return err
	}
	h.metrics.IncPacketsReceived()

	if len(buf) < protocol.HeaderSize {
		return nil // routine noise, dropped silently
	}
	pkt := protocol.ParsePacket(buf)
	if !pkt.Header.Valid() {
		h.log.Warn("packet with bad magic/version", "source", src.String())
		return nil
	}

	switch pkt.Header.Type {
	case protocol.TypeHello:
		h.handleHello(pkt, src)
	case protocol.TypeBye:
		h.handleBye(src)
	case protocol.TypeKeyframeReq:
		h.touch(src)
		h.log.Info("keyframe requested", "source", src.String())
		select {
		case h.keyframeReq <- struct{}{}:
		default:
		}
	case protocol.TypePong:
		h.handlePong(pkt, src)
	case protocol.TypeNack:
		h.handleNack(pkt, src)
	}
	return nil
}

func (h *Host) handleHello(pkt protocol.Packet, src *net.UDPAddr) {
	// The client identifier is informational and optional; a bare HELLO
	// is accepted.
	var clientID uint32
	if hello, err := protocol.ParseHelloPayload(pkt.Payload); err == nil {
		clientID = hello.ClientID
	}

	key := src.String()
	h.mu.Lock()
	if c, ok := h.clients[key]; ok {
		// Duplicate HELLO from a known endpoint: reconnect-safe no-op.
		c.LastSeen = h.now()
		h.mu.Unlock()
		return
	}
	h.clients[key] = &ClientRecord{Addr: src, LastSeen: h.now()}
	count := len(h.clients)
	cfg := h.cfg
	h.mu.Unlock()

	h.metrics.SetClientsConnected(count)
	h.log.Info("client connected", "source", key, "client_id", clientID, "clients", count)

	welcome := protocol.WelcomePayload{
		Width:           cfg.Width,
		Height:          cfg.Height,
		FPS:             cfg.FPS,
		VideoBitrate:    cfg.VideoBitrate,
		AudioSampleRate: cfg.AudioSampleRate,
		AudioChannels:   cfg.AudioChannels,
	}
	h.sendControl(protocol.TypeWelcome, welcome.Marshal(), src)

	if len(cfg.CodecData) > 0 {
		h.sendControl(protocol.TypeStreamConfig, cfg.CodecData, src)
		h.log.Info("sent stream config", "source", key, "bytes", len(cfg.CodecData))
	}
}

func (h *Host) handleBye(src *net.UDPAddr) {
	key := src.String()
	h.mu.Lock()
	_, ok := h.clients[key]
	if ok {
		delete(h.clients, key)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.SetClientsConnected(count)
		h.log.Info("client disconnected", "source", key, "clients", count)
	}
}

func (h *Host) handlePong(pkt protocol.Packet, src *net.UDPAddr) {
	pong, err := protocol.ParsePingPayload(pkt.Payload)
	if err != nil {
		return
	}

	rtt := time.Duration(h.now().UnixMicro()-int64(pong.TimestampUS)) * time.Microsecond
	if rtt < 0 || rtt > maxPlausibleRTT {
		return // corrupt or replayed
	}

	h.mu.Lock()
	if c, ok := h.clients[src.String()]; ok {
		c.RTT = rtt
		c.RTTValid = true
		c.LastSeen = h.now()
	}
	h.mu.Unlock()

	h.log.Debug("rtt sample", "source", src.String(), "rtt", rtt)
}

func (h *Host) handleNack(pkt protocol.Packet, src *net.UDPAddr) {
	nack, err := protocol.ParseNackPayload(pkt.Payload)
	if err != nil {
		return
	}
	h.touch(src)
	h.metrics.IncNacksReceived()

	h.kfMu.Lock()
	defer h.kfMu.Unlock()

	if !h.keyframe.valid || nack.FrameID != h.keyframe.frameID {
		h.log.Debug("nack for superseded keyframe", "source", src.String(), "frame_id", nack.FrameID)
		return
	}

	resent := 0
	for _, idx := range nack.Missing {
		if int(idx) < len(h.keyframe.fragments) {
			_ = h.conn.SendTo(h.keyframe.fragments[idx].Marshal(), src)
			resent++
		}
	}
	h.metrics.AddFragmentsResent(resent)
	h.log.Info("resent keyframe fragments",
		"source", src.String(),
		"frame_id", nack.FrameID,
		"resent", resent,
		"requested", len(nack.Missing))
}

// sendPings broadcasts a PING carrying the current timestamp and evicts
// viewers that have been silent past the idle timeout.
func (h *Host) sendPings() {
	now := h.now()
	payload := protocol.PingPayload{TimestampUS: uint64(now.UnixMicro())}.Marshal()

	h.seqMu.Lock()
	ping := protocol.NewControlPacket(protocol.TypePing, payload, &h.seq)
	h.seqMu.Unlock()
	buf := ping.Marshal()

	h.mu.Lock()
	dests := make([]*net.UDPAddr, 0, len(h.clients))
	evicted := 0
	for key, c := range h.clients {
		if now.Sub(c.LastSeen) > clientIdleTimeout {
			delete(h.clients, key)
			evicted++
			h.log.Info("client evicted after silence", "source", key)
			continue
		}
		dests = append(dests, c.Addr)
	}
	count := len(h.clients)
	var maxRTT time.Duration
	for _, c := range h.clients {
		if c.RTTValid && c.RTT > maxRTT {
			maxRTT = c.RTT
		}
	}
	h.mu.Unlock()

	if evicted > 0 {
		h.metrics.SetClientsConnected(count)
	}
	h.metrics.SetMaxRTTMs(float64(maxRTT) / float64(time.Millisecond))

	for _, dest := range dests {
		_ = h.conn.SendTo(buf, dest)
	}
	h.metrics.AddPacketsSent(len(dests))
}

func (h *Host) sendControl(t protocol.PacketType, payload []byte, dest *net.UDPAddr) {
	h.seqMu.Lock()
	pkt := protocol.NewControlPacket(t, payload, &h.seq)
	h.seqMu.Unlock()
	_ = h.conn.SendTo(pkt.Marshal(), dest)
	h.metrics.AddPacketsSent(1)
}

// touch refreshes a known client's liveness without other changes.
func (h *Host) touch(src *net.UDPAddr) {
	h.mu.Lock()
	if c, ok := h.clients[src.String()]; ok {
		c.LastSeen = h.now()
	}
	h.mu.Unlock()
}
