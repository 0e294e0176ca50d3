// Package metrics exposes Prometheus counters and gauges for the
// transport layer. A nil *Metrics is a valid no-op receiver so that
// tests and embedded uses can skip instrumentation entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the lancast transport instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	framesAssembled prometheus.Counter
	framesPurged    prometheus.Counter
	nacksSent       prometheus.Counter
	nacksReceived   prometheus.Counter
	fragmentsResent prometheus.Counter

	clientsConnected prometheus.Gauge
	maxRTTMs         prometheus.Gauge
	targetBitrate    prometheus.Gauge
}

// New creates and registers the transport metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_packets_sent_total",
			Help: "Total datagrams sent",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_packets_received_total",
			Help: "Total datagrams received",
		}),
		framesAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_frames_assembled_total",
			Help: "Total media frames fully reassembled",
		}),
		framesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_frames_purged_total",
			Help: "Total partial frames dropped by the staleness purge",
		}),
		nacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_nacks_sent_total",
			Help: "Total NACK messages sent for incomplete keyframes",
		}),
		nacksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_nacks_received_total",
			Help: "Total NACK messages received from viewers",
		}),
		fragmentsResent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancast_fragments_resent_total",
			Help: "Total keyframe fragments retransmitted in response to NACKs",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_clients_connected",
			Help: "Currently registered viewers",
		}),
		maxRTTMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_max_rtt_ms",
			Help: "Worst round-trip time across connected viewers, milliseconds",
		}),
		targetBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_target_bitrate_bps",
			Help: "Current adaptive encoder bitrate target, bits per second",
		}),
	}

	registry.MustRegister(
		m.packetsSent,
		m.packetsReceived,
		m.framesAssembled,
		m.framesPurged,
		m.nacksSent,
		m.nacksReceived,
		m.fragmentsResent,
		m.clientsConnected,
		m.maxRTTMs,
		m.targetBitrate,
	)

	return m
}

// Registry returns the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AddPacketsSent(n int) {
	if m != nil {
		m.packetsSent.Add(float64(n))
	}
}

func (m *Metrics) IncPacketsReceived() {
	if m != nil {
		m.packetsReceived.Inc()
	}
}

func (m *Metrics) IncFramesAssembled() {
	if m != nil {
		m.framesAssembled.Inc()
	}
}

func (m *Metrics) AddFramesPurged(n int) {
	if m != nil {
		m.framesPurged.Add(float64(n))
	}
}

func (m *Metrics) IncNacksSent() {
	if m != nil {
		m.nacksSent.Inc()
	}
}

func (m *Metrics) IncNacksReceived() {
	if m != nil {
		m.nacksReceived.Inc()
	}
}

func (m *Metrics) AddFragmentsResent(n int) {
	if m != nil {
		m.fragmentsResent.Add(float64(n))
	}
}

func (m *Metrics) SetClientsConnected(n int) {
	if m != nil {
		m.clientsConnected.Set(float64(n))
	}
}

func (m *Metrics) SetMaxRTTMs(rtt float64) {
	if m != nil {
		m.maxRTTMs.Set(rtt)
	}
}

func (m *Metrics) SetTargetBitrate(bps uint32) {
	if m != nil {
		m.targetBitrate.Set(float64(bps))
	}
}
