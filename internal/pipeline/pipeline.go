// Package pipeline orchestrates the capture-to-network data flow on the
// host and the network-to-playback flow on the viewer. It owns the
// goroutines and bounded queues between stages; the stages themselves
// live behind the interfaces in internal/media and the session state
// machines in internal/session.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/session"
)

// Broadcaster is the subset of session.Host the pipeline drives.
// Accepting an interface keeps the pipeline testable with stubs.
type Broadcaster interface {
	Broadcast(frame *media.EncodedFrame) error
	Poll(timeout time.Duration) error
	KeyframeRequests() <-chan struct{}
	MaxRTT() (time.Duration, bool)
}

// pollTimeout bounds each host receive so the loops observe
// cancellation promptly.
const pollTimeout = 50 * time.Millisecond

// HostPipeline runs the host side: a capture loop paced to the target
// frame rate, an encoder, a send loop draining a bounded frame queue
// into the broadcaster, the host poll loop, and the adaptive-bitrate
// ticker. Frames are dropped, never queued unboundedly, when the send
// loop falls behind.
type HostPipeline struct {
	log     *slog.Logger
	host    Broadcaster
	video   media.VideoSource
	venc    media.VideoEncoder
	audio   media.AudioSource // optional
	aenc    media.AudioEncoder
	bitrate *session.BitrateController
	metrics *metrics.Metrics
	fps     uint32

	frames chan *media.EncodedFrame

	videoID uint16
	audioID uint16
}

// NewHost assembles a host pipeline. audio and aenc may be nil together
// to stream video only.
func NewHost(host Broadcaster, video media.VideoSource, venc media.VideoEncoder,
	audio media.AudioSource, aenc media.AudioEncoder,
	fps uint32, bitrate *session.BitrateController, m *metrics.Metrics) *HostPipeline {
	return &HostPipeline{
		log:     slog.With("component", "host-pipeline"),
		host:    host,
		video:   video,
		venc:    venc,
		audio:   audio,
		aenc:    aenc,
		bitrate: bitrate,
		metrics: m,
		fps:     fps,
		frames:  make(chan *media.EncodedFrame, media.VideoBufferSize),
	}
}

// Run starts all pipeline goroutines and blocks until the context is
// cancelled or a stage fails.
func (p *HostPipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.captureLoop(ctx) })
	g.Go(func() error { return p.sendLoop(ctx) })
	g.Go(func() error { return p.pollLoop(ctx) })
	g.Go(func() error { return p.bitrateLoop(ctx) })
	if p.audio != nil && p.aenc != nil {
		g.Go(func() error { return p.audioLoop(ctx) })
	}

	return g.Wait()
}

func (p *HostPipeline) captureLoop(ctx context.Context) error {
	interval := time.Second / time.Duration(p.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("capture loop started", "fps", p.fps, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		raw, err := p.video.Capture()
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}

		frame, err := p.venc.Encode(raw)
		if err != nil {
			return err
		}
		frame.FrameID = p.videoID
		p.videoID++

		select {
		case p.frames <- frame:
		default:
			p.log.Debug("frame queue full, dropping frame", "frame_id", frame.FrameID)
		}
	}
}

func (p *HostPipeline) audioLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.audio.Capture()
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}

		frame, err := p.aenc.Encode(raw)
		if err != nil {
			return err
		}
		frame.FrameID = p.audioID
		p.audioID++

		select {
		case p.frames <- frame:
		default:
			p.log.Debug("frame queue full, dropping audio frame", "frame_id", frame.FrameID)
		}
	}
}

func (p *HostPipeline) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-p.frames:
			if err := p.host.Broadcast(frame); err != nil {
				// An unfragmentable frame is an encoder fault, not a
				// transport condition worth killing the stream over.
				p.log.Warn("broadcast failed", "error", err, "frame_id", frame.FrameID)
			}
		}
	}
}

func (p *HostPipeline) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.host.KeyframeRequests():
			p.log.Info("forcing keyframe")
			p.venc.ForceKeyframe()
		default:
		}

		if err := p.host.Poll(pollTimeout); err != nil {
			return err
		}
	}
}

func (p *HostPipeline) bitrateLoop(ctx context.Context) error {
	ticker := time.NewTicker(session.BitrateCheckInterval)
	defer ticker.Stop()

	current := p.bitrate.Target()
	p.metrics.SetTargetBitrate(current)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		maxRTT, ok := p.host.MaxRTT()
		if !ok {
			continue
		}

		next := p.bitrate.Adjust(maxRTT)
		if next == current {
			continue
		}
		p.log.Info("adjusting bitrate", "max_rtt", maxRTT, "from", current, "to", next)
		p.venc.SetBitrate(next)
		p.metrics.SetTargetBitrate(next)
		current = next
	}
}
