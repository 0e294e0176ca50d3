package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/session"
)

// ViewerPipeline runs the viewer side: the client poll loop feeding the
// assembler, plus consumers draining the typed frame channels into the
// decoder and sink. The real sink is a render surface; tests and the
// bundled CLI use counting stand-ins.
type ViewerPipeline struct {
	log    *slog.Logger
	client *session.Client
	dec    media.VideoDecoder // optional
	sink   media.FrameSink    // optional

	videoDelivered int64
	audioDelivered int64
}

// NewViewer assembles a viewer pipeline. dec and sink may be nil to
// consume frames without decoding (useful for headless runs).
func NewViewer(client *session.Client, dec media.VideoDecoder, sink media.FrameSink) *ViewerPipeline {
	return &ViewerPipeline{
		log:    slog.With("component", "viewer-pipeline"),
		client: client,
		dec:    dec,
		sink:   sink,
	}
}

// Run starts the receive and consume loops and blocks until the context
// is cancelled or the session breaks. The client must already be
// connected.
func (p *ViewerPipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.pollLoop(ctx) })
	g.Go(func() error { return p.consumeLoop(ctx) })

	err := g.Wait()
	p.log.Info("viewer stopped",
		"video_frames", p.videoDelivered,
		"audio_frames", p.audioDelivered)
	return err
}

func (p *ViewerPipeline) pollLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.client.Poll(); err != nil {
			return err
		}
	}
}

func (p *ViewerPipeline) consumeLoop(ctx context.Context) error {
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame := <-p.client.Video():
			p.videoDelivered++
			if err := p.renderVideo(frame); err != nil {
				return err
			}

		case frame := <-p.client.Audio():
			p.audioDelivered++
			_ = frame // playback is out of scope; counted for stats

		case <-statsTicker.C:
			p.log.Info("delivery stats",
				"video_frames", p.videoDelivered,
				"audio_frames", p.audioDelivered)
		}
	}
}

func (p *ViewerPipeline) renderVideo(frame *media.EncodedFrame) error {
	if p.dec == nil || p.sink == nil {
		return nil
	}
	raw, err := p.dec.Decode(frame)
	if err != nil {
		// A corrupt frame decodes badly, it does not end the session.
		p.log.Debug("decode failed", "frame_id", frame.FrameID, "error", err)
		return nil
	}
	return p.sink.Deliver(raw)
}
