package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lancast/lancast/internal/api"
	"github.com/lancast/lancast/internal/config"
	"github.com/lancast/lancast/internal/media"
	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/pipeline"
	"github.com/lancast/lancast/internal/protocol"
	"github.com/lancast/lancast/internal/session"
	"github.com/lancast/lancast/internal/transport"
)

const apiShutdownTimeout = 5 * time.Second

func hostCmd() *cobra.Command {
	var (
		port      int
		fps       int
		bitrate   int
		width     int
		height    int
		apiAddr   string
		synthetic bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share this machine's stream with LAN viewers",
		Long: `Start a streaming host. Viewers on the same network connect with
"lancast view --host <this machine's address>".

The --api flag additionally serves Prometheus metrics and a JSON
viewer list over HTTP.

Examples:
  lancast host --synthetic
  lancast host --synthetic --port=9000 --fps=60
  lancast host --synthetic --api=:4444`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(port, fps, bitrate, width, height, apiAddr, synthetic)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", config.GetEnvInt(config.EnvPort, protocol.DefaultPort), "UDP port to listen on")
	cmd.Flags().IntVar(&fps, "fps", config.GetEnvInt(config.EnvFPS, 30), "Capture frame rate")
	cmd.Flags().IntVar(&bitrate, "bitrate", config.GetEnvInt(config.EnvBitrate, 6_000_000), "Initial video bitrate in bits per second")
	cmd.Flags().IntVar(&width, "width", 1920, "Stream width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "Stream height in pixels")
	cmd.Flags().StringVar(&apiAddr, "api", config.GetEnv(config.EnvAPIAddr, ""), "HTTP status/metrics listen address (empty disables)")
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "Stream a generated test pattern instead of capturing the screen")

	return cmd
}

func runHost(port, fps, bitrate, width, height int, apiAddr string, synthetic bool) error {
	// Screen capture and hardware codecs are platform backends that
	// plug in behind the media interfaces. The built-in backend is the
	// synthetic test pattern.
	if !synthetic {
		return errors.New("no capture backend is built in, run with --synthetic")
	}
	if fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", fps)
	}

	conn, err := transport.Listen(port)
	if err != nil {
		return fmt.Errorf("binding udp port %d: %w", port, err)
	}
	defer conn.Close()

	cfg := media.DefaultStreamConfig()
	cfg.Width = uint32(width)
	cfg.Height = uint32(height)
	cfg.FPS = uint32(fps)
	cfg.VideoBitrate = uint32(bitrate)

	video := pipeline.NewSyntheticVideoSource(cfg.Width, cfg.Height)
	venc := pipeline.NewPassthroughVideoEncoder()
	audio := pipeline.NewSyntheticAudioSource(cfg.AudioSampleRate, cfg.AudioChannels)
	aenc := pipeline.NewPassthroughAudioEncoder()
	defer video.Close()
	defer venc.Close()
	defer audio.Close()
	defer aenc.Close()
	cfg.CodecData = venc.CodecData()

	m := metrics.New()
	host := session.NewHost(conn, cfg, slog.Default(), m)
	ctrl := session.NewBitrateController(uint32(bitrate))
	pipe := pipeline.NewHost(host, video, venc, audio, aenc, uint32(fps), ctrl, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if apiAddr != "" {
		srv := api.NewHandler(host, slog.Default(), m).Serve(apiAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("lancast host starting",
		"version", version,
		"port", port,
		"fps", fps,
		"bitrate", bitrate,
		"resolution", fmt.Sprintf("%dx%d", width, height),
	)

	err = pipe.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("host stopped")
		return nil
	}
	return err
}
