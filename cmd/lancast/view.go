package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lancast/lancast/internal/config"
	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/pipeline"
	"github.com/lancast/lancast/internal/protocol"
	"github.com/lancast/lancast/internal/session"
	"github.com/lancast/lancast/internal/transport"
)

func viewCmd() *cobra.Command {
	var (
		hostAddr string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Watch a stream from a host on the LAN",
		Long: `Connect to a running lancast host and receive its stream. Without a
render backend the frames are received, reassembled, and counted,
which is useful for link testing.

Examples:
  lancast view --host=192.168.1.10
  lancast view --host=192.168.1.10 --port=9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(hostAddr, port)
		},
	}

	cmd.Flags().StringVarP(&hostAddr, "host", "H", "", "Host address to connect to (required)")
	cmd.Flags().IntVarP(&port, "port", "p", config.GetEnvInt(config.EnvPort, protocol.DefaultPort), "Host UDP port")
	cmd.MarkFlagRequired("host")

	return cmd
}

func runView(hostAddr string, port int) error {
	conn, err := transport.Dial()
	if err != nil {
		return fmt.Errorf("opening udp socket: %w", err)
	}
	defer conn.Close()

	client := session.NewClient(conn, slog.Default(), metrics.New())
	if err := client.Connect(hostAddr, port); err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", hostAddr, port, err)
	}
	defer client.Disconnect()

	cfg := client.StreamConfig()
	slog.Info("connected",
		"host", hostAddr,
		"port", port,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	viewer := pipeline.NewViewer(client, nil, nil)
	err = viewer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("viewer stopped")
		return nil
	}
	return err
}
