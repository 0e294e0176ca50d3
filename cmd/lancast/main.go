package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lancast/lancast/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = config.Load()
	setupLogging(config.GetEnv(config.EnvLogLevel, "info"))

	rootCmd := &cobra.Command{
		Use:   "lancast",
		Short: "Low-latency screen and audio streaming over the local network",
		Long: `lancast streams a host's screen and audio to viewers on the same
LAN over a lightweight UDP protocol. Run "lancast host" on the machine
to share and "lancast view" on each viewer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		hostCmd(),
		viewCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	if os.Getenv("DEBUG") != "" {
		level = "debug"
	}
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
