package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/envoy/internal/config"
)

var (
	cfg       config.Config
	flowsPath string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "envoy",
	Short: "Outreach and lead-collection agent for chat platforms",
	Long: `envoy greets users scraped from chat groups, holds goal-driven dialogs
with the ones who answer and saves the contact details they leave.

Run "envoy serve" for the service or "envoy menu" for the console.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if flowsPath != "" {
			cfg.FlowsPath = flowsPath
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if cmd == serveCmd {
			setupLogging(cfg.LogLevel, os.Stdout, true)
		} else {
			setupLogging(cfg.LogLevel, os.Stderr, false)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flowsPath, "flows", "", "dialog flow document (overrides ENVOY_FLOWS_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, chatCmd, scrapeCmd, sendCmd, statsCmd, menuCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("envoy failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs the default logger. The service logs JSON to
// stdout; console commands log text to stderr so the transcript stays
// readable.
func setupLogging(level string, w io.Writer, asJSON bool) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
