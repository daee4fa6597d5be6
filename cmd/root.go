// Package cmd implements the sitememo command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool

	// logLevel is shared by every handler so hot reload can change it.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "sitememo",
	Short: "Per-site notes and templates for the browser",
	Long: "sitememo keeps one rich-text memo per website plus reusable templates.\n" +
		"Run 'sitememo serve' for the browser gateway, or use the subcommands to manage data directly.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $SITEMEMO_CONFIG or ~/.sitememo/config.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(memosCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(selectionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sitememo %s\n", Version)
		},
	}
}

// setupLogging installs the slog default handler described by cfg.
func setupLogging(cfg config.LogConfig) {
	applyLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func applyLogLevel(level string) {
	if verbose {
		logLevel.Set(slog.LevelDebug)
		return
	}
	logLevel.Set(parseLogLevel(level))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
