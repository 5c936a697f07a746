// Avia - Fraud investigation for insurance claims.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/avia/internal/config"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/telemetry"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "avia",
	Short: "Fraud investigation backend for insurance claims",
	Long: "Avia scores insurance claims into claim, customer and pattern risk buckets,\n" +
		"flags them with per-organization rules and tracks investigator decisions.\n" +
		"Run without a subcommand to start the API server.",
	SilenceUsage: true,
	RunE:         runServe,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the process logger writing to w.
func setup(w io.Writer) (*domain.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Options{Path: configPath})
	if err != nil {
		return nil, nil, err
	}
	logger := telemetry.NewLogger(cfg.Logging, w)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "avia %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}
