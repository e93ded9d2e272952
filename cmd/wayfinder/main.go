// wayfinder: a weighted knowledge graph that learns which paths are worth
// taking.
//
// Agents pick edges one hop at a time, report how each hop went, and the
// graph learns shared weights and per-agent affinity from those outcomes
// and from usefulness marks on parsed events.
//
// Usage:
//
//	wayfinder serve              # Start the MCP server (stdio transport)
//	wayfinder ingest events.json # Feed signal records and flush learning
//	wayfinder snapshot           # Print the graph as JSON
//	wayfinder decay              # Run one link-strength decay cycle
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/config"
	"github.com/HendryAvila/wayfinder/internal/logging"
	wfserver "github.com/HendryAvila/wayfinder/internal/server"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wayfinder",
	Short: "Weighted graph traversal with online weight learning",
	Long: `wayfinder keeps a weighted knowledge graph in memory, backed by SQLite.

Agents ask for the next edge to traverse, report whether the hop was useful,
and the graph learns from it: per-agent affinity immediately, shared weights
in batches through a single writer.

Run "wayfinder serve" to expose the graph to an MCP client over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "init", "help":
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Log.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wayfinder v%s\n", wfserver.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "Write the snapshot to a file instead of stdout")
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
