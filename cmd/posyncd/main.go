// Command posyncd is a demo harness for the offline-first
// synchronization core: it opens (or creates) a device's local BoltDB
// store, wires an Engine over an in-memory remote store stand-in, and
// exposes the public API as cobra subcommands. It is not part of
// the core's tested contract — a host mobile application would embed the
// engine directly instead of shelling out to this binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/log"
	"github.com/cuemby/posyncd/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	dataDir        string
	organizationID string
	configPath     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "posyncd",
	Short: "Offline-first point-of-sale synchronization engine",
	Long: `posyncd drives the offline-first synchronization core: a client-side
state engine that accepts mutations while disconnected, reconciles them
atomically against a remote document store when connectivity returns, and
guarantees causal consistency across multiple devices sharing one
organization.`,
	Version:           Version,
	PersistentPreRunE: loadConfigInto,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("posyncd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a posyncd YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./posyncd-data", "directory holding this device's local BoltDB store")
	rootCmd.PersistentFlags().StringVar(&organizationID, "org", "", "organization id to scope reads/writes to (required)")

	initLogging()
	metrics.SetVersion(Version)
}

func initLogging() {
	level := log.InfoLevel
	if os.Getenv("POSYNCD_DEBUG") == "1" {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: os.Getenv("POSYNCD_JSON_LOGS") == "1"})
}
