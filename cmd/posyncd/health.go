package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/metrics"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print this process's component health registry",
	Long: `health registers this device's cache/outbox/remote components, the
same way serve does before listening, and prints the resulting
health/readiness snapshot. Useful for scripting a pre-flight check
without standing up the HTTP server.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	metrics.RegisterComponent("cache", true, "loaded")
	metrics.RegisterComponent("outbox", true, "loaded")
	metrics.RegisterComponent("remote", true, "connected")

	health := metrics.GetHealth()
	fmt.Printf("status:  %s\n", health.Status)
	fmt.Printf("version: %s\n", health.Version)
	fmt.Printf("uptime:  %s\n", health.Uptime)
	for name, state := range health.Components {
		fmt.Printf("  %-8s %s\n", name, state)
	}

	readiness := metrics.GetReadiness()
	fmt.Printf("ready:   %s\n", readiness.Status)
	return nil
}
