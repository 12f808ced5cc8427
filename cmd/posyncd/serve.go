package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/api"
	"github.com/cuemby/posyncd/pkg/log"
	"github.com/cuemby/posyncd/pkg/metrics"
)

var healthAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization engine's background scheduler and health server",
	Long: `serve starts the engine's five periodic background tasks
(high-priority and normal drain-plus-hydration, low-priority passive
drain, dead-letter reaper, stuck-sync watchdog) plus the network
monitor, and serves /health, /ready, and
/metrics until interrupted. This is the long-running mode a host
application's background process would use; the other subcommands are
one-shot local-cache operations for demo/exercise purposes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&forceServer, "force-server", false, "accept the remote's state unconditionally during conflict resolution")
	serveCmd.Flags().StringVar(&probeHost, "probe-host", "1.1.1.1", "host resolved by the network monitor to test internet reachability")
	serveCmd.Flags().StringVar(&healthAddr, "health-addr", ":8080", "address for the /health, /ready, and /metrics endpoints")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	metrics.RegisterComponent("cache", true, "loaded")
	metrics.RegisterComponent("outbox", true, "loaded")
	metrics.RegisterComponent("remote", true, "connected")

	hs := api.NewHealthServer(e)
	go func() {
		if err := hs.Start(healthAddr); err != nil && err != http.ErrServerClosed {
			log.WithComponent("serve").Error().Err(err).Msg("health server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.Start(ctx)
	log.WithComponent("serve").Info().Str("org", organizationID).Str("dataDir", dataDir).Msg("posyncd running")

	<-ctx.Done()
	log.WithComponent("serve").Info().Msg("shutting down")
	return e.Shutdown()
}
