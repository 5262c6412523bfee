// Command meshupd is the update-dispatcher daemon: it loads a site config,
// builds one policy graph per site, and serves the redirect/diagnostics
// HTTP routes described in SPEC_FULL.md. Wiring mirrors
// original_source/src/main.rs (config -> site map -> background tasks ->
// readiness notification -> HTTP listener), translated into the teacher's
// single-Cobra-command entrypoint shape (cmd/mup/main.go).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freifunk-updates/meshupd/internal/config"
	"github.com/freifunk-updates/meshupd/internal/decision"
	"github.com/freifunk-updates/meshupd/internal/httpapi"
	"github.com/freifunk-updates/meshupd/internal/logging"
	"github.com/freifunk-updates/meshupd/internal/metrics"
	"github.com/freifunk-updates/meshupd/internal/orchestrator"
)

var configPath string

// httpShutdownGrace bounds how long the HTTP listener is given to drain
// in-flight requests once a shutdown signal arrives.
const httpShutdownGrace = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "meshupd",
	Short: "Topology-aware firmware update dispatcher for a wireless mesh",
	Long: `meshupd rolls a firmware update outward from the leaves of a mesh
network toward its gateways: it classifies every router into one of four
update states from a periodically refreshed topology snapshot, and answers
per-router redirect requests accordingly.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (required)")
	_ = rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("meshupd: failed to load config")
		os.Exit(1)
	}

	reg := metrics.New()

	orch, err := orchestrator.New(cfg, log, reg)
	if err != nil {
		log.WithError(err).Error("meshupd: failed to prepare sites")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.InitialBuildAll(ctx); err != nil {
		log.WithError(err).Error("meshupd: initial graph build failed, refusing to start")
		os.Exit(1)
	}

	decisionSvc := &decision.Service{Sites: orch, Metrics: reg, Log: log}
	server := &httpapi.Server{
		Decision:    decisionSvc,
		Diagnostics: orch,
		Metrics:     reg.Handler(),
		Log:         log,
	}

	httpServer := &http.Server{Addr: cfg.Listen, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("meshupd: starting HTTP listener")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if err := orchestrator.NotifyReady(); err != nil {
		log.WithError(err).Debug("meshupd: readiness notification not delivered (not running under systemd?)")
	}

	go func() {
		if err := orch.Run(ctx); err != nil {
			log.WithError(err).Error("meshupd: orchestrator stopped")
		}
	}()

	select {
	case err := <-errCh:
		log.WithError(err).Error("meshupd: HTTP listener failed")
		os.Exit(1)
	case <-ctx.Done():
		log.Info("meshupd: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	return nil
}
