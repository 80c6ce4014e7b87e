// Puente is the MQTT→HTTP bridge daemon for the field sensor network.
// It subscribes to the node telemetry topics, aggregates partial readings
// per node, and forwards complete records to the collection server.
//
// Usage:
//
//	puente [flags]
//	puente --config /path/to/puente.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/proyecto-redes/puente/internal/bridge"
	"github.com/proyecto-redes/puente/internal/config"
	"github.com/proyecto-redes/puente/internal/forward"
	"github.com/proyecto-redes/puente/internal/health"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/puente.local.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("puente %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("puente starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	forwarder := forward.NewClient(cfg.Server.Timeout())
	br := bridge.New(cfg, forwarder)

	// Start the status server.
	statusServer := health.New(cfg.Status.Port, br.Stats)
	go func() {
		if err := statusServer.ListenAndServe(ctx); err != nil {
			slog.Error("status server failed", "error", err)
		}
	}()

	// Mark ready once the subscription is acknowledged.
	go func() {
		select {
		case <-br.Running():
			statusServer.SetReady(true)
		case <-ctx.Done():
		}
	}()

	// Run blocks until the shutdown signal, then drains and stops.
	if err := br.Run(ctx); err != nil {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
	statusServer.SetReady(false)
}
