// Command framelinkd moves framelink packets between a serial device, UDP
// peers and Redis, journaling and capturing the traffic on the way.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/framelink/internal/config"
	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to YAML configuration file")
	devMode     = flag.Bool("dev", false, "Run in dev mode with a simulated serial device")
	listen      = flag.String("listen", "", "HTTP listen address (overrides http.listen)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}

	logger, err := monitoring.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	monitoring.UseLogrus(logger)
	logger.WithField("version", version.Get().Version).Info("starting framelinkd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, *devMode)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info("graceful shutdown complete")
}
