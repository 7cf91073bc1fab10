// Command processor runs a single aggregation pass and exits. It is the
// batch entrypoint for cron or CI schedulers; the server runs the same
// pipeline on its own timer.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/nicktill/tinygarden/pkg/config"
	"github.com/nicktill/tinygarden/pkg/logger"
	"github.com/nicktill/tinygarden/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(logger.ErrorLevel).Fatalw("failed to load configuration", "error", err)
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	store, err := server.InitializeStatestore(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize statestore", "error", err)
	}
	defer store.Close()

	registry, err := server.InitializeRegistry(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize event log registry", "error", err)
	}

	pipe, err := server.InitializePipeline(registry, store, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize pipeline", "error", err)
	}

	start := time.Now()
	if err := pipe.Run(context.Background()); err != nil {
		log.Errorw("pipeline run failed", "error", err)
		store.Close()
		os.Exit(1)
	}
	log.Infow("pipeline run finished", "duration", time.Since(start).Round(time.Millisecond).String())
}
