package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinygarden/pkg/config"
	"github.com/nicktill/tinygarden/pkg/logger"
	"github.com/nicktill/tinygarden/pkg/server"
	"github.com/nicktill/tinygarden/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
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

	log.Infow("starting tinygarden server", "port", cfg.Port, "data_dir", cfg.DataDir)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	hub := server.NewEventsHub(log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Infow("websocket hub started")

	pipelineMonitor := &monitor.PipelineMonitor{}
	stopPipeline := make(chan bool)
	wg.Add(1)
	go server.RunPipeline(pipe, pipelineMonitor, log, stopPipeline, &wg)
	log.Infow("pipeline scheduler started", "interval", config.PipelineInterval.String())

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, log, stopGC, &wg)

	router := mux.NewRouter()
	router.Use(server.CORSMiddleware(cfg.Port))

	api := server.NewServer(registry, store, hub, pipelineMonitor, log)
	api.Routes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Infow("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutdown signal received")

	// Cancel before wg.Wait or the hub goroutine never exits
	cancel()
	close(stopPipeline)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server shutdown warning", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infow("all background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warnw("some background tasks did not stop in time, forcing exit")
	}

	log.Infow("tinygarden server exited")
}
