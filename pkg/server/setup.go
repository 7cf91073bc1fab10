package server

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/nicktill/tinygarden/pkg/config"
	"github.com/nicktill/tinygarden/pkg/eventlog"
	"github.com/nicktill/tinygarden/pkg/pipeline"
	"github.com/nicktill/tinygarden/pkg/sessions"
	"github.com/nicktill/tinygarden/pkg/statestore"
	"github.com/nicktill/tinygarden/pkg/statestore/badger"
)

// InitializeStatestore opens the badger-backed document store under the
// configured state directory.
func InitializeStatestore(cfg config.Config, logger *zap.SugaredLogger) (statestore.Store, error) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	store, err := badger.New(badger.Config{
		Path:        cfg.StateDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open statestore: %w", err)
	}
	logger.Infow("statestore initialized", "path", cfg.StateDir)
	return store, nil
}

// InitializeRegistry creates the shared event log registry rooted at the
// data directory.
func InitializeRegistry(cfg config.Config, logger *zap.SugaredLogger) (*eventlog.Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logger.Infow("event log registry ready", "dir", cfg.DataDir, "max_entries", cfg.MaxMemoryEntries)
	return eventlog.NewRegistry(cfg.DataDir, cfg.MaxMemoryEntries, logger), nil
}

// InitializePipeline assembles the aggregation pipeline, loading model
// pricing when a pricing file is configured.
func InitializePipeline(registry *eventlog.Registry, store statestore.Store, cfg config.Config, logger *zap.SugaredLogger) (*pipeline.Pipeline, error) {
	var pricing sessions.Pricing
	if cfg.PricingPath != "" {
		var err error
		pricing, err = sessions.LoadPricing(cfg.PricingPath)
		if err != nil {
			return nil, err
		}
		logger.Infow("model pricing loaded", "path", cfg.PricingPath, "models", len(pricing.Models))
	}

	return pipeline.New(registry, store, pipeline.Config{
		SessionsDir:      cfg.SessionsDir,
		Pricing:          pricing,
		HourlyCutoffDays: cfg.HourlyCutoffDays,
	}, logger), nil
}

// CORSMiddleware restricts cross-origin API access to localhost origins.
func CORSMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
