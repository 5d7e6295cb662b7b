package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/anstrom/mcscan/internal/config"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
)

const (
	metricsUpdateInterval  = 15 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

// session is what a command operates on: the loaded configuration and a
// migrated store.
type session struct {
	cfg    *config.Config
	db     *db.DB
	repo   *db.Repository
	logger *logging.Logger
}

// SessionOperation represents a function that operates on an open session.
type SessionOperation func(ctx context.Context, s *session) error

// withSession loads the configuration, connects to the store, applies
// pending migrations and runs operation. The connection is closed
// afterwards.
func withSession(ctx context.Context, operation SessionOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	database, err := db.ConnectAndMigrate(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(ctx, &session{
		cfg:    cfg,
		db:     database,
		repo:   db.NewRepository(database),
		logger: logging.Default(),
	})
}

// startMetricsServer serves the global metrics on the configured address
// when the metrics endpoint is enabled. The returned function stops it.
func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, logger *logging.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	m := metrics.GetGlobalMetrics()
	ctx, cancel := context.WithCancel(ctx)
	go m.StartPeriodicUpdates(ctx, metricsUpdateInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	}
}
