/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Load the rule book (file or built-in default)
  5. Wire the commission service and API handler
  6. Start the recompute scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: commissions.db)
              Use ":memory:" for in-memory database
  -log        Log mode: production or debug
  -rules      JSON rule book file (default: built-in table)
  -recompute  Background recompute interval, 0 disables (default: 1h)
  -cors       Comma-separated allowed origins

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the recompute scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/commissions.db" -rules=rules.json
  ./server -db=":memory:" -log=debug

ENVIRONMENT:
  PORT, DATABASE_PATH, LOG_MODE, RULES_FILE, RECOMPUTE_INTERVAL, CORS_ORIGINS.
  Flags win over environment.

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/logging"
	"github.com/warp/commission-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.EnvFileLoaded {
		log.Debug("loaded .env file")
	}

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	defer store.Close()

	rules := commission.DefaultRuleBook()
	if cfg.RulesFile != "" {
		rules, err = factory.NewRuleFactory().LoadRuleBook(cfg.RulesFile)
		if err != nil {
			log.Fatal("failed to load rule book", zap.String("file", cfg.RulesFile), zap.Error(err))
		}
	}
	log.Info("rule book ready",
		zap.String("active", rules.Active().Version),
		zap.Strings("versions", rules.Versions()))

	svc := commission.NewService(commission.Options{
		Store:        store,
		Rules:        rules,
		Participants: store,
		Owners:       store,
		Audit:        store,
		Logger:       log,
	})

	handler := api.NewHandler(svc, store, log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	scheduler := api.NewRecomputeScheduler(svc, log)
	scheduler.CheckInterval = cfg.RecomputeInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("server stopped")
}
