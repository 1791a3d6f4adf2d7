/*
main.go - Application entry point

PURPOSE:
  Starts the meeting engine HTTP server. Handles configuration, dependency
  wiring and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, MEETINGS_* variables, flags)
  2. Build the logger
  3. Open the SQL store (SQLite or PostgreSQL) and migrate
  4. Wire notifier, engine, bulk runner and forecaster
  5. Start the forecast scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS (override configuration):
  -port    HTTP server port
  -db      Database DSN; for SQLite a file path or ":memory:"
  -env     Path of the .env file (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (ShutdownTimeout)
  3. Stop the scheduler and flush pending notifications
  4. Close the database

EXAMPLES:
  ./server -db="./data/meetings.db"
  MEETINGS_DB_DRIVER=postgres MEETINGS_DSN="postgres://u:p@localhost/crm?sslmode=disable" ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/api"
	"github.com/warp/meeting-engine/config"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/logging"
	"github.com/warp/meeting-engine/notify"
	"github.com/warp/meeting-engine/store/sqlstore"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides MEETINGS_PORT)")
	dsn := flag.String("db", "", "database DSN (overrides MEETINGS_DSN)")
	envFile := flag.String("env", ".env", "path of the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}

	log := logging.New(cfg.LogLevel, cfg.Environment)

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	notifier := notify.NewAsync(notify.NewLogger(log), log)
	engine := lifecycle.NewEngine(store,
		lifecycle.WithNotifier(notifier),
		lifecycle.WithLogger(log),
	)
	bulk := lifecycle.NewBulkRunner(engine, cfg.BulkWorkers)
	forecaster := forecast.New(store,
		forecast.WithLogger(log),
		forecast.WithHistoryMonths(cfg.HistoryMonths),
	)

	scheduler := api.NewForecastScheduler(forecaster, cfg.ForecastCron, cfg.ForecastHorizonMonths, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start forecast scheduler")
	}

	handler := api.NewHandler(store, engine, bulk, forecaster, scheduler, log)
	handler.EnableScenarios = cfg.Environment != "production"
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.DBDriver,
			"env":    cfg.Environment,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	scheduler.Stop()
	notifier.Wait()

	log.Info("server stopped")
}
