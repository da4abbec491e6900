/*
main.go - Application entry point

PURPOSE:
  Starts the Umbra earnings engine server: HTTP API plus the cron
  scheduler for the hold/burn sweep and the shift auto-closer.

STARTUP SEQUENCE:
  1. Load .env (if present) and the environment into config.Config
  2. Build the zap logger
  3. Open the store, Redis locker and AMQP publisher (see bootstrap)
  4. Start the scheduler (SCHEDULER_ENABLED)
  5. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for a running job to finish
  2. Stop accepting connections and drain requests (30s timeout)
  3. Close the AMQP channel, Redis client and database

ENVIRONMENT:
  See config/config.go. The usual ones:
    HTTP_PORT, DB_DRIVER, DB_PATH, DATABASE_URL, REDIS_URL, AMQP_URL,
    REFERENCE_TIMEZONE, REFERENCE_DATA_FILE, LOG_LEVEL, LOG_FORMAT

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Cron jobs
  - bootstrap/bootstrap.go: Store and engine wiring
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/umbra/earnings-engine/api"
	"github.com/umbra/earnings-engine/bootstrap"
	"github.com/umbra/earnings-engine/config"
	"github.com/umbra/earnings-engine/logging"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var sched *api.Scheduler
	if cfg.SchedulerEnabled {
		sched, err = api.NewScheduler(app.Engine, cfg.SweepSchedule, cfg.AutoCloseSchedule, logger)
		if err != nil {
			return err
		}
		sched.Start()
	}

	var resetter api.Resetter
	if cfg.ScenariosEnabled {
		resetter = app.Store
		logger.Warn("demo scenarios enabled: POST /api/scenarios/load wipes the database")
	}
	handler := api.NewHandler(app.Engine, resetter, logger)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(handler, cfg.Origins()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("db", cfg.DBDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if sched != nil {
		<-sched.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
