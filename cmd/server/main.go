package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/config"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/dispatch"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/events"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/geo"
	httpapi "github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/http"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/ledger"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/logging"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/payments"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/sweeper"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/waypoints"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var store ledger.Store
	if cfg.PGDSN != "" {
		ps, err := ledger.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		logger.Info("using postgres ledger")
	} else {
		store = ledger.NewMemoryStore()
		logger.Info("using in-memory ledger")
	}

	dir := waypoints.Defaults()
	if cfg.WaypointsFile != "" {
		dir, err = waypoints.LoadFile(cfg.WaypointsFile)
		if err != nil {
			logger.Error("waypoints load failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("waypoint directory loaded", "names", dir.Names())

	svc := dispatch.NewService(store, dir, logger)
	svc.Window = cfg.ExpirationWindow
	svc.Fare = cfg.Fare

	if cfg.RedisAddr != "" {
		svc.Locations = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		svc.Locations = geo.NewIndex()
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic, cfg.KafkaLocationTopic)
		defer producer.Close()
		svc.Events = producer
	}

	if os.Getenv("STRIPE_API_KEY") != "" {
		svc.Payments = payments.NewStripeClient()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(store, cfg.SweepInterval, cfg.ExpirationWindow, logger)
	go sw.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
