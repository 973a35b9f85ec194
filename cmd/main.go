package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"boardsync-backend/internal/api"
	"boardsync-backend/internal/api/routes"
	v1 "boardsync-backend/internal/api/routes/v1"
	"boardsync-backend/internal/config"
	"boardsync-backend/internal/libraries"
	"boardsync-backend/internal/repo"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	if err := config.ConnectDB(cfg.DatabaseURL); err != nil {
		return err
	}
	defer config.CloseDB()

	// Run migrations
	if err := config.MigrateAllModels(cfg.AutoMigrate); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := libraries.HubOptions{
		Store:         repo.NewBoardRepository(config.DB),
		Metrics:       libraries.NewMetrics(reg),
		Logger:        slog.Default(),
		DiffChunkSize: cfg.DiffChunkSize,
	}
	if cfg.RedisAddr != "" {
		feed, err := libraries.NewRedisFeed(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer feed.Close()
		opts.Feed = feed
	}
	hub := libraries.NewHub(opts)
	go hub.Run(ctx)

	deps := v1.Deps{DB: config.DB, Hub: hub}
	if cfg.GCSBucket != "" {
		clients, err := libraries.NewClients(ctx, cfg.GCSBucket)
		if err != nil {
			return err
		}
		defer clients.Close()
		deps.Archiver = clients
	}

	if cfg.MDNSService != "" {
		port, _ := strconv.Atoi(cfg.Port)
		if err := libraries.Advertise(ctx, cfg.MDNSService, port); err != nil {
			slog.Warn("mDNS advertisement disabled", "error", err)
		}
	}

	// Create and configure Fiber app
	app := api.NewServer()

	// Register routes
	routes.Register(app, deps, reg)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		app.Shutdown()
	}()

	// Start server
	return api.StartServer(app, cfg.Port)
}
