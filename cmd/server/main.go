package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sdko-org/filevault/internal/app"
	"github.com/sdko-org/filevault/internal/config"
	httpserver "github.com/sdko-org/filevault/internal/http"
	"github.com/sdko-org/filevault/internal/logging"
)

// multipart framing allowance on top of the upload ceiling
const bodyOverhead = 1 << 20

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, logger, cfg, app.Options{Migrate: true})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.WithError(err).Error("Shutdown error")
		}
	}()

	router := httpserver.NewRouter(logger, a.Routes, a.Router.Handle, a.CORS, cfg.MaxUploadBytes+bodyOverhead)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunSweepers(ctx) })
	g.Go(func() error { return httpserver.Run(ctx, logger, ":"+cfg.Port, router) })

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped")
	}
}
