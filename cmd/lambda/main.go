package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/sdko-org/filevault/internal/app"
	"github.com/sdko-org/filevault/internal/config"
	"github.com/sdko-org/filevault/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stdout)

	ctx := context.Background()
	a, err := app.New(ctx, logger, cfg, app.Options{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	// Sweepers live as long as the execution environment.
	go func() {
		if err := a.RunSweepers(ctx); err != nil {
			logger.WithError(err).Error("Sweepers stopped")
		}
	}()

	lambda.Start(a.Router.Handle)
}
