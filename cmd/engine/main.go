package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"analyticsengine/internal/app"
	"analyticsengine/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("Engine stopped with error: %v", err)
	}
}
