package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hirekarma/feature-access-service/internal/config"
	"github.com/hirekarma/feature-access-service/internal/di"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		return application.RunMigrationOnly()
	}
	return application.Run(ctx)
}
