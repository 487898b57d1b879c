// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/router"
)

// logFatalf is replaced in tests.
var logFatalf = log.Fatalf

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, router.Dependencies{}); err != nil {
		logFatalf("router: %v", err)
	}
}

// run loads configuration, wires the app and serves until ctx is done.
func run(ctx context.Context, deps router.Dependencies) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.ConfigFile != "" {
		log.Printf("Loaded configuration file %s", cfg.ConfigFile)
	}

	app, err := router.NewApp(ctx, cfg, deps)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
