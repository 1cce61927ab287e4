// Package main is the entry point for the gtodo CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"gtodo/internal/app"
	"gtodo/internal/backend/googletasks"
	"gtodo/internal/cli"
	"gtodo/internal/commands"
	"gtodo/internal/config"
	"gtodo/internal/remote"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Without credentials the app still opens; changes queue until login.
	factory := func(ctx context.Context, cfg *config.Config, logger *log.Entry) (*app.App, error) {
		var gw remote.Gateway
		if cfg.HasOAuthClient() && cfg.HasToken() {
			client, err := googletasks.New(ctx, cfg)
			if err != nil {
				logger.WithError(err).Warn("google tasks unavailable, working offline")
			} else {
				gw = client
			}
		}
		return app.OpenConfig(cfg, gw, logger)
	}

	// Create dispatcher
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, factory)

	// Run and exit with code
	code := dispatcher.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
