package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/payrecon/internal/config"
	"github.com/mihaimyh/payrecon/internal/server"
)

func serveCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and checkout HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	logger := newLogger(cfg)

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer app.Close()

	return server.Run(ctx, cfg.HTTPAddr, app.Handler, shutdownTimeout, logger)
}
