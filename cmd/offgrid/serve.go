package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"offgrid/internal/offgrid"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the current generation and run the proxy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := offgrid.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err := offgrid.NewLogger(&cfg, os.Stderr)
		if err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}

		svc, err := offgrid.NewService(cfg, logger)
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start: %w", err)
		}

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		srv := &http.Server{
			Handler:           h2c.NewHandler(svc.Handler(), &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info().Str("addr", addr).Str("origin", cfg.Server.Origin).Str("generation", cfg.Generation).Msg("offgrid listening")
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("server error")
				stop()
			}
		}()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", getenvDefault("OFFGRID_CONFIG", "/offgrid.yaml"), "path to offgrid.yaml")
}
