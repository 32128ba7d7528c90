package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transit-planner/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner web page and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			return serve(cmd.Context(), addr, open, server.Config{Settings: cfg, Logger: logger}, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&open, "open", false, "open the page in a browser")
	return cmd
}

func serve(ctx context.Context, addr string, open bool, cfg server.Config, logger *zap.Logger) error {
	cfg.Addr = addr
	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	actualAddr, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if open {
		// Open browser after a short delay to ensure server is ready
		go func() {
			time.Sleep(500 * time.Millisecond)
			url := fmt.Sprintf("http://%s", actualAddr)
			if err := openBrowser(url); err != nil {
				logger.Warn("could not open browser", zap.Error(err))
			} else {
				logger.Info("opened browser", zap.String("url", url))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default: // linux, freebsd, etc.
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
