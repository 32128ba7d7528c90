package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"transit-planner/internal/config"
	"transit-planner/internal/logging"
	"transit-planner/internal/server"
)

// App struct holds the Wails application state
type App struct {
	ctx    context.Context
	server *server.Server
	url    string
	logger *zap.Logger
}

// NewApp loads the settings and starts the planner server on a random local port
func NewApp() (*App, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewNamed(cfg.Log.Env, "desktop")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	// Start the HTTP server immediately (before window opens)
	srv, err := server.New(server.Config{
		Addr:     "127.0.0.1:0", // 0 = random available port
		Settings: cfg,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	addr, err := srv.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	app := &App{server: srv, url: fmt.Sprintf("http://%s", addr), logger: logger}
	logger.Info("internal HTTP server running", zap.String("url", app.url))
	return app, nil
}

// ServerURL returns the address of the embedded planner page
func (a *App) ServerURL() string {
	return a.url
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	// Navigate the WebView to the internal server immediately
	go func() {
		runtime.WindowExecJS(ctx, fmt.Sprintf(`window.location.href = "%s"`, a.url))
	}()
}

// shutdown is called when the app closes
func (a *App) shutdown(ctx context.Context) {
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down server", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
