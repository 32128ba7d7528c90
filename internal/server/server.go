// Package server wires the planner's collaborators together and serves the page and
// the JSON API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"transit-planner/internal/config"
	"transit-planner/internal/controller"
	"transit-planner/internal/geocoding"
	"transit-planner/internal/handlers"
	"transit-planner/internal/models"
	"transit-planner/internal/routing"
	"transit-planner/internal/session"
	"transit-planner/internal/sqlite"
	"transit-planner/web"
)

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	sessions   *session.Store
	store      *sqlite.Store
	listener   net.Listener
	addr       string
	retention  time.Duration
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Addr     string // e.g., "127.0.0.1:8080" or "127.0.0.1:0" for random port
	Settings config.Config
	Logger   *zap.Logger
}

// New creates and initializes a new server (does not start it)
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := cfg.Settings
	if cfg.Addr == "" {
		cfg.Addr = settings.Server.Addr
	}

	var store *sqlite.Store
	if settings.Store.Path != "" {
		logger.Info("initializing search store", zap.String("path", settings.Store.Path))
		var err error
		store, err = sqlite.New(settings.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize search store: %w", err)
		}
	}

	srv, err := build(cfg, logger, store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return srv, nil
}

func build(cfg Config, logger *zap.Logger, store *sqlite.Store) (*Server, error) {
	settings := cfg.Settings

	templates, err := loadTemplates(web.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	appURL := &url.URL{Path: "/"}
	if settings.Server.BaseURL != "" {
		if appURL, err = url.Parse(settings.Server.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid server base url: %w", err)
		}
	}

	deps, router, err := NewDeps(settings, logger)
	if err != nil {
		return nil, err
	}
	var states session.StateReader
	h := &handlers.Handler{Templates: templates, Logger: logger.Named("http")}
	if store != nil {
		deps.Mirror = store
		states = store
		h.History = store
		h.Health = store
	}

	sessions := session.New(session.Config{
		TTL:      settings.Session.TTL,
		Cleanup:  settings.Session.Cleanup,
		AppURL:   appURL,
		RouteURL: router.RouteURL(),
	}, deps, states)
	h.Sessions = sessions

	engine, err := setupRoutes(h, web.Static, logger)
	if err != nil {
		return nil, err
	}

	handler := newCORS(settings.Server.AllowedOrigins).Handler(engine)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		handler:   handler,
		sessions:  sessions,
		store:     store,
		addr:      cfg.Addr,
		retention: settings.Store.Retention,
		logger:    logger,
	}, nil
}

// NewDeps builds the geocoder and routing client described by settings. The routing
// client is returned as well for its route base URL.
func NewDeps(settings config.Config, logger *zap.Logger) (controller.Deps, *routing.Client, error) {
	geocoder := geocoding.NewNominatimResolver(geocoding.Config{
		BaseURL:     settings.Geocoding.BaseURL,
		UserAgent:   settings.Geocoding.UserAgent,
		Timeout:     settings.HTTP.Timeout,
		MinInterval: settings.Geocoding.MinInterval,
	}, logger)
	router, err := routing.NewClient(routing.Config{
		BaseURL: settings.Routing.BaseURL,
		Timeout: settings.HTTP.Timeout,
	}, logger)
	if err != nil {
		return controller.Deps{}, nil, err
	}
	return controller.Deps{
		Geocoder: geocoder,
		Fetcher:  router,
		Info:     router,
		Logger:   logger,
	}, router, nil
}

// Handler returns the HTTP handler, for serving without a listener
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	if s.store != nil && s.retention > 0 {
		if _, err := s.store.Prune(context.Background(), time.Now().Add(-s.retention)); err != nil {
			s.logger.Warn("failed to prune old sessions", zap.Error(err))
		}
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	s.logger.Info("starting server", zap.String("addr", actualAddr))

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Template helper functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"add": func(a, b int) int {
			return a + b
		},
		"toJSON": func(v interface{}) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "{}"
			}
			return string(b)
		},
		"formatDistance": func(meters float64) string {
			if meters < 1000 {
				return fmt.Sprintf("%.0f m", meters)
			}
			return fmt.Sprintf("%.1f km", meters/1000)
		},
		"formatDuration": func(d time.Duration) string {
			d = d.Round(time.Minute)
			hours := int(d / time.Hour)
			mins := int((d % time.Hour) / time.Minute)
			if hours == 0 {
				return fmt.Sprintf("%d min", mins)
			}
			return fmt.Sprintf("%dh %02dmin", hours, mins)
		},
		"formatClock": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("15:04")
		},
		"datetimeLocal": func(t time.Time) string {
			return t.UTC().Format(handlers.DateTimeLocalLayout)
		},
		"minutes": func(d time.Duration) int {
			return int(d / time.Minute)
		},
		"locationValue": func(l models.Location) string {
			if c, ok := l.Coords(); ok {
				return fmt.Sprintf("%g,%g", c.Lat, c.Lon)
			}
			return l.Text()
		},
		"deref": func(b *bool) bool {
			return b != nil && *b
		},
		"profileOptions": profileOptions,
		"legLabel": func(l models.Leg) string {
			switch l.Type {
			case "pt":
				if l.TripHeadsign != "" {
					return "Transit towards " + l.TripHeadsign
				}
				return "Transit"
			case "walk":
				return "Walk"
			default:
				return l.Type
			}
		},
	}
}

var defaultProfiles = []string{"foot", "bike", "car"}

// profileOptions lists the street profiles offered for access and egress: the common
// ones, those the routing service advertises and the current choice
func profileOptions(info *models.Info, current string) []string {
	options := append([]string(nil), defaultProfiles...)
	if info != nil {
		options = append(options, lo.Map(info.Profiles, func(p models.InfoProfile, _ int) string {
			return p.Name
		})...)
	}
	if current != "" {
		options = append(options, current)
	}
	return lo.Uniq(lo.Compact(options))
}

// loadTemplates loads all templates from the embedded filesystem
func loadTemplates(templatesFS fs.FS) (*handlers.TemplateSet, error) {
	funcs := templateFuncs()
	base := template.New("").Funcs(funcs)

	layoutContent, err := fs.ReadFile(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	if _, err = base.New("layout.html").Parse(string(layoutContent)); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	partialFiles, err := fs.Glob(templatesFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to glob partials: %w", err)
	}
	for _, file := range partialFiles {
		content, err := fs.ReadFile(templatesFS, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read partial %s: %w", file, err)
		}
		name := file[len("templates/partials/"):]
		if _, err = base.New(name).Parse(string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse partial %s: %w", file, err)
		}
	}

	// Page templates are kept as strings and parsed per render
	pages := make(map[string]string)
	for _, name := range []string{"index.html"} {
		content, err := fs.ReadFile(templatesFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", name, err)
		}
		pages[name] = string(content)
	}

	return &handlers.TemplateSet{
		Base:  base,
		Pages: pages,
		Funcs: funcs,
	}, nil
}

// setupRoutes configures all HTTP routes
func setupRoutes(h *handlers.Handler, staticFS fs.FS, logger *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recoveryMiddleware(logger), loggingMiddleware(logger))

	staticSubFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static sub-filesystem: %w", err)
	}
	engine.StaticFS("/static", http.FS(staticSubFS))

	h.RegisterRoutes(&engine.RouterGroup)
	return engine, nil
}

func newCORS(allowedOrigins []string) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin"},
		MaxAge:         86400,
	}
	if len(allowedOrigins) == 0 {
		// Wails webview and local development only
		opts.AllowOriginFunc = func(origin string) bool {
			return strings.HasPrefix(origin, "http://localhost:") ||
				strings.HasPrefix(origin, "http://127.0.0.1:") ||
				strings.HasPrefix(origin, "wails://")
		}
	} else {
		opts.AllowedOrigins = allowedOrigins
	}
	return cors.New(opts)
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func recoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		logger.Error("panic while serving request", zap.String("path", c.Request.URL.Path), zap.Any("panic", err))
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
