// Package handlers serves the planner page and the session JSON API. Every handler
// reads a controller snapshot and reports user intents back through controller methods.
package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transit-planner/internal/controller"
	"transit-planner/internal/geocoding"
	"transit-planner/internal/session"
	"transit-planner/internal/sqlite"
)

// SessionStore hands out per-session controllers
type SessionStore interface {
	Create(ctx context.Context, params url.Values) *controller.Controller
	Get(ctx context.Context, id string) (*controller.Controller, error)
	Count() int
}

// HistoryReader lists the URLs mirrored for a session
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]sqlite.SearchLogEntry, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TemplateSet holds the base templates and page templates separately
type TemplateSet struct {
	Base  *template.Template
	Pages map[string]string
	Funcs template.FuncMap
}

// Handler provides common handler utilities and dependencies
type Handler struct {
	Sessions  SessionStore
	History   HistoryReader
	Health    HealthChecker
	Templates *TemplateSet
	Logger    *zap.Logger
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// RegisterRoutes registers the page and API routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/", h.HandleIndexPage)
	r.POST("/submit", h.HandleSubmitForm)
	r.POST("/select", h.HandleSelectForm)

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.HandleHealthCheck)
		api.POST("/sessions", h.HandleCreateSession)
		api.GET("/sessions/:id", h.HandleGetSession)
		api.PATCH("/sessions/:id/search", h.HandleUpdateSearch)
		api.POST("/sessions/:id/submit", h.HandleSubmit)
		api.POST("/sessions/:id/select", h.HandleSelect)
		api.GET("/sessions/:id/history", h.HandleHistory)
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleNotFound handles 404 errors
func (h *Handler) handleNotFound(c *gin.Context, message string) {
	h.writeError(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// handleValidationError handles 400 errors
func (h *Handler) handleValidationError(c *gin.Context, message string) {
	h.writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// handleGeocodingError handles 422 errors for geocoding failures
func (h *Handler) handleGeocodingError(c *gin.Context, err error) {
	var details map[string]interface{}
	var submitErr *controller.SubmitError
	if errors.As(err, &submitErr) {
		details = map[string]interface{}{
			"field":     submitErr.Field,
			"address":   submitErr.Address,
			"not_found": errors.Is(err, geocoding.ErrGeocodeNotFound),
		}
	}
	h.writeError(c, http.StatusUnprocessableEntity, "GEOCODING_FAILED", err.Error(), details)
}

// handleInternalError handles 500 errors
func (h *Handler) handleInternalError(c *gin.Context, err error) {
	h.logger().Error("internal error", zap.String("path", c.Request.URL.Path), zap.Error(err))
	h.writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An error occurred. Please try again.", nil)
}

// lookupSession resolves the :id path parameter, writing the error response on failure
func (h *Handler) lookupSession(c *gin.Context) (*controller.Controller, bool) {
	ctrl, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		h.handleNotFound(c, "session not found")
		return nil, false
	}
	if err != nil {
		h.handleInternalError(c, err)
		return nil, false
	}
	return ctrl, true
}

// renderTemplate renders a page inside layout.html
func (h *Handler) renderTemplate(c *gin.Context, status int, name string, data interface{}) {
	// Always clone to avoid "cannot Clone after executed" error
	tmpl, err := h.Templates.Base.Clone()
	if err != nil {
		h.logger().Error("template clone error", zap.String("template", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	pageContent, ok := h.Templates.Pages[name]
	if !ok {
		h.logger().Error("unknown page template", zap.String("template", name))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if _, err := tmpl.New(name).Parse(pageContent); err != nil {
		h.logger().Error("template parse error", zap.String("template", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := tmpl.ExecuteTemplate(c.Writer, "layout.html", data); err != nil {
		h.logger().Error("template execute error", zap.String("template", name), zap.Error(err))
	}
}
