package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
	"transit-planner/internal/selection"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CreateSessionRequest seeds a new session. URL is a shared app link; when empty the
// request's own query string is used.
type CreateSessionRequest struct {
	URL string `json:"url"`
}

// SearchPatch changes search parameters without submitting them. Absent fields are
// left as they are; durations use the ISO-8601 form of the query parameters.
type SearchPatch struct {
	DepartureDateTime  *time.Time         `json:"departure_date_time"`
	TimeOption         *models.TimeOption `json:"time_option"`
	AccessProfile      *string            `json:"access_profile"`
	EgressProfile      *string            `json:"egress_profile"`
	BetaAccessTime     *float64           `json:"beta_access_time"`
	BetaEgressTime     *float64           `json:"beta_egress_time"`
	RangeQuery         *bool              `json:"range_query"`
	RangeQueryDuration *string            `json:"range_query_duration"`
	LimitStreetTime    *string            `json:"limit_street_time"`
	IgnoreTransfers    *bool              `json:"ignore_transfers"`
}

// SubmitRequest is the body of a submission: each side is null, an address or {lat, lon}
type SubmitRequest struct {
	From models.Location `json:"from"`
	To   models.Location `json:"to"`
}

// SelectRequest picks an itinerary by index
type SelectRequest struct {
	Index *int `json:"index" binding:"required"`
}

// apply validates the patch and returns the change to hand to the controller
func (p SearchPatch) apply() (func(*models.SearchState), error) {
	if p.TimeOption != nil && !p.TimeOption.Valid() {
		return nil, fmt.Errorf("time_option must be one of DEPARTURE, ARRIVAL, RANGE")
	}
	if p.BetaAccessTime != nil && *p.BetaAccessTime <= 0 {
		return nil, fmt.Errorf("beta_access_time must be positive")
	}
	if p.BetaEgressTime != nil && *p.BetaEgressTime <= 0 {
		return nil, fmt.Errorf("beta_egress_time must be positive")
	}

	var rangeDuration, streetTime time.Duration
	var err error
	if p.RangeQueryDuration != nil {
		if rangeDuration, err = query.ParseISODuration(*p.RangeQueryDuration); err != nil {
			return nil, fmt.Errorf("range_query_duration: %w", err)
		}
	}
	if p.LimitStreetTime != nil {
		if streetTime, err = query.ParseISODuration(*p.LimitStreetTime); err != nil {
			return nil, fmt.Errorf("limit_street_time: %w", err)
		}
	}

	return func(s *models.SearchState) {
		if p.DepartureDateTime != nil {
			s.DepartureDateTime = *p.DepartureDateTime
		}
		if p.TimeOption != nil {
			s.TimeOption = *p.TimeOption
		}
		if p.AccessProfile != nil {
			s.AccessProfile = *p.AccessProfile
		}
		if p.EgressProfile != nil {
			s.EgressProfile = *p.EgressProfile
		}
		if p.BetaAccessTime != nil {
			s.BetaAccessTime = *p.BetaAccessTime
		}
		if p.BetaEgressTime != nil {
			s.BetaEgressTime = *p.BetaEgressTime
		}
		if p.RangeQuery != nil {
			s.RangeQuery = *p.RangeQuery
		}
		if p.RangeQueryDuration != nil {
			s.RangeQueryDuration = rangeDuration
		}
		if p.LimitStreetTime != nil {
			s.LimitStreetTime = streetTime
		}
		if p.IgnoreTransfers != nil {
			s.IgnoreTransfers = *p.IgnoreTransfers
		}
	}, nil
}

// HandleCreateSession handles POST /api/v1/sessions
func (h *Handler) HandleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.handleValidationError(c, err.Error())
		return
	}

	params := c.Request.URL.Query()
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil {
			h.handleValidationError(c, "url is not a valid URL")
			return
		}
		params = u.Query()
	}

	ctrl := h.Sessions.Create(c.Request.Context(), params)
	h.logger().Info("session created via api", zap.String("session", ctrl.SessionID()))
	c.JSON(http.StatusCreated, ctrl.Snapshot())
}

// HandleGetSession handles GET /api/v1/sessions/:id. With ?wait=true it answers once
// no routing request is in flight.
func (h *Handler) HandleGetSession(c *gin.Context) {
	ctrl, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if !h.waitIfAsked(c, ctrl) {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// HandleUpdateSearch handles PATCH /api/v1/sessions/:id/search
func (h *Handler) HandleUpdateSearch(c *gin.Context) {
	ctrl, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var patch SearchPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.handleValidationError(c, err.Error())
		return
	}
	change, err := patch.apply()
	if err != nil {
		h.handleValidationError(c, err.Error())
		return
	}

	ctrl.UpdateSearch(change)
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// HandleSubmit handles POST /api/v1/sessions/:id/submit
func (h *Handler) HandleSubmit(c *gin.Context) {
	ctrl, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.handleValidationError(c, err.Error())
		return
	}

	err := ctrl.Submit(c.Request.Context(), controller.SubmitRequest{
		From: parseText(req.From),
		To:   parseText(req.To),
	})
	if err != nil {
		h.handleGeocodingError(c, err)
		return
	}
	if !h.waitIfAsked(c, ctrl) {
		return
	}

	snap := ctrl.Snapshot()
	status := http.StatusOK
	if snap.Routes.IsFetching {
		status = http.StatusAccepted
	}
	c.JSON(status, snap)
}

// HandleSelect handles POST /api/v1/sessions/:id/select
func (h *Handler) HandleSelect(c *gin.Context) {
	ctrl, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err.Error())
		return
	}

	if err := ctrl.SelectRoute(*req.Index); err != nil {
		switch {
		case errors.Is(err, controller.ErrNoRoutes):
			h.writeError(c, http.StatusConflict, "NO_ROUTES", "there are no routes to select from", nil)
		case errors.Is(err, selection.ErrIndexOutOfRange):
			h.handleValidationError(c, err.Error())
		default:
			h.handleInternalError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// HandleHistory handles GET /api/v1/sessions/:id/history
func (h *Handler) HandleHistory(c *gin.Context) {
	ctrl, ok := h.lookupSession(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.handleValidationError(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if h.History == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []interface{}{}})
		return
	}
	entries, err := h.History.History(c.Request.Context(), ctrl.SessionID(), limit)
	if err != nil {
		h.handleInternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// HandleHealthCheck handles GET /api/v1/health
func (h *Handler) HandleHealthCheck(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health.HealthCheck(c.Request.Context()); err != nil {
			h.logger().Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": h.Sessions.Count()})
}

// waitIfAsked blocks on ?wait=true until the session is idle. It reports false after
// writing an error response.
func (h *Handler) waitIfAsked(c *gin.Context, ctrl *controller.Controller) bool {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		return true
	}
	if err := ctrl.Wait(c.Request.Context()); err != nil {
		h.writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "routing request still in flight", nil)
		return false
	}
	return true
}

// parseText reads a "lat,lon" string the way the page form and the URL do
func parseText(l models.Location) models.Location {
	if text := l.Text(); text != "" {
		return query.ParseLocation(text)
	}
	return l
}
