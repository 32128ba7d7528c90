package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
)

const (
	sessionCookie = "planner_session"
	// DateTimeLocalLayout is the value format of an <input type="datetime-local">
	DateTimeLocalLayout = "2006-01-02T15:04"
)

// PageData contains the data for the planner page
type PageData struct {
	Title    string
	Snapshot controller.Snapshot
	Alert    string
}

// HandleIndexPage handles GET /. URL parameters seed a new session unless they
// describe the search the cookie's session already holds.
func (h *Handler) HandleIndexPage(c *gin.Context) {
	ctrl := h.pageSession(c)
	h.renderPlanner(c, ctrl, http.StatusOK, "")
}

// HandleSubmitForm handles POST /submit: applies the sidebar fields, geocodes the
// address fields and redirects to the mirrored app URL.
func (h *Handler) HandleSubmitForm(c *gin.Context) {
	ctrl := h.formSession(c)

	change, err := searchFromForm(c)
	if err != nil {
		h.renderPlanner(c, ctrl, http.StatusBadRequest, err.Error())
		return
	}
	ctrl.UpdateSearch(change)

	req := controller.SubmitRequest{
		From: query.ParseLocation(c.PostForm("from")),
		To:   query.ParseLocation(c.PostForm("to")),
	}
	if err := ctrl.Submit(c.Request.Context(), req); err != nil {
		alert := err.Error()
		var submitErr *controller.SubmitError
		if errors.As(err, &submitErr) {
			alert = fmt.Sprintf("Could not fetch coordinates for the address: %s", submitErr.Address)
		}
		h.renderPlanner(c, ctrl, http.StatusUnprocessableEntity, alert)
		return
	}

	h.redirectToApp(c, ctrl)
}

// HandleSelectForm handles POST /select
func (h *Handler) HandleSelectForm(c *gin.Context) {
	ctrl := h.formSession(c)

	index, err := strconv.Atoi(c.PostForm("index"))
	if err != nil {
		h.renderPlanner(c, ctrl, http.StatusBadRequest, "invalid route index")
		return
	}
	if err := ctrl.SelectRoute(index); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, controller.ErrNoRoutes) {
			status = http.StatusConflict
		}
		h.renderPlanner(c, ctrl, status, err.Error())
		return
	}

	h.redirectToApp(c, ctrl)
}

func (h *Handler) renderPlanner(c *gin.Context, ctrl *controller.Controller, status int, alert string) {
	// results of a request already in flight belong on this page
	if err := ctrl.Wait(c.Request.Context()); err != nil {
		h.logger().Warn("rendering while a route request is in flight", zap.Error(err))
	}

	snap := ctrl.Snapshot()
	if !snap.Ready && status == http.StatusOK {
		status = http.StatusServiceUnavailable
	}
	h.renderTemplate(c, status, "index.html", PageData{
		Title:    "Transit Planner",
		Snapshot: snap,
		Alert:    alert,
	})
}

// redirectToApp answers a form post with a redirect to the app URL, so reloading the
// result page repeats the search instead of the post
func (h *Handler) redirectToApp(c *gin.Context, ctrl *controller.Controller) {
	if err := ctrl.Wait(c.Request.Context()); err != nil {
		h.logger().Warn("redirecting while a route request is in flight", zap.Error(err))
	}
	target := ctrl.Snapshot().AppURL
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (h *Handler) pageSession(c *gin.Context) *controller.Controller {
	params := c.Request.URL.Query()
	if ctrl := h.cookieSession(c); ctrl != nil {
		if len(params) == 0 || sameSearch(ctrl.Snapshot().Search, params) {
			return ctrl
		}
	}
	return h.newPageSession(c, params)
}

func (h *Handler) formSession(c *gin.Context) *controller.Controller {
	if ctrl := h.cookieSession(c); ctrl != nil {
		return ctrl
	}
	return h.newPageSession(c, nil)
}

func (h *Handler) cookieSession(c *gin.Context) *controller.Controller {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		return nil
	}
	ctrl, err := h.Sessions.Get(c.Request.Context(), id)
	if err != nil {
		h.logger().Debug("session cookie not usable", zap.String("session", id), zap.Error(err))
		return nil
	}
	return ctrl
}

func (h *Handler) newPageSession(c *gin.Context, params url.Values) *controller.Controller {
	ctrl := h.Sessions.Create(c.Request.Context(), params)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, ctrl.SessionID(), 0, "/", "", false, true)
	return ctrl
}

// sameSearch reports whether applying params to current changes nothing
func sameSearch(current models.SearchState, params url.Values) bool {
	next := query.Decode(params, current)
	next.Normalize()
	return query.Encode(next, nil) == query.Encode(current, nil)
}

// searchFromForm reads the sidebar fields. Empty fields keep their current value;
// checkboxes are absent when unticked.
func searchFromForm(c *gin.Context) (func(*models.SearchState), error) {
	var patch SearchPatch

	if raw := strings.TrimSpace(c.PostForm("departure")); raw != "" {
		t, err := time.Parse(DateTimeLocalLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid departure time %q", raw)
		}
		patch.DepartureDateTime = &t
	}
	if raw := c.PostForm("time_option"); raw != "" {
		opt := models.TimeOption(raw)
		patch.TimeOption = &opt
	}
	if raw := c.PostForm("access_profile"); raw != "" {
		patch.AccessProfile = &raw
	}
	if raw := c.PostForm("egress_profile"); raw != "" {
		patch.EgressProfile = &raw
	}

	floats := map[string]**float64{
		"beta_access_time": &patch.BetaAccessTime,
		"beta_egress_time": &patch.BetaEgressTime,
	}
	for field, dst := range floats {
		if raw := strings.TrimSpace(c.PostForm(field)); raw != "" {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q", field, raw)
			}
			*dst = &f
		}
	}

	minutes := map[string]**string{
		"range_query_minutes":  &patch.RangeQueryDuration,
		"limit_street_minutes": &patch.LimitStreetTime,
	}
	for field, dst := range minutes {
		if raw := strings.TrimSpace(c.PostForm(field)); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid %s %q", field, raw)
			}
			iso := query.FormatISODuration(time.Duration(n) * time.Minute)
			*dst = &iso
		}
	}

	if _, sidebar := c.GetPostForm("time_option"); sidebar {
		rangeQuery := c.PostForm("range_query") != ""
		ignoreTransfers := c.PostForm("ignore_transfers") != ""
		patch.RangeQuery = &rangeQuery
		patch.IgnoreTransfers = &ignoreTransfers
	}

	return patch.apply()
}
