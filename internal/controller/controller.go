// Package controller owns the search state of one planner session. It decides when a
// routing request is warranted, drops responses that no longer match the current
// search, and mirrors the search into the visible app URL.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"transit-planner/internal/geocoding"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
	"transit-planner/internal/routing"
	"transit-planner/internal/selection"
)

// ErrNoRoutes is returned when a selection is made while no paths are available
var ErrNoRoutes = errors.New("controller: no routes to select from")

// URLMirror shows the app URL for a session. Replace overwrites the current entry
// instead of adding a new one.
type URLMirror interface {
	Replace(ctx context.Context, sessionID, url string) error
}

// Deps are the collaborators a controller talks to
type Deps struct {
	Geocoder geocoding.Resolver
	Fetcher  routing.Fetcher
	Info     routing.InfoFetcher
	Mirror   URLMirror
	Logger   *zap.Logger
}

// Options configure a controller
type Options struct {
	SessionID string
	// AppURL is the base the shareable URL is encoded onto
	AppURL *url.URL
	// RouteURL is the base routing queries are encoded onto
	RouteURL *url.URL
}

// SubmitRequest carries the two ends of a search. A null side keeps the current value;
// a text side is geocoded before the route is submitted.
type SubmitRequest struct {
	From models.Location
	To   models.Location
}

// SubmitError reports which side of a submission could not be geocoded
type SubmitError struct {
	Field   string
	Address string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("could not fetch coordinates for the %s address %q: %v", e.Field, e.Address, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Snapshot is a read-only copy of the controller state handed to renderers.
// Version grows with every change; subscribers may see deliveries out of order
// and should drop a snapshot older than one already rendered.
type Snapshot struct {
	Version   uint64             `json:"version"`
	SessionID string             `json:"session_id"`
	Ready     bool               `json:"ready"`
	Info      *models.Info       `json:"info,omitempty"`
	Search    models.SearchState `json:"search"`
	Routes    models.RouteResult `json:"routes"`
	AppURL    string             `json:"app_url"`
}

// Controller is the exclusive owner of a session's SearchState and RouteResult.
// The mutex is never held across a network call.
type Controller struct {
	deps      Deps
	sessionID string
	appBase   *url.URL
	routeBase *url.URL
	logger    *zap.Logger

	mu          sync.Mutex
	info        *models.Info
	search      models.SearchState
	routes      models.RouteResult
	appURL      string
	version     uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int

	// pending counts route requests and mirror writes in flight; idle is closed
	// whenever it drops to zero
	pending int
	idle    chan struct{}

	// mirror writes run on one goroutine at a time, in the order they were queued
	mirrorQueue []string
	mirroring   bool
}

// New creates a controller seeded with initial, typically decoded from the page URL
func New(deps Deps, initial models.SearchState, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	appBase := opts.AppURL
	if appBase == nil {
		appBase = &url.URL{Path: "/"}
	}
	routeBase := opts.RouteURL
	if routeBase == nil {
		routeBase = &url.URL{Path: "/route"}
	}

	initial.Normalize()
	return &Controller{
		deps:        deps,
		sessionID:   opts.SessionID,
		appBase:     appBase,
		routeBase:   routeBase,
		logger:      deps.Logger.Named("controller").With(zap.String("session", opts.SessionID)),
		search:      initial,
		routes:      models.RouteResult{SelectedRouteIndex: selection.NoSelection},
		appURL:      query.Encode(initial, appBase),
		subscribers: make(map[int]func(Snapshot)),
	}
}

func (c *Controller) beginRequestLocked() {
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++
}

func (c *Controller) endRequestLocked() {
	c.pending--
	if c.pending == 0 {
		close(c.idle)
	}
}

// Start loads the capability descriptor. On failure the controller stays not ready
// for the rest of its life; there is no retry.
func (c *Controller) Start(ctx context.Context) error {
	if c.deps.Info == nil {
		return routing.ErrConfigUnavailable
	}
	info, err := c.deps.Info.FetchInfo(ctx)
	if err != nil {
		c.logger.Error("failed to load capabilities, session is not ready", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.info = info
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Ready reports whether the capability descriptor is loaded
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info != nil
}

// SessionID returns the session this controller belongs to
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Snapshot returns a deep copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// changedLocked records a state change and returns the snapshot to publish
func (c *Controller) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   c.version,
		SessionID: c.sessionID,
		Ready:     c.info != nil,
		Info:      c.info.Clone(),
		Search:    c.search,
		Routes:    c.routes.Clone(),
		AppURL:    c.appURL,
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned function removes the subscription.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// UpdateSearch applies a change to the search parameters without submitting it
func (c *Controller) UpdateSearch(fn func(*models.SearchState)) {
	c.mu.Lock()
	next := c.search
	fn(&next)
	next.Normalize()
	c.search = next
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Submit resolves any free-text side of req, merges the result into the search and
// submits the route. A geocoding failure aborts the whole submission and leaves the
// search untouched.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) error {
	from, err := c.resolve(ctx, "origin", req.From)
	if err != nil {
		return err
	}
	to, err := c.resolve(ctx, "destination", req.To)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !from.IsNull() {
		c.search.From = from
	}
	if !to.IsNull() {
		c.search.To = to
	}
	if appURL, issued := c.submitRouteLocked(ctx); issued {
		c.queueMirrorLocked(ctx, appURL)
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

func (c *Controller) resolve(ctx context.Context, field string, loc models.Location) (models.Location, error) {
	address := loc.Text()
	if address == "" {
		return loc, nil
	}
	coords, err := c.deps.Geocoder.Resolve(ctx, address)
	if err != nil {
		c.logger.Warn("geocoding failed, submission aborted",
			zap.String("field", field),
			zap.String("address", address),
			zap.Error(err))
		return models.Location{}, &SubmitError{Field: field, Address: address, Err: err}
	}
	return models.PointLocation(coords), nil
}

// submitRouteLocked starts a routing request when the derived query differs from the
// recorded one. It returns the app URL to mirror and whether a request was issued.
func (c *Controller) submitRouteLocked(ctx context.Context) (string, bool) {
	if c.info == nil {
		c.logger.Debug("route submission skipped: not ready")
		return "", false
	}
	if !c.search.Resolved() {
		c.logger.Debug("route submission skipped: origin or destination unresolved")
		return "", false
	}

	q := query.Encode(c.search, c.routeBase)
	if q == c.routes.Query {
		c.logger.Debug("route submission skipped: query unchanged", zap.String("query", q))
		return "", false
	}

	c.routes = models.RouteResult{Query: q, IsFetching: true, SelectedRouteIndex: selection.NoSelection}
	c.appURL = query.Encode(c.search, c.appBase)

	c.beginRequestLocked()
	go c.fetch(context.WithoutCancel(ctx), q)

	c.logger.Info("route query issued", zap.String("query", q))
	return c.appURL, true
}

func (c *Controller) fetch(ctx context.Context, q string) {
	paths, err := c.deps.Fetcher.Fetch(ctx, q)

	c.mu.Lock()
	applied := c.applyLocked(q, paths, err)
	c.endRequestLocked()
	if !applied {
		c.mu.Unlock()
		return
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// applyLocked stores the outcome of the request issued for q, unless the search has
// moved on since: the query is recomputed from the current state and compared.
func (c *Controller) applyLocked(q string, paths []models.Path, err error) bool {
	if current := query.Encode(c.search, c.routeBase); current != q {
		c.logger.Info("discarded stale route response", zap.String("query", q), zap.String("current", current))
		return false
	}

	if err != nil {
		failed := false
		c.routes = models.RouteResult{
			Query:              q,
			IsFetching:         false,
			IsLastQuerySuccess: &failed,
			SelectedRouteIndex: selection.NoSelection,
		}
		c.logger.Warn("route query failed", zap.String("query", q), zap.Error(err))
		return true
	}

	ok := true
	fresh := make([]models.Path, len(paths))
	for i := range paths {
		fresh[i] = paths[i].Clone()
		fresh[i].IsSelected = false
	}
	selected := selection.PickDefault(fresh)
	c.routes = models.RouteResult{
		Query:              q,
		IsFetching:         false,
		Paths:              fresh,
		IsLastQuerySuccess: &ok,
		SelectedRouteIndex: selected,
	}
	c.logger.Info("route query succeeded",
		zap.String("query", q),
		zap.Int("paths", len(fresh)),
		zap.Int("selected", selected))
	return true
}

// queueMirrorLocked schedules appURL to be shown after every URL queued before it,
// so the mirror always ends on the latest issued search
func (c *Controller) queueMirrorLocked(ctx context.Context, appURL string) {
	if c.deps.Mirror == nil {
		return
	}
	c.mirrorQueue = append(c.mirrorQueue, appURL)
	if c.mirroring {
		return
	}
	c.mirroring = true
	c.beginRequestLocked()
	go c.drainMirror(context.WithoutCancel(ctx))
}

func (c *Controller) drainMirror(ctx context.Context) {
	for {
		c.mu.Lock()
		if len(c.mirrorQueue) == 0 {
			c.mirroring = false
			c.endRequestLocked()
			c.mu.Unlock()
			return
		}
		appURL := c.mirrorQueue[0]
		c.mirrorQueue = c.mirrorQueue[1:]
		c.mu.Unlock()

		if err := c.deps.Mirror.Replace(ctx, c.sessionID, appURL); err != nil {
			c.logger.Warn("failed to mirror app url", zap.String("url", appURL), zap.Error(err))
		}
	}
}

// SelectRoute marks the path at index as the selected itinerary
func (c *Controller) SelectRoute(index int) error {
	c.mu.Lock()
	if c.routes.IsFetching || len(c.routes.Paths) == 0 {
		c.mu.Unlock()
		return ErrNoRoutes
	}
	paths, err := selection.Reselect(c.routes.Paths, c.routes.SelectedRouteIndex, index)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.routes.Paths = paths
	c.routes.SelectedRouteIndex = index
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Wait blocks until no routing request or mirror write is in flight, or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.pending == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
