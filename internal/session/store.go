// Package session keeps one controller per planner session in memory and expires idle
// ones. A session that expired, or that was created before a restart, is restored from
// the URL last mirrored for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
)

// ErrSessionNotFound is returned for unknown or malformed session ids
var ErrSessionNotFound = errors.New("session not found")

// StateReader returns the URL last mirrored for a session
type StateReader interface {
	LastState(ctx context.Context, sessionID string) (string, bool, error)
}

// Config controls session lifetime and the URL bases handed to each controller
type Config struct {
	TTL      time.Duration
	Cleanup  time.Duration
	AppURL   *url.URL
	RouteURL *url.URL
}

// Store manages planner sessions
type Store struct {
	cache  *cache.Cache
	cfg    Config
	deps   controller.Deps
	states StateReader
	logger *zap.Logger
	now    func() time.Time

	// guards check-and-insert so a restored id never gets two controllers
	mu sync.Mutex
}

// New creates a session store. states may be nil, in which case expired sessions are gone.
func New(cfg Config, deps controller.Deps, states StateReader) *Store {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Cleanup <= 0 {
		cfg.Cleanup = cfg.TTL / 2
	}

	s := &Store{
		cache:  cache.New(cfg.TTL, cfg.Cleanup),
		cfg:    cfg,
		deps:   deps,
		states: states,
		logger: deps.Logger.Named("session"),
		now:    time.Now,
	}
	s.cache.OnEvicted(func(id string, _ interface{}) {
		s.logger.Debug("session expired", zap.String("session", id))
	})
	return s
}

// Create starts a new session seeded from params. A failed capability load is logged by
// the controller, which then stays not ready; the session is still returned.
func (s *Store) Create(ctx context.Context, params url.Values) *controller.Controller {
	id := uuid.NewString()
	initial := query.Decode(params, models.DefaultSearchState(s.now()))
	ctrl := s.start(ctx, id, initial)

	s.mu.Lock()
	s.cache.Set(id, ctrl, cache.DefaultExpiration)
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", id), zap.Bool("ready", ctrl.Ready()))
	return ctrl
}

// Get returns the controller of a session, extending its lifetime
func (s *Store) Get(ctx context.Context, id string) (*controller.Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	if ctrl, ok := s.lookup(id); ok {
		return ctrl, nil
	}
	if s.states == nil {
		return nil, ErrSessionNotFound
	}

	raw, ok, err := s.states.LastState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load last state of session %s: %w", id, err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}

	// the capability load is a network call and runs without the lock
	initial := query.DecodeURL(raw, models.DefaultSearchState(s.now()))
	ctrl := s.start(ctx, id, initial)

	s.mu.Lock()
	if v, found := s.cache.Get(id); found {
		s.mu.Unlock()
		return v.(*controller.Controller), nil
	}
	s.cache.Set(id, ctrl, cache.DefaultExpiration)
	s.mu.Unlock()

	s.logger.Info("session restored", zap.String("session", id), zap.String("url", raw))
	return ctrl, nil
}

func (s *Store) lookup(id string) (*controller.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	s.cache.Set(id, v, cache.DefaultExpiration)
	return v.(*controller.Controller), true
}

func (s *Store) start(ctx context.Context, id string, initial models.SearchState) *controller.Controller {
	ctrl := controller.New(s.deps, initial, controller.Options{
		SessionID: id,
		AppURL:    s.cfg.AppURL,
		RouteURL:  s.cfg.RouteURL,
	})
	// the error is already logged; the controller reports itself as not ready
	_ = ctrl.Start(ctx)
	return ctrl
}

// Delete drops a session from memory
func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

// Count returns the number of sessions in memory, including expired ones not yet cleaned up
func (s *Store) Count() int {
	return s.cache.ItemCount()
}
