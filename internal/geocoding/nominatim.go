package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-planner/internal/models"
)

var (
	// ErrGeocodeNotFound is returned when the lookup yields no candidates
	ErrGeocodeNotFound = errors.New("geocode: no results found")
	// ErrGeocodeServiceError is returned when the lookup transport or response is malformed
	ErrGeocodeServiceError = errors.New("geocode: service error")
)

// Resolver turns a free-text address into coordinates
type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coordinates, error)
}

// ServiceError describes a failed lookup. It matches ErrGeocodeServiceError.
type ServiceError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("geocoding failed for address: %s - %s", e.Address, e.Reason)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrGeocodeServiceError
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when the address has no match. It matches ErrGeocodeNotFound.
type NotFoundError struct {
	Address string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no coordinates found for address: %s", e.Address)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrGeocodeNotFound
}

// Config configures a Nominatim resolver
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MinInterval time.Duration
}

type nominatimResolver struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	minInterval time.Duration
	logger      *zap.Logger

	mu sync.Mutex
	// earliest start of the next request
	nextSlot time.Time
}

type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatimResolver creates a resolver for a Nominatim-compatible search endpoint.
// A positive MinInterval spaces requests out, as the public instance requires.
func NewNominatimResolver(cfg Config, logger *zap.Logger) Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &nominatimResolver{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		minInterval: cfg.MinInterval,
		logger:      logger.Named("geocoding"),
	}
	return r
}

// waitForSlot reserves the next request slot and sleeps until it starts.
// The first request goes out at once.
func (g *nominatimResolver) waitForSlot(ctx context.Context) error {
	if g.minInterval <= 0 {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	start := g.nextSlot
	if start.Before(now) {
		start = now
	}
	g.nextSlot = start.Add(g.minInterval)
	g.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *nominatimResolver) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	if err := g.waitForSlot(ctx); err != nil {
		return models.Coordinates{}, &ServiceError{Address: address, Reason: err.Error(), Err: err}
	}

	queryURL := fmt.Sprintf("%s/search?q=%s&format=json", g.baseURL, url.QueryEscape(address))
	g.logger.Debug("request", zap.String("address", address), zap.String("url", queryURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		g.logger.Error("failed to create request", zap.String("address", address), zap.Error(err))
		return models.Coordinates{}, &ServiceError{Address: address, Reason: err.Error(), Err: err}
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("request failed", zap.String("address", address), zap.Error(err))
		return models.Coordinates{}, &ServiceError{Address: address, Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		g.logger.Error("unexpected status",
			zap.String("address", address),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return models.Coordinates{}, &ServiceError{
			Address: address,
			Reason:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		g.logger.Error("failed to decode response", zap.String("address", address), zap.Error(err))
		return models.Coordinates{}, &ServiceError{Address: address, Reason: err.Error(), Err: err}
	}

	if len(results) == 0 {
		g.logger.Info("no results", zap.String("address", address))
		return models.Coordinates{}, &NotFoundError{Address: address}
	}

	result := results[0]
	lat, err := strconv.ParseFloat(strings.TrimSpace(result.Lat), 64)
	if err != nil {
		g.logger.Error("invalid latitude", zap.String("address", address), zap.String("lat", result.Lat))
		return models.Coordinates{}, &ServiceError{Address: address, Reason: "invalid latitude", Err: err}
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(result.Lon), 64)
	if err != nil {
		g.logger.Error("invalid longitude", zap.String("address", address), zap.String("lon", result.Lon))
		return models.Coordinates{}, &ServiceError{Address: address, Reason: "invalid longitude", Err: err}
	}

	g.logger.Info("resolved",
		zap.String("address", address),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.String("display_name", result.DisplayName))
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}
