package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"transit-planner/internal/models"
)

var (
	// ErrRouteRejected is returned when the routing service does not produce a usable result
	ErrRouteRejected = errors.New("route: rejected")
	// ErrConfigUnavailable is returned when the capability descriptor cannot be loaded
	ErrConfigUnavailable = errors.New("route: configuration unavailable")
)

// Fetcher performs routing queries against the routing service
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]models.Path, error)
}

// InfoFetcher loads the capability descriptor
type InfoFetcher interface {
	FetchInfo(ctx context.Context) (*models.Info, error)
}

// RejectedError describes a failed routing query. It matches ErrRouteRejected.
type RejectedError struct {
	Query      string
	StatusCode int
	Reason     string
	Err        error
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("routing query rejected (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("routing query rejected: %s", e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRouteRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Config configures the GraphHopper client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to a GraphHopper-compatible public transit routing service
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

type ghResponse struct {
	Paths []ghPath `json:"paths"`
}

type ghPath struct {
	Distance   float64      `json:"distance"`
	Time       int64        `json:"time"`
	Transfers  int          `json:"transfers"`
	Fare       string       `json:"fare"`
	Impossible bool         `json:"impossible"`
	Legs       []models.Leg `json:"legs"`
}

type ghError struct {
	Message string `json:"message"`
}

// NewClient creates a routing client rooted at cfg.BaseURL
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid routing base url %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("routing"),
	}, nil
}

// RouteURL returns the base every routing query is encoded onto
func (c *Client) RouteURL() *url.URL {
	return c.baseURL.JoinPath("route")
}

// Fetch issues one routing request for query and returns the candidates in service order
func (c *Client) Fetch(ctx context.Context, query string) ([]models.Path, error) {
	c.logger.Debug("request", zap.String("query", query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query, nil)
	if err != nil {
		return nil, &RejectedError{Query: query, Reason: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("query", query), zap.Error(err))
		return nil, &RejectedError{Query: query, Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RejectedError{Query: query, StatusCode: resp.StatusCode, Reason: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := http.StatusText(resp.StatusCode)
		var ghErr ghError
		if json.Unmarshal(body, &ghErr) == nil && ghErr.Message != "" {
			reason = ghErr.Message
		}
		c.logger.Warn("query rejected",
			zap.String("query", query),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason))
		return nil, &RejectedError{Query: query, StatusCode: resp.StatusCode, Reason: reason}
	}

	var parsed ghResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("failed to decode response", zap.String("query", query), zap.Error(err))
		return nil, &RejectedError{Query: query, StatusCode: resp.StatusCode, Reason: "malformed response", Err: err}
	}

	paths := make([]models.Path, len(parsed.Paths))
	for i, p := range parsed.Paths {
		paths[i] = models.Path{
			Distance:   p.Distance,
			TimeMillis: p.Time,
			Transfers:  p.Transfers,
			Fare:       p.Fare,
			Legs:       p.Legs,
			IsPossible: !p.Impossible,
		}
	}

	c.logger.Info("response", zap.String("query", query), zap.Int("paths", len(paths)))
	return paths, nil
}

// FetchInfo loads the capability descriptor from /info
func (c *Client) FetchInfo(ctx context.Context) (*models.Info, error) {
	infoURL := c.baseURL.JoinPath("info").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrConfigUnavailable, resp.StatusCode)
	}

	var info models.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	c.logger.Info("capabilities loaded", zap.String("version", info.Version), zap.Int("extras", len(info.Extras)))
	return &info, nil
}
