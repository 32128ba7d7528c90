package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestResolver(baseURL string) Resolver {
	return NewNominatimResolver(Config{
		BaseURL:   baseURL,
		UserAgent: "TransitPlanner/test",
		Timeout:   10 * time.Second,
	}, zap.NewNop())
}

func TestResolveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "10 Main St", r.URL.Query().Get("q"))

		response := []nominatimResponse{
			{Lat: "40.7128", Lon: "-74.0060", DisplayName: "New York, NY, USA"},
			{Lat: "1", Lon: "2", DisplayName: "Somewhere else"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	coords, err := newTestResolver(server.URL).Resolve(context.Background(), "10 Main St")

	require.NoError(t, err)
	assert.Equal(t, 40.7128, coords.Lat)
	assert.Equal(t, -74.0060, coords.Lon)
}

func TestResolveNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Nowhere")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeocodeNotFound))
	assert.False(t, errors.Is(err, ErrGeocodeServiceError))
}

func TestResolveHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Test Address")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeocodeServiceError))

	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Contains(t, serviceErr.Reason, "HTTP 500")
}

func TestResolveInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Test Address")

	assert.True(t, errors.Is(err, ErrGeocodeServiceError))
}

func TestResolveInvalidLatLon(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "invalid", Lon: "-74.0060"}})
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Test Address")

	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "invalid latitude", serviceErr.Reason)
}

func TestResolveTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Test Address")

	assert.True(t, errors.Is(err, ErrGeocodeServiceError))
}

func TestResolveOneRequestPerCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	resolver := newTestResolver(server.URL)
	_, err := resolver.Resolve(context.Background(), "A")
	require.Error(t, err)
	_, err = resolver.Resolve(context.Background(), "A")
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResolveUserAgent(t *testing.T) {
	userAgentReceived := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgentReceived = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "1", Lon: "2"}})
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "Test")

	require.NoError(t, err)
	assert.Equal(t, "TransitPlanner/test", userAgentReceived)
}

func TestResolveRateLimiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "1", Lon: "2"}})
	}))
	defer server.Close()

	resolver := NewNominatimResolver(Config{
		BaseURL:     server.URL,
		Timeout:     10 * time.Second,
		MinInterval: 50 * time.Millisecond,
	}, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), "Test")
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestResolveFirstRequestIsNotDelayed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "1", Lon: "2"}})
	}))
	defer server.Close()

	resolver := NewNominatimResolver(Config{
		BaseURL:     server.URL,
		Timeout:     10 * time.Second,
		MinInterval: 5 * time.Second,
	}, zap.NewNop())

	start := time.Now()
	_, err := resolver.Resolve(context.Background(), "Test")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	// the second request would have to wait for its slot
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = resolver.Resolve(ctx, "Test")
	assert.True(t, errors.Is(err, ErrGeocodeServiceError))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestResolveContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "1", Lon: "2"}})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestResolver(server.URL).Resolve(ctx, "Test")

	assert.True(t, errors.Is(err, ErrGeocodeServiceError))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
