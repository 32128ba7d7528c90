package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return client, server
}

const threePaths = `{"paths":[
	{"distance":1200,"time":600000,"transfers":0,"impossible":true,"legs":[]},
	{"distance":5400,"time":1500000,"transfers":1,"fare":"€ 2.80","legs":[
		{"type":"walk","departure_time":"2024-05-14T08:31:00Z","arrival_time":"2024-05-14T08:35:00Z","distance":300},
		{"type":"pt","departure_location":"Hauptbahnhof","route_id":"U2","trip_headsign":"Pankow",
		 "departure_time":"2024-05-14T08:36:00Z","arrival_time":"2024-05-14T08:56:00Z","distance":5100}
	]},
	{"distance":6000,"time":1800000,"transfers":2,"legs":[]}
]}`

func TestFetchPreservesOrder(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route", r.URL.Path)
		assert.Equal(t, "52.5,13.4", r.URL.Query()["point"][0])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(threePaths))
	})

	paths, err := client.Fetch(context.Background(), server.URL+"/route?point=52.5%2C13.4&point=52.4%2C13.3")

	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.False(t, paths[0].IsPossible)
	assert.True(t, paths[1].IsPossible)
	assert.True(t, paths[2].IsPossible)
	assert.Equal(t, 5400.0, paths[1].Distance)
	assert.Equal(t, 25*time.Minute, paths[1].Duration())
	assert.Equal(t, "€ 2.80", paths[1].Fare)
	require.Len(t, paths[1].Legs, 2)
	assert.Equal(t, "U2", paths[1].Legs[1].RouteID)
	assert.Equal(t, time.Date(2024, 5, 14, 8, 31, 0, 0, time.UTC), paths[1].DepartureTime().UTC())
	assert.Equal(t, time.Date(2024, 5, 14, 8, 56, 0, 0, time.UTC), paths[1].ArrivalTime().UTC())
	for _, p := range paths {
		assert.False(t, p.IsSelected)
	}
}

func TestFetchRejectedStatus(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Cannot find point 0"}`))
	})

	_, err := client.Fetch(context.Background(), server.URL+"/route")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRouteRejected))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "Cannot find point 0", rejected.Reason)
}

func TestFetchMalformedBody(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"paths":`))
	})

	_, err := client.Fetch(context.Background(), server.URL+"/route")

	assert.True(t, errors.Is(err, ErrRouteRejected))
}

func TestFetchTransportError(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Fetch(context.Background(), server.URL+"/route")

	assert.True(t, errors.Is(err, ErrRouteRejected))
}

func TestRouteURL(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:8989/"}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8989/route", client.RouteURL().String())
}

func TestFetchInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		w.Write([]byte(`{"bbox":[13.0,52.3,13.8,52.7],"version":"9.1","profiles":[{"name":"pt"}],"elevation":false,"features":{"pt":{}}}`))
	})

	info, err := client.FetchInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []float64{13.0, 52.3, 13.8, 52.7}, info.BBox)
	assert.Equal(t, "9.1", info.Version)
	require.Len(t, info.Profiles, 1)
	assert.Equal(t, "pt", info.Profiles[0].Name)
	assert.Contains(t, info.Extras, "elevation")
	assert.Contains(t, info.Extras, "features")
	assert.NotContains(t, info.Extras, "bbox")
}

func TestFetchInfoFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		},
		"missing bbox": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"version":"9.1"}`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, handler)

			info, err := client.FetchInfo(context.Background())

			assert.Nil(t, info)
			assert.True(t, errors.Is(err, ErrConfigUnavailable))
		})
	}
}
