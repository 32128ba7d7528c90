package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/controller"
	"transit-planner/internal/geocoding"
	"transit-planner/internal/models"
	"transit-planner/internal/session"
	"transit-planner/internal/testutil"
)

type testEnv struct {
	engine   *gin.Engine
	resolver *testutil.FakeResolver
	fetcher  *testutil.FakeFetcher
}

func setupTestHandler(t *testing.T, paths ...models.Path) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		resolver: testutil.NewFakeResolver(),
		fetcher:  testutil.NewFakeFetcher(paths...),
	}
	sessions := session.New(session.Config{TTL: time.Minute}, controller.Deps{
		Geocoder: env.resolver,
		Fetcher:  env.fetcher,
		Info:     &testutil.FakeInfoFetcher{Info: testutil.TestInfo()},
		Mirror:   &testutil.RecordingMirror{},
	}, nil)

	h := &Handler{Sessions: sessions}
	env.engine = gin.New()
	h.RegisterRoutes(&env.engine.RouterGroup)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.engine.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createSession(t *testing.T) controller.Snapshot {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeSnapshot(t, rr)
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) controller.Snapshot {
	t.Helper()
	var snap controller.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap), rr.Body.String())
	return snap
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Error
}

func TestHandleHealthCheck(t *testing.T) {
	env := setupTestHandler(t)
	env.createSession(t)

	rr := env.do(t, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestHandleCreateSessionFromURL(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		URL: "http://planner.test/?point=52.5%2C13.4&point=Zoo&pt.arrive_by=true",
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	snap := decodeSnapshot(t, rr)
	assert.NotEmpty(t, snap.SessionID)
	assert.True(t, snap.Ready)
	assert.True(t, snap.Search.From.IsResolved())
	assert.Equal(t, "Zoo", snap.Search.To.Text())
	assert.Equal(t, models.TimeOptionArrival, snap.Search.TimeOption)
}

func TestHandleCreateSessionFromQueryString(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions?pt.access_profile=bike", nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "bike", decodeSnapshot(t, rr).Search.AccessProfile)
}

func TestHandleGetSessionNotFound(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodGet, "/api/v1/sessions/does-not-exist", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rr).Code)
}

func TestHandleUpdateSearch(t *testing.T) {
	env := setupTestHandler(t)
	snap := env.createSession(t)

	rr := env.do(t, http.MethodPatch, "/api/v1/sessions/"+snap.SessionID+"/search", map[string]interface{}{
		"time_option":       "RANGE",
		"limit_street_time": "PT45M",
		"ignore_transfers":  true,
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decodeSnapshot(t, rr)
	assert.Equal(t, models.TimeOptionRange, updated.Search.TimeOption)
	assert.True(t, updated.Search.RangeQuery)
	assert.Equal(t, 45*time.Minute, updated.Search.LimitStreetTime)
	assert.True(t, updated.Search.IgnoreTransfers)
	assert.Equal(t, 0, env.fetcher.CallCount())
}

func TestHandleUpdateSearchValidation(t *testing.T) {
	env := setupTestHandler(t)
	snap := env.createSession(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"bad time option", map[string]interface{}{"time_option": "WHENEVER"}},
		{"bad duration", map[string]interface{}{"range_query_duration": "two hours"}},
		{"zero beta", map[string]interface{}{"beta_access_time": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPatch, "/api/v1/sessions/"+snap.SessionID+"/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rr).Code)
		})
	}
}

func TestHandleSubmitAndSelect(t *testing.T) {
	env := setupTestHandler(t,
		models.Path{IsPossible: false},
		models.Path{IsPossible: true},
		models.Path{IsPossible: true},
	)
	env.resolver.Add("Alexanderplatz", models.Coordinates{Lat: 52.5219, Lon: 13.4132})
	snap := env.createSession(t)
	base := "/api/v1/sessions/" + snap.SessionID

	rr := env.do(t, http.MethodPost, base+"/submit?wait=true", map[string]interface{}{
		"from": "Alexanderplatz",
		"to":   map[string]float64{"lat": 52.5069, "lon": 13.3323},
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	submitted := decodeSnapshot(t, rr)
	require.Len(t, submitted.Routes.Paths, 3)
	assert.Equal(t, 1, submitted.Routes.SelectedRouteIndex)
	assert.NotEmpty(t, submitted.AppURL)

	rr = env.do(t, http.MethodPost, base+"/select", map[string]int{"index": 2})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	selected := decodeSnapshot(t, rr)
	assert.Equal(t, 2, selected.Routes.SelectedRouteIndex)
	assert.False(t, selected.Routes.Paths[1].IsSelected)
	assert.True(t, selected.Routes.Paths[2].IsSelected)

	rr = env.do(t, http.MethodPost, base+"/select", map[string]int{"index": 5})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSubmitCoordinateText(t *testing.T) {
	env := setupTestHandler(t, models.Path{IsPossible: true})
	snap := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/submit?wait=true", map[string]interface{}{
		"from": "52.5219,13.4132",
		"to":   " 52.5069, 13.3323 ",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 0, env.resolver.CallCount())
	assert.Equal(t, 1, env.fetcher.CallCount())

	submitted := decodeSnapshot(t, rr)
	to, ok := submitted.Search.To.Coords()
	require.True(t, ok)
	assert.Equal(t, models.Coordinates{Lat: 52.5069, Lon: 13.3323}, to)
}

func TestHandleSubmitGeocodingFailure(t *testing.T) {
	env := setupTestHandler(t)
	env.resolver.Fail("Atlantis", &geocoding.ServiceError{Address: "Atlantis", Reason: "HTTP 503"})
	snap := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/submit", map[string]interface{}{
		"from": "Atlantis",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	detail := decodeError(t, rr)
	assert.Equal(t, "GEOCODING_FAILED", detail.Code)
	details, ok := detail.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "origin", details["field"])
	assert.Equal(t, "Atlantis", details["address"])
	assert.Equal(t, false, details["not_found"])
}

func TestHandleSelectWithoutRoutes(t *testing.T) {
	env := setupTestHandler(t)
	snap := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/select", map[string]int{"index": 0})

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "NO_ROUTES", decodeError(t, rr).Code)
}

func TestHandleSelectMissingIndex(t *testing.T) {
	env := setupTestHandler(t)
	snap := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/select", map[string]int{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleHistoryWithoutStore(t *testing.T) {
	env := setupTestHandler(t)
	snap := env.createSession(t)

	rr := env.do(t, http.MethodGet, "/api/v1/sessions/"+snap.SessionID+"/history", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"entries":[]}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/v1/sessions/"+snap.SessionID+"/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSameSearch(t *testing.T) {
	current := models.DefaultSearchState(time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC))
	current.From = models.PointLocation(models.Coordinates{Lat: 52.5, Lon: 13.4})

	assert.True(t, sameSearch(current, map[string][]string{"pt.access_profile": {"foot"}}))
	assert.False(t, sameSearch(current, map[string][]string{"pt.access_profile": {"bike"}}))
}
