package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
	"transit-planner/internal/routing"
	"transit-planner/internal/testutil"
)

type mapStates struct {
	mu   sync.Mutex
	urls map[string]string
	err  error
}

func (m *mapStates) LastState(ctx context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	u, ok := m.urls[id]
	return u, ok, nil
}

// gatedInfo blocks FetchInfo once armed, until released
type gatedInfo struct {
	testutil.FakeInfoFetcher
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedInfo() *gatedInfo {
	return &gatedInfo{
		FakeInfoFetcher: testutil.FakeInfoFetcher{Info: testutil.TestInfo()},
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (g *gatedInfo) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gatedInfo) FetchInfo(ctx context.Context) (*models.Info, error) {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	g.mu.Unlock()

	if armed {
		close(g.entered)
		<-g.release
	}
	return g.FakeInfoFetcher.FetchInfo(ctx)
}

func newTestStore(t *testing.T, states StateReader) *Store {
	t.Helper()
	appURL, err := url.Parse("http://planner.test/")
	require.NoError(t, err)
	return New(Config{TTL: time.Minute, Cleanup: time.Minute, AppURL: appURL}, controller.Deps{
		Geocoder: testutil.NewFakeResolver(),
		Fetcher:  testutil.NewFakeFetcher(),
		Info:     &testutil.FakeInfoFetcher{Info: testutil.TestInfo()},
		Mirror:   &testutil.RecordingMirror{},
	}, states)
}

func TestCreateSeedsFromParams(t *testing.T) {
	store := newTestStore(t, nil)
	params := url.Values{}
	params.Add("point", "52.52,13.41")
	params.Add("point", "Zoologischer Garten")
	params.Set("pt.ignore_transfers", "true")

	ctrl := store.Create(context.Background(), params)

	_, err := uuid.Parse(ctrl.SessionID())
	require.NoError(t, err)
	assert.True(t, ctrl.Ready())

	snap := ctrl.Snapshot()
	c, ok := snap.Search.From.Coords()
	require.True(t, ok)
	assert.Equal(t, models.Coordinates{Lat: 52.52, Lon: 13.41}, c)
	assert.Equal(t, "Zoologischer Garten", snap.Search.To.Text())
	assert.True(t, snap.Search.IgnoreTransfers)
	assert.Equal(t, 1, store.Count())
}

func TestCreateWithUnavailableInfo(t *testing.T) {
	store := newTestStore(t, nil)
	store.deps.Info = &testutil.FakeInfoFetcher{Err: routing.ErrConfigUnavailable}

	ctrl := store.Create(context.Background(), nil)

	assert.False(t, ctrl.Ready())
	got, err := store.Get(context.Background(), ctrl.SessionID())
	require.NoError(t, err)
	assert.Same(t, ctrl, got)
}

func TestGetReturnsSameController(t *testing.T) {
	store := newTestStore(t, nil)
	ctrl := store.Create(context.Background(), nil)

	got, err := store.Get(context.Background(), ctrl.SessionID())
	require.NoError(t, err)
	assert.Same(t, ctrl, got)
}

func TestGetUnknownSession(t *testing.T) {
	store := newTestStore(t, &mapStates{urls: map[string]string{}})

	_, err := store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetRestoresFromLastState(t *testing.T) {
	id := uuid.NewString()
	states := &mapStates{urls: map[string]string{
		id: "http://planner.test/?point=52.5%2C13.4&point=52.6%2C13.5&pt.access_profile=bike",
	}}
	store := newTestStore(t, states)

	ctrl, err := store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, ctrl.SessionID())
	snap := ctrl.Snapshot()
	assert.True(t, snap.Search.Resolved())
	assert.Equal(t, "bike", snap.Search.AccessProfile)
	assert.Empty(t, snap.Routes.Query)

	again, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, ctrl, again)
}

func TestGetAfterDeleteRestores(t *testing.T) {
	states := &mapStates{urls: map[string]string{}}
	store := newTestStore(t, states)
	ctrl := store.Create(context.Background(), nil)
	states.urls[ctrl.SessionID()] = "http://planner.test/?pt.egress_profile=car"

	store.Delete(ctrl.SessionID())
	restored, err := store.Get(context.Background(), ctrl.SessionID())

	require.NoError(t, err)
	assert.NotSame(t, ctrl, restored)
	assert.Equal(t, "car", restored.Snapshot().Search.EgressProfile)
}

func TestGetStateReaderError(t *testing.T) {
	boom := errors.New("disk on fire")
	store := newTestStore(t, &mapStates{err: boom})

	_, err := store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, boom)
}

func TestRestoreDoesNotBlockOtherSessions(t *testing.T) {
	restoredID := uuid.NewString()
	states := &mapStates{urls: map[string]string{
		restoredID: "http://planner.test/?pt.access_profile=bike",
	}}
	store := newTestStore(t, states)
	info := newGatedInfo()
	store.deps.Info = info

	cached := store.Create(context.Background(), nil)
	info.arm()

	restored := make(chan *controller.Controller, 1)
	go func() {
		ctrl, err := store.Get(context.Background(), restoredID)
		assert.NoError(t, err)
		restored <- ctrl
	}()
	<-info.entered

	got := make(chan *controller.Controller, 1)
	go func() {
		ctrl, _ := store.Get(context.Background(), cached.SessionID())
		got <- ctrl
	}()

	select {
	case ctrl := <-got:
		assert.Same(t, cached, ctrl)
	case <-time.After(2 * time.Second):
		t.Fatal("lookup of a cached session waited for another session's restore")
	}

	close(info.release)
	ctrl := <-restored
	require.NotNil(t, ctrl)
	assert.True(t, ctrl.Ready())
	assert.Equal(t, "bike", ctrl.Snapshot().Search.AccessProfile)

	again, err := store.Get(context.Background(), restoredID)
	require.NoError(t, err)
	assert.Same(t, ctrl, again)
}
