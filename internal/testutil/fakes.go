package testutil

import (
	"context"
	"sync"

	"transit-planner/internal/geocoding"
	"transit-planner/internal/models"
)

// FakeResolver is a geocoding.Resolver backed by a fixed address book.
// Unknown addresses resolve to geocoding.ErrGeocodeNotFound.
type FakeResolver struct {
	mu        sync.Mutex
	addresses map[string]models.Coordinates
	failures  map[string]error
	Calls     []string
}

func NewFakeResolver() *FakeResolver {
	return &FakeResolver{
		addresses: make(map[string]models.Coordinates),
		failures:  make(map[string]error),
	}
}

// Add registers an address
func (f *FakeResolver) Add(address string, c models.Coordinates) *FakeResolver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[address] = c
	return f
}

// Fail makes lookups of address return err
func (f *FakeResolver) Fail(address string, err error) *FakeResolver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[address] = err
	return f
}

func (f *FakeResolver) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, address)

	if err, ok := f.failures[address]; ok {
		return models.Coordinates{}, err
	}
	if c, ok := f.addresses[address]; ok {
		return c, nil
	}
	return models.Coordinates{}, &geocoding.NotFoundError{Address: address}
}

// CallCount returns the number of lookups made
func (f *FakeResolver) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

type fetchResult struct {
	paths []models.Path
	err   error
}

// FakeFetcher is a routing.Fetcher that records queries. By default it answers
// immediately with Paths; after Gate, each query blocks until Release is called for it.
type FakeFetcher struct {
	mu      sync.Mutex
	Paths   []models.Path
	Err     error
	Calls   []string
	gated   bool
	pending map[string]chan fetchResult
}

func NewFakeFetcher(paths ...models.Path) *FakeFetcher {
	return &FakeFetcher{
		Paths:   paths,
		pending: make(map[string]chan fetchResult),
	}
}

// Gate makes every following fetch wait for Release
func (f *FakeFetcher) Gate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gated = true
}

// Release answers a gated fetch for query
func (f *FakeFetcher) Release(query string, paths []models.Path, err error) {
	f.channel(query) <- fetchResult{paths: paths, err: err}
}

func (f *FakeFetcher) channel(query string) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.pending[query]
	if !ok {
		ch = make(chan fetchResult, 1)
		f.pending[query] = ch
	}
	return ch
}

func (f *FakeFetcher) Fetch(ctx context.Context, query string) ([]models.Path, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, query)
	gated := f.gated
	paths, err := ClonePaths(f.Paths), f.Err
	f.mu.Unlock()

	if !gated {
		return paths, err
	}

	select {
	case res := <-f.channel(query):
		return ClonePaths(res.paths), res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallCount returns the number of fetches made
func (f *FakeFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeInfoFetcher serves a fixed capability descriptor or error
type FakeInfoFetcher struct {
	Info *models.Info
	Err  error
}

func (f *FakeInfoFetcher) FetchInfo(ctx context.Context) (*models.Info, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Info.Clone(), nil
}

// RecordingMirror keeps every URL it was asked to show
type RecordingMirror struct {
	mu   sync.Mutex
	URLs []string
}

func (m *RecordingMirror) Replace(ctx context.Context, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.URLs = append(m.URLs, url)
	return nil
}

// Last returns the most recent URL, or ""
func (m *RecordingMirror) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.URLs) == 0 {
		return ""
	}
	return m.URLs[len(m.URLs)-1]
}

// Count returns the number of replacements
func (m *RecordingMirror) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.URLs)
}

// BlockingMirror records like RecordingMirror, but its first Replace waits until
// Release is called. Entered is closed once that first call has started.
type BlockingMirror struct {
	RecordingMirror
	Entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewBlockingMirror() *BlockingMirror {
	return &BlockingMirror{
		Entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *BlockingMirror) Replace(ctx context.Context, sessionID, url string) error {
	first := false
	m.once.Do(func() { first = true })
	if first {
		close(m.Entered)
		select {
		case <-m.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.RecordingMirror.Replace(ctx, sessionID, url)
}

// Release lets the first Replace finish
func (m *BlockingMirror) Release() {
	close(m.release)
}

// ClonePaths deep-copies paths
func ClonePaths(paths []models.Path) []models.Path {
	if paths == nil {
		return nil
	}
	out := make([]models.Path, len(paths))
	for i := range paths {
		out[i] = paths[i].Clone()
	}
	return out
}

// TestInfo is a valid capability descriptor
func TestInfo() *models.Info {
	return &models.Info{BBox: []float64{13.0, 52.3, 13.8, 52.7}, Version: "test"}
}
