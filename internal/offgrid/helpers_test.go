package offgrid

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"offgrid/internal/store"
)

var errOffline = errors.New("network unreachable")

type fakeRoute struct {
	status int
	header http.Header
	body   []byte
}

// fakeFetcher answers from a fixed route table; unknown addresses get a 404.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string]fakeRoute
	down   bool
	calls  []*Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: map[string]fakeRoute{}}
}

func (f *fakeFetcher) route(address string, status int, contentType string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	f.routes[address] = fakeRoute{status: status, header: h, body: body}
}

func (f *fakeFetcher) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) lastCall() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeFetcher) Fetch(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.clone())
	if f.down {
		return nil, errOffline
	}
	r, ok := f.routes[Normalize(req.URL)]
	if !ok {
		return &Response{Status: http.StatusNotFound, Header: make(http.Header), Source: sourceNetwork}, nil
	}
	return &Response{Status: r.status, Header: r.header.Clone(), Body: append([]byte(nil), r.body...), Source: sourceNetwork}, nil
}

type testEnv struct {
	cfg     *Config
	router  *Router
	fetcher *fakeFetcher
	gens    *store.Generations
	cache   *store.BlobCache
	records store.RecordStore
}

const testOrigin = "https://app.test"

func testConfig(t *testing.T, mutate func(*Config)) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.Server.Origin = testOrigin
	cfg.Storage.Path = ":memory:"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Compile())
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t, mutate)
	h := store.NewHandle("")
	gens := store.NewGenerations(h)
	cache, err := gens.Open(cfg.Generation)
	require.NoError(t, err)
	records := store.NewLevelRecords(h)
	ff := newFakeFetcher()

	rt := NewRouter(cfg, cache, records, ff, zerolog.Nop())
	var tick int64
	var mu sync.Mutex
	rt.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return time.UnixMilli(1_700_000_000_000 + tick)
	}
	t.Cleanup(func() {
		rt.Close()
		_ = h.Close()
	})
	return &testEnv{cfg: cfg, router: rt, fetcher: ff, gens: gens, cache: cache, records: records}
}

func get(t *testing.T, raw string, headers ...string) *Request {
	t.Helper()
	require.Zero(t, len(headers)%2, "headers come in pairs")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	h := make(http.Header)
	for i := 0; i < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return &Request{Method: http.MethodGet, URL: u, Header: h}
}

func (e *testEnv) do(t *testing.T, req *Request) (*Response, Category) {
	t.Helper()
	resp, cat := e.router.Handle(context.Background(), req)
	require.NotNil(t, resp)
	e.router.Wait()
	return resp, cat
}

func (e *testEnv) cached(t *testing.T, address string) (store.Entry, bool) {
	t.Helper()
	ent, ok, err := e.cache.Match(address)
	require.NoError(t, err)
	return ent, ok
}

func (e *testEnv) pinned(t *testing.T, address string) bool {
	t.Helper()
	_, ok, err := e.records.Get(context.Background(), store.Pins, address)
	require.NoError(t, err)
	return ok
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
