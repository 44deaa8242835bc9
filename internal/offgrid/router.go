package offgrid

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"offgrid/internal/store"
)

// Router classifies every request and runs the matching caching strategy
// against the current blob cache generation and the record store.
type Router struct {
	cfg        *Config
	classifier *Classifier
	fetcher    Fetcher
	records    store.RecordStore
	cache      atomic.Pointer[store.BlobCache]

	bg       *background
	stats    *statsCollector
	log      zerolog.Logger
	storeLog *rateLimitedLogger

	now func() time.Time
}

func NewRouter(cfg *Config, cache *store.BlobCache, records store.RecordStore, fetcher Fetcher, log zerolog.Logger) *Router {
	log = log.With().Str("component", "router").Logger()
	rt := &Router{
		cfg:        cfg,
		classifier: NewClassifier(cfg),
		fetcher:    fetcher,
		records:    records,
		bg:         newBackground(cfg.Background.Workers, cfg.bgTimeout, log),
		stats:      newStatsCollector(),
		log:        log,
		storeLog:   newRateLimitedLogger(log, time.Minute),
		now:        time.Now,
	}
	rt.cache.Store(cache)
	return rt
}

// Claim switches every subsequent request to cache.
func (rt *Router) Claim(cache *store.BlobCache) {
	rt.cache.Store(cache)
}

func (rt *Router) blobs() *store.BlobCache {
	return rt.cache.Load()
}

// Wait blocks until detached background work has finished.
func (rt *Router) Wait() { rt.bg.Wait() }

// Close cancels pending background work.
func (rt *Router) Close() { rt.bg.Close() }

// Handle answers req. It never returns nil; when neither the network nor a
// store can answer, the response is a 503 with an empty body.
func (rt *Router) Handle(ctx context.Context, req *Request) (*Response, Category) {
	if req.Method != http.MethodGet {
		resp := rt.passthrough(ctx, req, "", false)
		rt.stats.Observe(Passthrough, resp)
		return resp, Passthrough
	}

	d := describe(req)
	cat := rt.classifier.Classify(d)
	address := Normalize(req.URL)

	var resp *Response
	switch cat {
	case Navigation:
		resp = rt.navigation(ctx, req, address)
	case Media:
		resp = rt.media(ctx, req, address)
	case StaticAsset:
		resp = rt.static(ctx, req, address, d.Dest)
	case StructuredData:
		resp = rt.structured(ctx, req, address)
	default:
		resp = rt.passthrough(ctx, req, address, true)
	}
	rt.stats.Observe(cat, resp)
	return resp, cat
}

// navigation is network-first with an offline page fallback.
func (rt *Router) navigation(ctx context.Context, req *Request, address string) *Response {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err == nil {
		if cacheable(resp) {
			ent := resp.entry(address)
			rt.bg.Go("store-navigation", func(context.Context) { rt.put(ent) })
		}
		return resp
	}
	rt.log.Debug().Err(err).Str("url", address).Msg("navigation offline")

	for _, fb := range rt.cfg.Policy.OfflineFallbacks {
		fbAddr, err := resolveAddress(req.URL, fb)
		if err != nil {
			continue
		}
		if ent, ok := rt.match(fbAddr); ok {
			return fromEntry(ent, sourceFallback)
		}
	}
	return rt.offlinePage()
}

func (rt *Router) offlinePage() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	body := "<!doctype html><html><head><meta charset=\"utf-8\"><title>Offline</title></head><body><p>" +
		html.EscapeString(rt.cfg.Policy.OfflineMessage) + "</p></body></html>"
	return &Response{Status: http.StatusOK, Header: h, Body: []byte(body), Source: sourceOffline}
}

// media is cache-first and range-aware. Full payloads are cached and pinned;
// partial responses pass through uncached.
func (rt *Router) media(ctx context.Context, req *Request, address string) *Response {
	rangeHeader := req.Header.Get("Range")

	if ent, ok := rt.match(address); ok {
		full := withoutRange(req)
		rt.bg.Go("refresh-media", func(ctx context.Context) { rt.refreshMedia(ctx, full, address) })
		return SliceRange(fromEntry(ent, sourceCache), rangeHeader)
	}

	resp, err := rt.fetcher.Fetch(ctx, req)
	if err != nil {
		rt.log.Debug().Err(err).Str("url", address).Msg("media unavailable")
		return unavailable()
	}
	if resp.Status != http.StatusOK {
		return resp
	}
	rt.put(resp.entry(address))
	rt.writePin(ctx, address)
	rt.bg.Go("evict-blobs", rt.evictBlobs)
	return SliceRange(resp, rangeHeader)
}

func (rt *Router) refreshMedia(ctx context.Context, req *Request, address string) {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err != nil {
		rt.log.Debug().Err(err).Str("url", address).Msg("media refresh failed")
		return
	}
	if resp.Status != http.StatusOK {
		return
	}
	if rt.put(resp.entry(address)) {
		rt.writePin(ctx, address)
	}
}

// static serves from cache and revalidates in the background.
func (rt *Router) static(ctx context.Context, req *Request, address string, dest Destination) *Response {
	if ent, ok := rt.match(address); ok {
		bgReq := req.clone()
		rt.bg.Go("refresh-static", func(ctx context.Context) { rt.refreshStatic(ctx, bgReq, address, ent.Hash) })
		return fromEntry(ent, sourceCache)
	}

	resp, err := rt.fetcher.Fetch(ctx, req)
	if err == nil {
		if cacheable(resp) {
			rt.put(resp.entry(address))
		}
		return resp
	}
	if ent, ok := rt.match(address); ok {
		return fromEntry(ent, sourceFallback)
	}
	resp = unavailable()
	if dest == DestImage {
		resp.Header.Set("Content-Type", "image/svg+xml")
	}
	return resp
}

func (rt *Router) refreshStatic(ctx context.Context, req *Request, address string, prevHash uint64) {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err != nil || !cacheable(resp) {
		return
	}
	if store.Fingerprint(resp.Body) == prevHash {
		return
	}
	rt.put(resp.entry(address))
}

// structured is network-first; decoded bodies are kept as records for offline use.
func (rt *Router) structured(ctx context.Context, req *Request, address string) *Response {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.Status >= 200 && resp.Status < 300 {
			body := resp.Body
			rt.bg.Go("persist-record", func(ctx context.Context) { rt.persistRecord(ctx, address, body) })
		}
		return resp
	}

	rec, ok, rerr := rt.records.Get(ctx, store.API, address)
	if rerr != nil {
		rt.storeLog.Warn(rerr, "get-record", address)
	}
	if ok {
		h := make(http.Header)
		h.Set("Content-Type", "application/json")
		return &Response{Status: http.StatusOK, Header: h, Body: rec.Payload, Source: sourceRecord}
	}
	if ent, ok := rt.match(address); ok {
		return fromEntry(ent, sourceFallback)
	}
	return unavailable()
}

func (rt *Router) persistRecord(ctx context.Context, address string, body []byte) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		rt.log.Debug().Err(err).Str("url", address).Msg("response is not json, record skipped")
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	rec := store.Record{Key: address, Payload: payload, Timestamp: rt.now().UnixMilli()}
	if err := rt.records.Put(ctx, store.API, rec); err != nil {
		rt.storeLog.Warn(err, "put-record", address)
		return
	}
	n, err := TrimRecords(ctx, rt.records, store.API, rt.cfg.Limits.Records)
	if err != nil {
		rt.log.Warn().Err(err).Msg("record trim")
	}
	if n > 0 {
		rt.log.Debug().Int("deleted", n).Msg("records trimmed")
	}
}

// passthrough fetches verbatim. With fallback set a cached copy answers when
// the network fails; nothing is ever written.
func (rt *Router) passthrough(ctx context.Context, req *Request, address string, fallback bool) *Response {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp
	}
	if fallback {
		if ent, ok := rt.match(address); ok {
			return fromEntry(ent, sourceFallback)
		}
	}
	return unavailable()
}

func (rt *Router) evictBlobs(ctx context.Context) {
	exempt, err := pinnedSet(ctx, rt.records)
	if err != nil {
		rt.log.Warn().Err(err).Msg("eviction skipped: pins unreadable")
		return
	}
	n, err := TrimBlobs(rt.blobs(), rt.cfg.Limits.Blobs, exempt)
	if err != nil {
		rt.log.Warn().Err(err).Msg("blob trim")
	}
	if n > 0 {
		rt.log.Debug().Int("deleted", n).Int("pinned", len(exempt)).Msg("blobs trimmed")
	}
}

func (rt *Router) match(address string) (store.Entry, bool) {
	ent, ok, err := rt.blobs().Match(address)
	if err != nil {
		rt.storeLog.Warn(err, "match", address)
		return store.Entry{}, false
	}
	return ent, ok
}

func (rt *Router) put(ent store.Entry) bool {
	if err := rt.blobs().Put(ent); err != nil {
		rt.storeLog.Warn(err, "put", ent.URL)
		return false
	}
	return true
}

func (rt *Router) writePin(ctx context.Context, address string) {
	rec := store.Record{Key: address, Pinned: true, Timestamp: rt.now().UnixMilli()}
	if err := rt.records.Put(ctx, store.Pins, rec); err != nil {
		rt.storeLog.Warn(err, "pin", address)
	}
}

// cacheable reports whether a network response may be stored as a full payload.
func cacheable(resp *Response) bool {
	return resp.Status >= 200 && resp.Status < 300 && resp.Status != http.StatusPartialContent
}

func (r *Request) clone() *Request {
	out := *r
	out.Header = cloneHeader(r.Header)
	return &out
}

// withoutRange is a copy of r asking for the full payload.
func withoutRange(r *Request) *Request {
	out := r.clone()
	out.Header.Del("Range")
	out.Header.Del("If-Range")
	return out
}
