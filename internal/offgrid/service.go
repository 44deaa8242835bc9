package offgrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"offgrid/internal/store"
)

// Service wires the stores, the router and the lifecycle into an HTTP proxy.
type Service struct {
	cfg Config
	log zerolog.Logger

	handle    *store.Handle
	gens      *store.Generations
	records   store.RecordStore
	router    *Router
	lifecycle *Lifecycle
	control   http.Handler

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg Config, log zerolog.Logger) (*Service, error) {
	return newService(cfg, log, newHTTPFetcher(cfg.networkTimeout, cfg.maxBodyBytes))
}

func newService(cfg Config, log zerolog.Logger, fetcher Fetcher) (*Service, error) {
	path := cfg.Storage.Path
	if path == ":memory:" {
		path = ""
	}
	handle := store.NewHandle(path)
	gens := store.NewGenerations(handle)
	records, err := store.OpenRecords(cfg.Storage.Records, handle, cfg.Storage.SQLitePath)
	if err != nil {
		_ = handle.Close()
		return nil, err
	}
	cache, err := gens.Open(cfg.Generation)
	if err != nil {
		_ = records.Close()
		_ = handle.Close()
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		log:     log,
		handle:  handle,
		gens:    gens,
		records: records,
		stopCh:  make(chan struct{}),
	}
	s.router = NewRouter(&s.cfg, cache, records, fetcher, log)
	s.lifecycle = NewLifecycle(&s.cfg, gens, fetcher, log)
	s.control = s.controlHandler()

	if s.cfg.statsEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(s.cfg.statsEvery)
		}()
	}
	return s, nil
}

// Start installs the current generation and activates it.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.lifecycle.Install(ctx); err != nil {
		return err
	}
	_, err := s.lifecycle.Activate(ctx, s.router.Claim)
	return err
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	s.router.Close()
	_ = s.records.Close()
	_ = s.handle.Close()
}

func (s *Service) Router() *Router { return s.router }

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.serveProxy)
}

func (s *Service) serveProxy(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() && (r.URL.Path == s.cfg.Server.Control || strings.HasPrefix(r.URL.Path, s.cfg.Server.Control+"/")) {
		s.control.ServeHTTP(w, r)
		return
	}

	req, err := s.inbound(r)
	if err != nil {
		setOffgridHeaders(w.Header(), "passthrough/"+sourceUnavailable)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	resp, cat := s.router.Handle(r.Context(), req)
	writeResponse(w, resp, cat.String()+"/"+resp.Source)
}

// inbound resolves r against the origin. Absolute-form requests (forward
// proxy) keep their own address.
func (s *Service) inbound(r *http.Request) (*Request, error) {
	u := r.URL
	if !u.IsAbs() {
		var err error
		u, err = url.Parse(s.cfg.Server.Origin + r.URL.RequestURI())
		if err != nil {
			return nil, err
		}
	}
	req := &Request{Method: r.Method, URL: u, Header: cloneHeader(r.Header)}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.maxBodyBytes))
		if err != nil {
			return nil, err
		}
		req.Body = b
	}
	return req, nil
}

func writeResponse(w http.ResponseWriter, resp *Response, tag string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "x-offgrid") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOffgridHeaders(w.Header(), tag)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func setOffgridHeaders(h http.Header, tag string) {
	if tag != "" {
		h.Set("X-Offgrid", tag)
	}
	// Custom headers are not readable by JS in a CORS context unless exposed.
	ensureExposedHeader(h, "X-Offgrid")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func (s *Service) controlHandler() http.Handler {
	prefix := s.cfg.Server.Control
	mux := http.NewServeMux()
	ops := []controlOp{
		{name: "pin", run: s.router.Pin},
		{name: "unpin", run: s.router.Unpin},
		{name: "delete", run: s.router.Delete},
	}
	for _, op := range ops {
		mux.HandleFunc("POST "+prefix+"/"+op.name, func(w http.ResponseWriter, r *http.Request) {
			address, err := resolveAddress(s.cfg.origin, r.URL.Query().Get("url"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.router.command(op, address)
			w.WriteHeader(http.StatusAccepted)
		})
	}
	mux.HandleFunc("GET "+prefix+"/keys", func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.router.Entries(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("list entries")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	})
	return mux
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.router.stats.Snapshot()
			ev := s.log.Info().
				Uint64("responses", ss.TotalResponses).
				Str("resp_min", formatBytes(ss.MinRespBytes)).
				Str("resp_avg", formatBytes(ss.AvgRespBytes)).
				Str("resp_max", formatBytes(ss.MaxRespBytes))
			if keys, err := s.router.blobs().Keys(); err == nil {
				ev = ev.Int("blobs", len(keys))
			}
			for name, c := range ss.Categories {
				ev = ev.Dict(name, zerolog.Dict().
					Uint64("network", c.Network).
					Uint64("cache", c.Cache).
					Uint64("fallback", c.Fallback).
					Uint64("unavailable", c.Unavailable))
			}
			ev.Msg("stats")
		}
	}
}
