package offgrid

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offgrid/internal/store"
)

const installParallelism = 8

// Lifecycle installs the core resources of a generation and retires the
// generations it supersedes.
type Lifecycle struct {
	cfg     *Config
	gens    *store.Generations
	fetcher Fetcher
	log     zerolog.Logger
}

func NewLifecycle(cfg *Config, gens *store.Generations, fetcher Fetcher, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{cfg: cfg, gens: gens, fetcher: fetcher, log: log.With().Str("component", "lifecycle").Logger()}
}

// InstallReport lists what an install stored and what it could not fetch.
type InstallReport struct {
	Generation string
	Stored     []string
	Failed     map[string]error
}

// Install fetches every manifest address into the current generation. A
// failing address is recorded and the others carry on; only an unusable
// generation fails the install. The generation is ready to take over as soon
// as Install returns.
func (l *Lifecycle) Install(ctx context.Context) (InstallReport, error) {
	rep := InstallReport{Generation: l.cfg.Generation, Failed: map[string]error{}}
	cache, err := l.gens.Open(l.cfg.Generation)
	if err != nil {
		return rep, fmt.Errorf("open generation %s: %w", l.cfg.Generation, err)
	}

	manifest := l.manifest(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(installParallelism)
	for _, address := range manifest {
		g.Go(func() error {
			err := l.installOne(ctx, cache, address)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[address] = err
				return nil
			}
			rep.Stored = append(rep.Stored, address)
			return nil
		})
	}
	_ = g.Wait()

	for address, err := range rep.Failed {
		l.log.Warn().Err(err).Str("url", address).Msg("core resource not installed")
	}
	l.log.Info().Str("generation", rep.Generation).Int("stored", len(rep.Stored)).Int("failed", len(rep.Failed)).Msg("install done")
	return rep, nil
}

func (l *Lifecycle) installOne(ctx context.Context, cache *store.BlobCache, address string) error {
	u, err := parseAbs(address)
	if err != nil {
		return err
	}
	h := make(http.Header)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	resp, err := l.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: u, Header: h})
	if err != nil {
		return err
	}
	if !cacheable(resp) {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	return cache.Put(resp.entry(address))
}

// manifest resolves the configured core list plus any sitemap entries,
// without duplicates.
func (l *Lifecycle) manifest(ctx context.Context) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		address, err := resolveAddress(l.cfg.origin, raw)
		if err != nil {
			l.log.Warn().Err(err).Str("entry", raw).Msg("manifest entry ignored")
			return
		}
		if _, ok := seen[address]; ok {
			return
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}

	for _, raw := range l.cfg.Install.Core {
		add(raw)
	}
	if l.cfg.Install.Sitemap != "" {
		locs, err := l.discoverSitemap(ctx, l.cfg.Install.Sitemap)
		if err != nil {
			l.log.Warn().Err(err).Str("sitemap", l.cfg.Install.Sitemap).Msg("sitemap discovery failed")
		}
		for _, loc := range locs {
			add(loc)
		}
	}
	return out
}

// Activate deletes every generation other than the current one and hands the
// current cache to claim, which takes over all clients at once.
func (l *Lifecycle) Activate(ctx context.Context, claim func(*store.BlobCache)) ([]string, error) {
	names, err := l.gens.Names()
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	var dropped []string
	for _, name := range names {
		if name == l.cfg.Generation {
			continue
		}
		if err := l.gens.Drop(name); err != nil {
			return dropped, err
		}
		dropped = append(dropped, name)
	}

	cache, err := l.gens.Open(l.cfg.Generation)
	if err != nil {
		return dropped, err
	}
	if claim != nil {
		claim(cache)
	}
	l.log.Info().Str("generation", l.cfg.Generation).Strs("dropped", dropped).Msg("activated")
	return dropped, nil
}
