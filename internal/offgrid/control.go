package offgrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"offgrid/internal/store"
)

// Pin makes sure the full payload of address is cached, then marks it pinned so
// eviction leaves it alone. A payload that cannot be fetched is not pinned.
func (rt *Router) Pin(ctx context.Context, address string) error {
	ent, ok := rt.match(address)
	if !ok || ent.Status != http.StatusOK {
		u, err := parseAbs(address)
		if err != nil {
			return fmt.Errorf("parse %s: %w", address, err)
		}
		resp, err := rt.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: u, Header: make(http.Header)})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", address, err)
		}
		if resp.Status != http.StatusOK {
			return fmt.Errorf("fetch %s: unexpected status %d", address, resp.Status)
		}
		if err := rt.blobs().Put(resp.entry(address)); err != nil {
			return err
		}
	}
	rec := store.Record{Key: address, Pinned: true, Timestamp: rt.now().UnixMilli()}
	return rt.records.Put(ctx, store.Pins, rec)
}

// Unpin removes the pin marker only; the cached payload stays until evicted.
func (rt *Router) Unpin(ctx context.Context, address string) error {
	return rt.records.Delete(ctx, store.Pins, address)
}

// Delete drops address from the blob cache and the pin namespace.
func (rt *Router) Delete(ctx context.Context, address string) error {
	_, blobErr := rt.blobs().Delete(address)
	return errors.Join(blobErr, rt.records.Delete(ctx, store.Pins, address))
}

// EntryInfo describes one cached payload.
type EntryInfo struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Size   int    `json:"size"`
	Pinned bool   `json:"pinned"`
}

// Entries lists the current generation oldest first.
func (rt *Router) Entries(ctx context.Context) ([]EntryInfo, error) {
	c := rt.blobs()
	keys, err := c.Keys()
	if err != nil {
		return nil, err
	}
	pinned, err := pinnedSet(ctx, rt.records)
	if err != nil {
		return nil, err
	}
	out := make([]EntryInfo, 0, len(keys))
	for _, k := range keys {
		ent, ok, err := c.Match(k)
		if err != nil || !ok {
			continue
		}
		_, pin := pinned[k]
		out = append(out, EntryInfo{URL: k, Status: ent.Status, Size: len(ent.Body), Pinned: pin})
	}
	return out, nil
}

type controlOp struct {
	name string
	run  func(ctx context.Context, address string) error
}

// command schedules a control operation; the caller gets no result back.
func (rt *Router) command(op controlOp, address string) {
	rt.bg.Go(op.name, func(ctx context.Context) {
		if err := op.run(ctx, address); err != nil {
			rt.log.Warn().Err(err).Str("op", op.name).Str("url", address).Msg("control command failed")
			return
		}
		rt.log.Info().Str("op", op.name).Str("url", address).Msg("control command done")
	})
}
