package offgrid

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"offgrid/internal/store"
)

// blobTrimmer is the part of a blob cache eviction needs.
type blobTrimmer interface {
	Keys() ([]string, error)
	Delete(url string) (bool, error)
}

// TrimBlobs deletes the oldest entries of c until at most maxItems remain,
// never touching an address in exempt. If exempt entries alone exceed the cap
// the cache stays over the limit. Delete failures are collected and the walk
// goes on.
func TrimBlobs(c blobTrimmer, maxItems int, exempt map[string]struct{}) (int, error) {
	keys, err := c.Keys()
	if err != nil {
		return 0, fmt.Errorf("list blob keys: %w", err)
	}
	excess := len(keys) - maxItems
	if excess <= 0 {
		return 0, nil
	}

	var errs []error
	deleted := 0
	for _, k := range keys {
		if deleted >= excess {
			break
		}
		if _, ok := exempt[k]; ok {
			continue
		}
		ok, err := c.Delete(k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errors.Join(errs...)
}

// TrimRecords keeps the newest maxEntries records of ns, deleting the rest
// oldest first.
func TrimRecords(ctx context.Context, rs store.RecordStore, ns store.Namespace, maxEntries int) (int, error) {
	recs, err := rs.All(ctx, ns)
	if err != nil {
		return 0, fmt.Errorf("list %s records: %w", ns, err)
	}
	excess := len(recs) - maxEntries
	if excess <= 0 {
		return 0, nil
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })

	var errs []error
	deleted := 0
	for _, rec := range recs[:excess] {
		if err := rs.Delete(ctx, ns, rec.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// pinnedSet returns every pinned address as an exemption set.
func pinnedSet(ctx context.Context, rs store.RecordStore) (map[string]struct{}, error) {
	keys, err := rs.Keys(ctx, store.Pins)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}
