// Package store holds the persistent side of the proxy: generation-scoped
// blob caches and the structured record store, both on top of one leveldb
// database that is opened lazily and shared for the life of the process.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Handle opens the leveldb database on first use and returns the same *leveldb.DB
// to every later caller. An empty path keeps the database in memory.
type Handle struct {
	path   string
	opened atomic.Bool
	open   func() (*leveldb.DB, error)
}

func NewHandle(path string) *Handle {
	h := &Handle{path: path}
	h.open = sync.OnceValues(func() (*leveldb.DB, error) {
		h.opened.Store(true)
		if path == "" {
			return leveldb.Open(storage.NewMemStorage(), nil)
		}
		db, err := leveldb.OpenFile(path, nil)
		if err != nil {
			return nil, fmt.Errorf("open leveldb at %q: %w", path, err)
		}
		return db, nil
	})
	return h
}

func (h *Handle) DB() (*leveldb.DB, error) {
	return h.open()
}

// Close releases the database if it was ever opened.
func (h *Handle) Close() error {
	if !h.opened.Load() {
		return nil
	}
	db, err := h.open()
	if err != nil {
		return nil
	}
	return db.Close()
}
