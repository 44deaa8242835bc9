package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zeebo/xxh3"
)

// Entry is one complete response payload kept in a blob cache.
type Entry struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte

	// Seq is the insertion sequence inside the generation; lower is older.
	Seq uint64

	StoredAt int64 // unix seconds
	Hash     uint64
}

// Fingerprint is the body hash stored with every entry. Refreshes compare it to
// skip rewriting an unchanged payload.
func Fingerprint(body []byte) uint64 {
	return xxh3.Hash(body)
}

const (
	blobPrefix = "b"
	genPrefix  = "g"
)

// Generations manages the versioned blob caches living in one database.
type Generations struct {
	h *Handle

	mu   sync.Mutex
	open map[string]*BlobCache
}

func NewGenerations(h *Handle) *Generations {
	return &Generations{h: h, open: map[string]*BlobCache{}}
}

// Open returns the blob cache of the named generation, creating it on first use.
func (g *Generations) Open(name string) (*BlobCache, error) {
	if name == "" {
		return nil, errors.New("store: empty generation name")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.open[name]; ok {
		return c, nil
	}
	db, err := g.h.DB()
	if err != nil {
		return nil, err
	}
	marker := keyOf(genPrefix, name)
	if ok, err := db.Has(marker, nil); err != nil {
		return nil, fmt.Errorf("check generation %q: %w", name, err)
	} else if !ok {
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(time.Now().Unix()))
		if err := db.Put(marker, ts, nil); err != nil {
			return nil, fmt.Errorf("create generation %q: %w", name, err)
		}
	}
	c := &BlobCache{db: db, name: name, prefix: append(keyOf(blobPrefix, name), 0)}
	if err := c.loadSeq(); err != nil {
		return nil, err
	}
	g.open[name] = c
	return c, nil
}

// Names lists every generation present in the database, sorted.
func (g *Generations) Names() ([]string, error) {
	db, err := g.h.DB()
	if err != nil {
		return nil, err
	}
	prefix := append(keyOf(genPrefix), 0)
	it := db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Drop deletes a whole generation: every entry, its order index and the marker.
func (g *Generations) Drop(name string) error {
	db, err := g.h.DB()
	if err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.open, name)
	g.mu.Unlock()

	batch := new(leveldb.Batch)
	it := db.NewIterator(util.BytesPrefix(append(keyOf(blobPrefix, name), 0)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("scan generation %q: %w", name, err)
	}
	batch.Delete(keyOf(genPrefix, name))
	if err := db.Write(batch, nil); err != nil {
		return fmt.Errorf("drop generation %q: %w", name, err)
	}
	return nil
}

// BlobCache is an insertion-ordered store of complete responses keyed by
// address. Replacing an address moves it to the newest position.
type BlobCache struct {
	db     *leveldb.DB
	name   string
	prefix []byte

	mu  sync.Mutex
	seq uint64
}

func (c *BlobCache) Name() string { return c.name }

func (c *BlobCache) entryKey(url string) []byte {
	return append(append(append([]byte(nil), c.prefix...), 'e', 0), url...)
}

func (c *BlobCache) orderPrefix() []byte {
	return append(append([]byte(nil), c.prefix...), 'o', 0)
}

func (c *BlobCache) orderKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(c.orderPrefix(), seq)
}

func (c *BlobCache) loadSeq() error {
	it := c.db.NewIterator(util.BytesPrefix(c.orderPrefix()), nil)
	defer it.Release()
	if it.Last() {
		k := it.Key()
		c.seq = binary.BigEndian.Uint64(k[len(k)-8:])
	}
	return it.Error()
}

// Put stores ent under ent.URL, replacing any previous entry for the address.
func (c *BlobCache) Put(ent Entry) error {
	if ent.URL == "" {
		return errors.New("store: entry without url")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := new(leveldb.Batch)
	if old, ok, err := c.match(ent.URL); err != nil {
		return err
	} else if ok {
		batch.Delete(c.orderKey(old.Seq))
	}

	c.seq++
	ent.Seq = c.seq
	if ent.StoredAt == 0 {
		ent.StoredAt = time.Now().Unix()
	}
	ent.Hash = Fingerprint(ent.Body)
	b, err := encodeGob(ent)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ent.URL, err)
	}
	batch.Put(c.entryKey(ent.URL), b)
	batch.Put(c.orderKey(ent.Seq), []byte(ent.URL))
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("put %s: %w", ent.URL, err)
	}
	return nil
}

// Match returns the entry stored for url.
func (c *BlobCache) Match(url string) (Entry, bool, error) {
	return c.match(url)
}

func (c *BlobCache) match(url string) (Entry, bool, error) {
	b, err := c.db.Get(c.entryKey(url), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", url, err)
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", url, err)
	}
	return ent, true, nil
}

// Delete removes url and reports whether it was present.
func (c *BlobCache) Delete(url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok, err := c.match(url)
	if err != nil || !ok {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(c.entryKey(url))
	batch.Delete(c.orderKey(old.Seq))
	if err := c.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete %s: %w", url, err)
	}
	return true, nil
}

// Keys lists stored addresses oldest first.
func (c *BlobCache) Keys() ([]string, error) {
	it := c.db.NewIterator(util.BytesPrefix(c.orderPrefix()), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
