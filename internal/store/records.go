package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Namespace separates independent record sets sharing one store.
type Namespace string

const (
	// API holds decoded structured responses.
	API Namespace = "api"
	// Pins holds pin markers that exempt cached payloads from eviction.
	Pins Namespace = "pins"
)

// Record is a structured value keyed by address within a namespace.
type Record struct {
	Key       string
	Payload   []byte
	Pinned    bool
	Timestamp int64 // unix milliseconds
}

// RecordStore is transactional key-value persistence with unique keys per namespace.
type RecordStore interface {
	Put(ctx context.Context, ns Namespace, rec Record) error
	Get(ctx context.Context, ns Namespace, key string) (Record, bool, error)
	All(ctx context.Context, ns Namespace) ([]Record, error)
	Keys(ctx context.Context, ns Namespace) ([]string, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	Close() error
}

// Backend selects the RecordStore implementation.
type Backend string

const (
	LevelDBBackend Backend = "leveldb"
	SQLiteBackend  Backend = "sqlite"
)

// OpenRecords returns the RecordStore for backend. The leveldb backend shares h;
// the sqlite backend keeps its own file at sqlitePath.
func OpenRecords(backend Backend, h *Handle, sqlitePath string) (RecordStore, error) {
	switch backend {
	case LevelDBBackend, "":
		return NewLevelRecords(h), nil
	case SQLiteBackend:
		return NewSQLiteRecords(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported records backend: %s. Must be leveldb or sqlite", backend)
	}
}

const recordPrefix = "r"

// LevelRecords keeps records in the shared leveldb database.
type LevelRecords struct {
	h *Handle
}

var _ RecordStore = &LevelRecords{}

func NewLevelRecords(h *Handle) *LevelRecords {
	return &LevelRecords{h: h}
}

func nsPrefix(ns Namespace) []byte {
	return append(keyOf(recordPrefix, string(ns)), 0)
}

func recordKey(ns Namespace, key string) []byte {
	return append(nsPrefix(ns), key...)
}

func (s *LevelRecords) Put(_ context.Context, ns Namespace, rec Record) error {
	db, err := s.h.DB()
	if err != nil {
		return err
	}
	b, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(ns, rec.Key), b)
	return db.Write(batch, nil)
}

func (s *LevelRecords) Get(_ context.Context, ns Namespace, key string) (Record, bool, error) {
	db, err := s.h.DB()
	if err != nil {
		return Record{}, false, err
	}
	b, err := db.Get(recordKey(ns, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := decodeGob(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *LevelRecords) All(_ context.Context, ns Namespace) ([]Record, error) {
	db, err := s.h.DB()
	if err != nil {
		return nil, err
	}
	it := db.NewIterator(util.BytesPrefix(nsPrefix(ns)), nil)
	defer it.Release()

	var out []Record
	for it.Next() {
		var rec Record
		if err := decodeGob(it.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

func (s *LevelRecords) Keys(_ context.Context, ns Namespace) ([]string, error) {
	db, err := s.h.DB()
	if err != nil {
		return nil, err
	}
	prefix := nsPrefix(ns)
	it := db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return out, it.Error()
}

func (s *LevelRecords) Delete(_ context.Context, ns Namespace, key string) error {
	db, err := s.h.DB()
	if err != nil {
		return err
	}
	return db.Delete(recordKey(ns, key), nil)
}

// Close is a no-op; the Handle owns the database.
func (s *LevelRecords) Close() error { return nil }
