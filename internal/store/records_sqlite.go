package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite" // SQLite driver
)

const recordsTable = "offgrid_records"

// SQLiteRecords keeps records in a SQLite file. The database is opened on first use.
type SQLiteRecords struct {
	path   string
	opened atomic.Bool
	open   func() (*sql.DB, error)
}

var _ RecordStore = &SQLiteRecords{}

func NewSQLiteRecords(path string) (*SQLiteRecords, error) {
	if path == "" {
		return nil, errors.New("sqlite records: empty path")
	}
	s := &SQLiteRecords{path: path}
	s.open = sync.OnceValues(func() (*sql.DB, error) {
		s.opened.Store(true)
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite records at %q: %w", path, err)
		}
		// Limit SQLite to a single open connection to avoid "database is locked" errors
		db.SetMaxOpenConns(1)
		query := `CREATE TABLE IF NOT EXISTS ` + recordsTable + ` (
			ns TEXT NOT NULL,
			key TEXT NOT NULL,
			payload BLOB,
			pinned INTEGER NOT NULL DEFAULT 0,
			ts INTEGER NOT NULL,
			PRIMARY KEY (ns, key)
		);`
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create table %s: %w", recordsTable, err)
		}
		return db, nil
	})
	return s, nil
}

func (s *SQLiteRecords) Put(ctx context.Context, ns Namespace, rec Record) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO `+recordsTable+` (ns, key, payload, pinned, ts) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ns, key) DO UPDATE SET payload = excluded.payload, pinned = excluded.pinned, ts = excluded.ts`,
		string(ns), rec.Key, rec.Payload, rec.Pinned, rec.Timestamp)
	return err
}

func (s *SQLiteRecords) Get(ctx context.Context, ns Namespace, key string) (Record, bool, error) {
	db, err := s.open()
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{Key: key}
	row := db.QueryRowContext(ctx, `SELECT payload, pinned, ts FROM `+recordsTable+` WHERE ns = ? AND key = ?`, string(ns), key)
	if err := row.Scan(&rec.Payload, &rec.Pinned, &rec.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteRecords) All(ctx context.Context, ns Namespace) ([]Record, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, payload, pinned, ts FROM `+recordsTable+` WHERE ns = ?`, string(ns))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Payload, &rec.Pinned, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteRecords) Keys(ctx context.Context, ns Namespace) ([]string, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key FROM `+recordsTable+` WHERE ns = ?`, string(ns))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteRecords) Delete(ctx context.Context, ns Namespace, key string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM `+recordsTable+` WHERE ns = ? AND key = ?`, string(ns), key)
	return err
}

// Close releases the database if it was ever opened.
func (s *SQLiteRecords) Close() error {
	if !s.opened.Load() {
		return nil
	}
	db, err := s.open()
	if err != nil {
		return nil
	}
	return db.Close()
}
