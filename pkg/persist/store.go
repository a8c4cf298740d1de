// Package persist saves contour attributes to a SQLite file.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/chazu/rtcontour/pkg/contour"
)

// ErrNotFound is returned when no contour with the requested ID is stored.
var ErrNotFound = errors.New("persist: contour not found")

// Store keeps one JSON row per contour.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path. An empty path opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = "file::memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS contours (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create contours table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// Save inserts or replaces the attributes of one contour.
func (s *Store) Save(ctx context.Context, a contour.Attributes) error {
	if a.ID == "" {
		return fmt.Errorf("persist: contour %q has no id", a.Name)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode contour %s: %w", a.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO contours(id, name, payload) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, payload = excluded.payload`,
		a.ID, a.Name, payload); err != nil {
		return fmt.Errorf("save contour %s: %w", a.ID, err)
	}
	return nil
}

// SaveAll stores every attribute set in one transaction.
func (s *Store) SaveAll(ctx context.Context, attrs []contour.Attributes) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, a := range attrs {
		if a.ID == "" {
			return fmt.Errorf("persist: contour %q has no id", a.Name)
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode contour %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contours(id, name, payload) VALUES(?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, payload = excluded.payload`,
			a.ID, a.Name, payload); err != nil {
			return fmt.Errorf("save contour %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the attributes stored under id.
func (s *Store) Load(ctx context.Context, id string) (contour.Attributes, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM contours WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return contour.Attributes{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return contour.Attributes{}, fmt.Errorf("load contour %s: %w", id, err)
	}
	return decode(payload)
}

// List returns every stored contour ordered by name.
func (s *Store) List(ctx context.Context) ([]contour.Attributes, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM contours ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("select contours: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contour.Attributes
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		a, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes the contour stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM contours WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contour %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// decode fills attributes missing from older rows with defaults.
func decode(payload []byte) (contour.Attributes, error) {
	a := contour.DefaultAttributes()
	if err := json.Unmarshal(payload, &a); err != nil {
		return contour.Attributes{}, fmt.Errorf("decode contour: %w", err)
	}
	return a, nil
}
