// Package store provides the durable local store backing all offline data.
//
// Storage is a single SQLite database (pure Go driver, WAL mode) holding one
// row per record, keyed by (collection, id). Collections are declared up
// front; opening an existing database never drops data, and newly introduced
// collections are registered without touching existing ones.
//
// Read operations never fail loudly: storage errors are logged and an empty
// result is returned, because the store must never crash a display surface.
// Write operations return coded errors so callers can decide.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
)

// DatabaseFile is the name of the SQLite database inside the data directory.
const DatabaseFile = "fieldsync.db"

// Store is the durable local store.
type Store struct {
	db          *sql.DB
	path        string
	collections map[string]bool
}

// Open opens (or creates) the local store under dataDir.
//
// Opening is idempotent: the schema is created with IF NOT EXISTS and the
// collection registry is extended additively, so re-opening an existing
// store preserves every record.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:          db,
		path:        dbPath,
		collections: make(map[string]bool),
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// migrate creates the schema and registers the fixed collection set.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	for _, name := range models.Collections() {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO collections (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to register collection %s: %w", name, err)
		}
		s.collections[name] = true
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// known rejects access to collections outside the registered set so a typo
// cannot materialize a phantom collection.
func (s *Store) known(collection string) bool {
	if s.collections[collection] {
		return true
	}
	logging.Warn("unknown collection", map[string]any{"collection": collection})
	return false
}

// GetAll returns every record in a collection. Storage failures are logged
// and yield an empty slice, never an error.
func (s *Store) GetAll(collection string) []models.Record {
	if !s.known(collection) {
		return nil
	}

	rows, err := s.db.Query("SELECT data FROM records WHERE collection = ?", collection)
	if err != nil {
		logging.ErrorWithCode("failed to read collection", string(apperrors.ErrStorage), err,
			map[string]any{"collection": collection})
		return nil
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			logging.ErrorWithCode("failed to scan record", string(apperrors.ErrStorage), err,
				map[string]any{"collection": collection})
			continue
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logging.ErrorWithCode("corrupt record skipped", string(apperrors.ErrStorage), err,
				map[string]any{"collection": collection})
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		logging.ErrorWithCode("failed to iterate collection", string(apperrors.ErrStorage), err,
			map[string]any{"collection": collection})
	}

	return records
}

// Get returns a single record by id. The second return value reports
// whether the record exists; storage failures read as absent.
func (s *Store) Get(collection, id string) (models.Record, bool) {
	if !s.known(collection) || id == "" {
		return nil, false
	}

	var raw string
	err := s.db.QueryRow("SELECT data FROM records WHERE collection = ? AND id = ?", collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		logging.ErrorWithCode("failed to read record", string(apperrors.ErrStorage), err,
			map[string]any{"collection": collection, "id": id})
		return nil, false
	}

	var rec models.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logging.ErrorWithCode("corrupt record", string(apperrors.ErrStorage), err,
			map[string]any{"collection": collection, "id": id})
		return nil, false
	}
	return rec, true
}

// Put upserts a record by id. A nil record or a record without an id is a
// silent no-op.
func (s *Store) Put(collection string, rec models.Record) error {
	if !s.known(collection) {
		return apperrors.New(apperrors.ErrInvalid, "unknown collection "+collection)
	}
	if rec == nil || rec.ID() == "" {
		return nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode record", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO records (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data`,
		collection, rec.ID(), string(raw))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write record", err)
	}
	return nil
}

// PutAll replaces the entire contents of a collection with the given set,
// clear-then-write inside a single transaction.
func (s *Store) PutAll(collection string, records []models.Record) error {
	if !s.known(collection) {
		return apperrors.New(apperrors.ErrInvalid, "unknown collection "+collection)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM records WHERE collection = ?", collection); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear collection", err)
	}

	for _, rec := range records {
		if rec == nil || rec.ID() == "" {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to encode record", err)
		}
		if _, err := tx.Exec("INSERT INTO records (collection, id, data) VALUES (?, ?, ?)",
			collection, rec.ID(), string(raw)); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to write record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit", err)
	}
	return nil
}

// Remove deletes a record by id. Removing an absent record is a no-op.
func (s *Store) Remove(collection, id string) error {
	if !s.known(collection) {
		return apperrors.New(apperrors.ErrInvalid, "unknown collection "+collection)
	}
	if id == "" {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM records WHERE collection = ? AND id = ?", collection, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove record", err)
	}
	return nil
}

// Count returns the number of records in a collection. Storage failures
// read as zero.
func (s *Store) Count(collection string) int {
	if !s.known(collection) {
		return 0
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records WHERE collection = ?", collection).Scan(&n); err != nil {
		logging.ErrorWithCode("failed to count collection", string(apperrors.ErrStorage), err,
			map[string]any{"collection": collection})
		return 0
	}
	return n
}

// Clear wipes every collection. Used on logout or identity switch.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM records"); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear store", err)
	}
	logging.Info("local store cleared")
	return nil
}
