// Package store persists small JSON values under string keys in a SQLite file.
//
// The store is a best-effort collaborator: failures are logged and the caller
// sees a no-op write or a missing value, never an error.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// KV is a JSON key/value store backed by SQLite.
type KV struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the SQLite file at path and applies pending migrations.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_journal=WAL&_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying store migrations: %w", err)
	}
	return db, nil
}

// New opens the store at path. An empty path or a failed open yields a KV that
// keeps nothing; the failure is logged.
func New(path string, logger *slog.Logger) *KV {
	kv := &KV{logger: logger.With("component", "store")}
	if path == "" {
		kv.logger.Info("store disabled")
		return kv
	}
	db, err := Open(path)
	if err != nil {
		kv.logger.Error("opening store, values will not persist", "path", path, "err", err)
		return kv
	}
	kv.db = db
	return kv
}

// NewWithDB wraps an already migrated connection.
func NewWithDB(db *sqlx.DB, logger *slog.Logger) *KV {
	return &KV{db: db, logger: logger.With("component", "store")}
}

// Save stores value under key as JSON, replacing any previous value.
func (kv *KV) Save(key string, value any) {
	if kv.db == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		kv.logger.Warn("encoding value", "key", key, "err", err)
		return
	}

	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := kv.db.Exec(query, key, string(data)); err != nil {
		kv.logger.Warn("saving value", "key", key, "err", err)
	}
}

// Load decodes the value stored under key into dst. It reports false when the
// key is absent or the value cannot be read, leaving dst untouched.
func (kv *KV) Load(key string, dst any) bool {
	if kv.db == nil {
		return false
	}
	var raw string
	err := kv.db.Get(&raw, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		kv.logger.Warn("loading value", "key", key, "err", err)
		return false
	}

	// Decode into a fresh value so a bad payload cannot half-fill dst.
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		kv.logger.Warn("loading value into non-pointer", "key", key)
		return false
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
		kv.logger.Warn("decoding value", "key", key, "err", err)
		return false
	}
	rv.Elem().Set(fresh.Elem())
	return true
}

// LoadOr returns the value stored under key, or def when there is none.
func LoadOr[T any](kv *KV, key string, def T) T {
	var v T
	if !kv.Load(key, &v) {
		return def
	}
	return v
}

// Remove deletes key. Removing an absent key is not an error.
func (kv *KV) Remove(key string) {
	if kv.db == nil {
		return
	}
	if _, err := kv.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		kv.logger.Warn("removing value", "key", key, "err", err)
	}
}

// Clear deletes every key.
func (kv *KV) Clear() {
	if kv.db == nil {
		return
	}
	if _, err := kv.db.Exec(`DELETE FROM kv`); err != nil {
		kv.logger.Warn("clearing store", "err", err)
	}
}

// Keys lists stored keys in lexical order.
func (kv *KV) Keys() []string {
	if kv.db == nil {
		return nil
	}
	var keys []string
	if err := kv.db.Select(&keys, `SELECT key FROM kv ORDER BY key`); err != nil {
		kv.logger.Warn("listing keys", "err", err)
		return nil
	}
	return keys
}

// Close releases the underlying connection.
func (kv *KV) Close() error {
	if kv.db == nil {
		return nil
	}
	if err := kv.db.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
