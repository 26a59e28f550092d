package wardsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/wardsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// timeFormat is fixed-width so lexical order in SQLite matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const metadataKeyLastSync = "last_sync"

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// Store manages the local SQLite database holding entity records and the
// mutation queue. Every method is synchronous and atomic.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string

	now func() time.Time
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// NewStore opens or creates a local store.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// All access is serialized by Store.mu.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, schemaVersion)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SetClock replaces the time source used for bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

// withTx runs fn in a transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// GetMetadata returns a metadata value, or "" if unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts a metadata value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set metadata %s: %w", key, err)
	}
	return nil
}

// LastSync returns the time of the last pass that drained the queue without
// failures. Zero if there has been none.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, err := s.GetMetadata(ctx, metadataKeyLastSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return parseTime(v), nil
}

// SetLastSync records a successful pass.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetMetadata(ctx, metadataKeyLastSync, formatTime(t))
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.stats(ctx)
}

// stats computes StoreStats. Callers hold s.mu.
func (s *Store) stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{SchemaVersion: schemaVersion}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM patients WHERE deleted = 0`, &stats.Patients},
		{`SELECT COUNT(*) FROM treatment_plans WHERE deleted = 0`, &stats.Plans},
		{`SELECT COUNT(*) FROM plan_steps WHERE deleted = 0`, &stats.Steps},
		{`SELECT (SELECT COUNT(*) FROM patients WHERE synced = 0)
			+ (SELECT COUNT(*) FROM treatment_plans WHERE synced = 0)
			+ (SELECT COUNT(*) FROM plan_steps WHERE synced = 0)`, &stats.Unsynced},
		{`SELECT COUNT(*) FROM sync_queue`, &stats.PendingSync},
		{`SELECT COUNT(*) FROM sync_failures`, &stats.Stuck},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("store: stats: %w", err)
		}
	}

	var lastSync sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, metadataKeyLastSync).Scan(&lastSync)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if lastSync.Valid {
		stats.LastSync = parseTime(lastSync.String)
	}

	return stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
