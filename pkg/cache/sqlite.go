package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteCache is a persistent build cache backed by SQLite.
type SQLiteCache struct {
	db   *sql.DB
	path string
}

// Config holds SQLite cache configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteCache creates a new SQLite cache instance
func NewSQLiteCache(cfg Config) (*SQLiteCache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	return &SQLiteCache{
		path: cfg.Path,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteCache) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping cache database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteCache) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs schema migrations.
func (s *SQLiteCache) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("cache database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves a cache entry. The entry only hits when the stored etag
// equals the requested one; a mismatch is a plain miss, not an error.
func (s *SQLiteCache) Get(ctx context.Context, key, etag string) ([]byte, bool, error) {
	query := `
		SELECT etag, value
		FROM cache_entries
		WHERE key = ?
	`

	var storedEtag string
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&storedEtag, &value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if storedEtag != etag {
		return nil, false, nil
	}

	touch := `UPDATE cache_entries SET accessed_at = CURRENT_TIMESTAMP WHERE key = ?`
	if _, err := s.db.ExecContext(ctx, touch, key); err != nil {
		return nil, false, fmt.Errorf("failed to touch cache entry: %w", err)
	}

	return value, true, nil
}

// Store writes a cache entry, replacing any prior value for the key.
func (s *SQLiteCache) Store(ctx context.Context, key, etag string, value []byte) error {
	query := `
		INSERT INTO cache_entries (key, etag, value, size, created_at, accessed_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			etag = excluded.etag,
			value = excluded.value,
			size = excluded.size,
			accessed_at = excluded.accessed_at
	`

	_, err := s.db.ExecContext(ctx, query, key, etag, value, len(value))
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Delete removes a cache entry by key.
func (s *SQLiteCache) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM cache_entries WHERE key = ?`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Prune deletes entries not accessed since the cutoff and returns how many
// were removed.
func (s *SQLiteCache) Prune(ctx context.Context, notAccessedSince time.Time) (int64, error) {
	query := `DELETE FROM cache_entries WHERE datetime(accessed_at) < datetime(?)`

	result, err := s.db.ExecContext(ctx, query, notAccessedSince.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries   int64 `json:"entries"`
	TotalSize int64 `json:"total_size"`
}

// Stats returns entry count and total stored bytes.
func (s *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM cache_entries`

	var st Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.Entries, &st.TotalSize); err != nil {
		return Stats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}

	return st, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteCache) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("cache database not initialized")
	}

	return s.db.PingContext(ctx)
}
