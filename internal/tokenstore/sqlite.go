package tokenstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbFileName is the SQLite database shared by every origin.
const dbFileName = "storage.db"

const (
	sqlGet = `SELECT value FROM kv WHERE origin = ? AND key = ?`

	sqlKeys = `SELECT key FROM kv WHERE origin = ? ORDER BY key`

	sqlUpsert = `INSERT INTO kv (origin, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(origin, key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDelete = `DELETE FROM kv WHERE origin = ? AND key = ?`
)

// SQLiteBackend stores every origin in one database, one row per key.
// Multi-key writes run in a single transaction.
type SQLiteBackend struct {
	db      *sql.DB
	path    string
	origin  string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database under dir, applies
// pending migrations and returns a backend scoped to origin.
func OpenSQLite(dir, origin string, logger *slog.Logger) (*SQLiteBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("tokenstore: storage directory is empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("tokenstore: creating directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, dbFileName)

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, FilePerms); err != nil {
		db.Close()
		return nil, fmt.Errorf("tokenstore: setting permissions on %s: %w", path, err)
	}

	logger.Debug("using sqlite token store", slog.String("path", path), slog.String("origin", origin))

	return &SQLiteBackend{
		db:      db,
		path:    path,
		origin:  origin,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations to the database.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("tokenstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("tokenstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("tokenstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Path returns the database file.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Get returns the value for key.
func (b *SQLiteBackend) Get(key string) (string, bool, error) {
	var v string

	err := b.db.QueryRowContext(context.Background(), sqlGet, b.origin, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("querying %s: %w", key, err)
	}

	return v, true, nil
}

// Keys returns every key stored for this origin, sorted.
func (b *SQLiteBackend) Keys() ([]string, error) {
	rows, err := b.db.QueryContext(context.Background(), sqlKeys, b.origin)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}

	return keys, nil
}

// SetMany upserts all values in one transaction.
func (b *SQLiteBackend) SetMany(values map[string]string) error {
	now := b.nowFunc().Unix()

	return b.inTx(func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.Exec(sqlUpsert, b.origin, k, v, now); err != nil {
				return fmt.Errorf("writing %s: %w", k, err)
			}
		}

		return nil
	})
}

// ClearMany deletes all keys in one transaction.
func (b *SQLiteBackend) ClearMany(keys ...string) error {
	return b.inTx(func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(sqlDelete, b.origin, k); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
		}

		return nil
	})
}

func (b *SQLiteBackend) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
