// Package catalog is the embedded relational index over backups, discs,
// archives, and files (spec §4.8, §6). Unlike the teacher's disposable
// ticket-index cache, the catalog here is the single source of truth: a
// schema-version mismatch is a hard failure, never an automatic rebuild.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	fsx "github.com/markus-seidl/pybutcherbackup/pkg/fs"
)

// lockTimeout bounds how long Open waits to acquire the single-writer
// guard before giving up (spec §5: the catalog is single-writer, owned
// by the driver thread for the run's lifetime).
const lockTimeout = 10 * time.Second

// SchemaVersion is stored in SQLite's user_version pragma (spec §6).
const SchemaVersion = 1

var (
	ErrCatalogCorrupt        = errors.New("catalog corrupt")
	ErrSchemaVersionMismatch = fmt.Errorf("%w: schema version mismatch", ErrCatalogCorrupt)
)

const sqliteBusyTimeoutMillis = 10000

// Catalog wraps the SQLite-backed index. Callers issue one write
// transaction per backup run (single-writer, owned by the driver; see
// spec §5).
type Catalog struct {
	db   *sql.DB
	log  logging.Logger
	lock *fsx.Lock
}

// Open opens (creating if absent) the catalog database at path. An
// existing database with a different user_version is a hard failure,
// not a rebuild: this catalog is the system of record, not a cache.
//
// Open acquires an exclusive flock on path+".lock" for the lifetime of
// the returned Catalog, enforcing the single-writer contract of spec §5
// across process boundaries (SQLite's own locking only serializes
// within one busy_timeout window, not across the whole run).
func Open(ctx context.Context, path string, log logging.Logger) (*Catalog, error) {
	if log == nil {
		log = logging.Nop{}
	}

	locker := fsx.NewLocker(fsx.NewReal())

	lock, err := locker.LockWithTimeout(path+".lock", lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("catalog: acquire writer lock for %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, fmt.Errorf("catalog: ping %s: %w", path, err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, err
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, err
	}

	switch version {
	case 0:
		if err := createSchema(ctx, db); err != nil {
			_ = db.Close()
			_ = lock.Close()

			return nil, err
		}
	case SchemaVersion:
		// up to date
	default:
		_ = db.Close()
		_ = lock.Close()

		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, version, SchemaVersion)
	}

	return &Catalog{db: db, log: log, lock: lock}, nil
}

// Checkpoint forces every committed WAL frame back into the main
// database file (spec §4.9: a medium's published catalog copy must be
// self-describing on its own, and the WAL sidecar is never copied onto
// media). TRUNCATE also shrinks the "-wal" file back to empty once the
// checkpoint succeeds.
func (c *Catalog) Checkpoint(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("catalog: checkpoint wal: %w", err)
	}

	return nil
}

// Close releases the underlying database handle and the writer lock.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	dbErr := c.db.Close()
	lockErr := c.lock.Close()

	if dbErr != nil {
		return fmt.Errorf("catalog: close db: %w", dbErr)
	}

	if lockErr != nil {
		return fmt.Errorf("catalog: release writer lock: %w", lockErr)
	}

	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA foreign_keys = ON;
	`, sqliteBusyTimeoutMillis))
	if err != nil {
		return fmt.Errorf("catalog: apply pragmas: %w", err)
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int

	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("catalog: read user_version: %w", err)
	}

	return version, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin schema tx: %w", err)
	}

	statements := []string{
		`CREATE TABLE backup_set (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE backup (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			set_id     INTEGER NOT NULL REFERENCES backup_set(id),
			kind       TEXT NOT NULL CHECK (kind IN ('FULL','INCREMENTAL')),
			created_at TEXT NOT NULL,
			version    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE disc (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			backup_id INTEGER NOT NULL REFERENCES backup(id),
			seq_no    INTEGER NOT NULL
		)`,
		`CREATE TABLE archive (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			disc_id    INTEGER NOT NULL REFERENCES disc(id),
			name       TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE file (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			relative_path TEXT NOT NULL UNIQUE,
			size_bytes    INTEGER NOT NULL,
			mtime         TEXT NOT NULL,
			sha256        BLOB NOT NULL
		)`,
		`CREATE TABLE backup_file_map (
			backup_id INTEGER NOT NULL REFERENCES backup(id),
			file_id   INTEGER NOT NULL REFERENCES file(id),
			state     TEXT NOT NULL CHECK (state IN ('NEW','UPDATED','DELETED')),
			PRIMARY KEY (backup_id, file_id)
		)`,
		`CREATE TABLE archive_file_map (
			archive_id  INTEGER NOT NULL REFERENCES archive(id),
			file_id     INTEGER NOT NULL REFERENCES file(id),
			part_number INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (archive_id, file_id)
		)`,
		"CREATE INDEX idx_backup_set_id ON backup(set_id)",
		"CREATE INDEX idx_disc_backup_id ON disc(backup_id)",
		"CREATE INDEX idx_archive_disc_id ON archive(disc_id)",
		"CREATE INDEX idx_bfm_backup_id ON backup_file_map(backup_id)",
		"CREATE INDEX idx_afm_file_id ON archive_file_map(file_id)",
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("catalog: create schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("catalog: set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit schema: %w", err)
	}

	return nil
}
