package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// Run is the single write transaction for one backup invocation. All
// rows created during a run become visible together on Commit, or are
// discarded together on Rollback (spec §3 "Ownership & lifecycle").
type Run struct {
	tx       *sql.Tx
	backupID int64
	fileIDs  map[string]int64 // relative_path -> file.id, populated as rows are touched
	recorded map[string]bool  // relative_path -> a backup_file_map row already written this run
}

// BeginRun opens a new Backup row (and, if name has no prior BackupSet,
// a new BackupSet) inside a fresh transaction.
func (c *Catalog) BeginRun(ctx context.Context, setName string, kind model.BackupKind) (*Run, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("catalog: begin run: %w", err)
	}

	setID, err := findOrCreateBackupSet(ctx, tx, setName)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO backup (set_id, kind, created_at, version) VALUES (?, ?, ?, ?)",
		setID, string(kind), time.Now().UTC().Format(time.RFC3339Nano), "",
	)
	if err != nil {
		_ = tx.Rollback()

		return nil, fmt.Errorf("catalog: insert backup: %w", err)
	}

	backupID, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()

		return nil, fmt.Errorf("catalog: backup id: %w", err)
	}

	return &Run{tx: tx, backupID: backupID, fileIDs: make(map[string]int64), recorded: make(map[string]bool)}, nil
}

func findOrCreateBackupSet(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64

	err := tx.QueryRowContext(ctx, "SELECT id FROM backup_set WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("catalog: lookup backup_set: %w", err)
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO backup_set (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert backup_set: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: backup_set id: %w", err)
	}

	return id, nil
}

// BackupID returns this run's Backup row id.
func (r *Run) BackupID() int64 { return r.backupID }

// RecordFile inserts or reuses the File row for entry and records a
// BackupFileMap(backup, file, state) row (spec §3 invariant 1). A File
// may appear in at most one map row per Backup (spec §3): a split file's
// parts call RecordFile once per part, so the second and later calls for
// the same relative path are a no-op beyond returning the cached file id.
func (r *Run) RecordFile(ctx context.Context, entry model.FileEntry, state model.FileState) (int64, error) {
	fileID, err := r.upsertFile(ctx, entry)
	if err != nil {
		return 0, err
	}

	if r.recorded[entry.RelativePath] {
		return fileID, nil
	}

	_, err = r.tx.ExecContext(ctx,
		"INSERT INTO backup_file_map (backup_id, file_id, state) VALUES (?, ?, ?)",
		r.backupID, fileID, string(state),
	)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert backup_file_map: %w", err)
	}

	r.recorded[entry.RelativePath] = true

	return fileID, nil
}

// RecordDeletion records a DELETED BackupFileMap row for an already-known
// relative path (spec §3 invariant 2: the path must have a prior NEW or
// UPDATED row, guaranteed by the Filter only naming catalog-known keys).
func (r *Run) RecordDeletion(ctx context.Context, relativePath string) error {
	var fileID int64

	err := r.tx.QueryRowContext(ctx, "SELECT id FROM file WHERE relative_path = ?", relativePath).Scan(&fileID)
	if err != nil {
		return fmt.Errorf("%w: deletion for unknown path %s: %w", ErrCatalogCorrupt, relativePath, err)
	}

	_, err = r.tx.ExecContext(ctx,
		"INSERT INTO backup_file_map (backup_id, file_id, state) VALUES (?, ?, 'DELETED')",
		r.backupID, fileID,
	)
	if err != nil {
		return fmt.Errorf("catalog: insert deletion: %w", err)
	}

	return nil
}

func (r *Run) upsertFile(ctx context.Context, entry model.FileEntry) (int64, error) {
	if id, ok := r.fileIDs[entry.RelativePath]; ok {
		return id, nil
	}

	var id int64

	err := r.tx.QueryRowContext(ctx, "SELECT id FROM file WHERE relative_path = ?", entry.RelativePath).Scan(&id)

	switch {
	case err == nil:
		_, updErr := r.tx.ExecContext(ctx,
			"UPDATE file SET size_bytes = ?, mtime = ?, sha256 = ? WHERE id = ?",
			entry.Size, entry.MTime.UTC().Format(time.RFC3339Nano), entry.SHA256[:], id,
		)
		if updErr != nil {
			return 0, fmt.Errorf("catalog: update file: %w", updErr)
		}
	case errors.Is(err, sql.ErrNoRows):
		res, insErr := r.tx.ExecContext(ctx,
			"INSERT INTO file (relative_path, size_bytes, mtime, sha256) VALUES (?, ?, ?, ?)",
			entry.RelativePath, entry.Size, entry.MTime.UTC().Format(time.RFC3339Nano), entry.SHA256[:],
		)
		if insErr != nil {
			return 0, fmt.Errorf("catalog: insert file: %w", insErr)
		}

		id, insErr = res.LastInsertId()
		if insErr != nil {
			return 0, fmt.Errorf("catalog: file id: %w", insErr)
		}
	default:
		return 0, fmt.Errorf("catalog: lookup file: %w", err)
	}

	r.fileIDs[entry.RelativePath] = id

	return id, nil
}

// FileExists reports whether a File row already exists for relativePath,
// used to label a newly-walked entry NEW vs UPDATED before recording it.
func (r *Run) FileExists(ctx context.Context, relativePath string) (bool, error) {
	if _, ok := r.fileIDs[relativePath]; ok {
		return true, nil
	}

	var id int64

	err := r.tx.QueryRowContext(ctx, "SELECT id FROM file WHERE relative_path = ?", relativePath).Scan(&id)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("catalog: lookup file: %w", err)
	}
}

// CreateDisc inserts a new Disc row under this run's Backup.
func (r *Run) CreateDisc(ctx context.Context, seqNo int) (int64, error) {
	res, err := r.tx.ExecContext(ctx, "INSERT INTO disc (backup_id, seq_no) VALUES (?, ?)", r.backupID, seqNo)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert disc: %w", err)
	}

	return res.LastInsertId()
}

// CreateArchive inserts a new Archive row under discID.
func (r *Run) CreateArchive(ctx context.Context, discID int64) (int64, error) {
	res, err := r.tx.ExecContext(ctx, "INSERT INTO archive (disc_id) VALUES (?)", discID)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert archive: %w", err)
	}

	return res.LastInsertId()
}

// FinalizeArchive sets an Archive's on-medium name and size once
// MediumStore has placed it (spec §4.9).
func (r *Run) FinalizeArchive(ctx context.Context, archiveID int64, name string, sizeBytes int64) error {
	_, err := r.tx.ExecContext(ctx, "UPDATE archive SET name = ?, size_bytes = ? WHERE id = ?", name, sizeBytes, archiveID)
	if err != nil {
		return fmt.Errorf("catalog: finalize archive: %w", err)
	}

	return nil
}

// LinkArchiveFile records that archiveID holds (part of) fileID.
func (r *Run) LinkArchiveFile(ctx context.Context, archiveID, fileID int64, partNumber int) error {
	_, err := r.tx.ExecContext(ctx,
		"INSERT INTO archive_file_map (archive_id, file_id, part_number) VALUES (?, ?, ?)",
		archiveID, fileID, partNumber,
	)
	if err != nil {
		return fmt.Errorf("catalog: link archive_file_map: %w", err)
	}

	return nil
}

// Commit makes this run's rows visible.
func (r *Run) Commit() error {
	if err := r.tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit run: %w", err)
	}

	return nil
}

// Rollback discards this run's rows. Safe to call after Commit (no-op).
func (r *Run) Rollback() error {
	err := r.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("catalog: rollback run: %w", err)
	}

	return nil
}
