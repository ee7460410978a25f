package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// EffectiveView is the reconstructed current state of a BackupSet: the
// fold of every BackupFileMap row from the most recent FULL backup
// forward (spec §4.8).
type EffectiveView struct {
	files map[string]model.FileInfo
	// emittedBy tracks, per surviving relative path, the Backup.id whose
	// BackupFileMap row last set it to NEW/UPDATED. resolveArchives uses
	// this to restrict ArchiveFileMap resolution to that backup's own
	// discs/archives (spec §4.8): a file updated in a later backup must
	// not also pull in archives from the backup that last held its
	// previous content.
	emittedBy map[string]int64
}

// Lookup implements filter.View.
func (v *EffectiveView) Lookup(relativePath string) (model.FileInfo, bool) {
	fi, ok := v.files[relativePath]
	return fi, ok
}

// Keys implements filter.View.
func (v *EffectiveView) Keys() []string {
	keys := make([]string, 0, len(v.files))
	for k := range v.files {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// All returns every resolved FileInfo in the view, for restore planning.
func (v *EffectiveView) All() []model.FileInfo {
	out := make([]model.FileInfo, 0, len(v.files))
	for _, fi := range v.files {
		out = append(out, fi)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].File.RelativePath < out[j].File.RelativePath })

	return out
}

// EffectiveView walks setID's Backups in reverse chronological order,
// collecting back to (and including) the most recent FULL, then folds
// forward (spec §4.8). An empty set (no Backups at all) yields an empty,
// non-nil view — forcing the next run to FULL is the caller's job (spec §6).
func (c *Catalog) EffectiveView(ctx context.Context, setID int64) (*EffectiveView, error) {
	backups, err := chainBackups(ctx, c.db, setID)
	if err != nil {
		return nil, err
	}

	view := &EffectiveView{files: make(map[string]model.FileInfo), emittedBy: make(map[string]int64)}

	for _, b := range backups {
		if err := foldBackup(ctx, c.db, b.ID, view); err != nil {
			return nil, err
		}
	}

	if err := resolveArchives(ctx, c.db, view); err != nil {
		return nil, err
	}

	return view, nil
}

type backupRow struct {
	ID        int64
	Kind      model.BackupKind
	CreatedAt time.Time
}

// chainBackups returns, in chronological order, the most recent FULL
// backup and every backup after it.
func chainBackups(ctx context.Context, db *sql.DB, setID int64) ([]backupRow, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, kind, created_at FROM backup WHERE set_id = ? ORDER BY id DESC", setID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query backups: %w", err)
	}
	defer rows.Close()

	var reverseChain []backupRow

	for rows.Next() {
		var (
			row      backupRow
			kind     string
			created  string
		)

		if err := rows.Scan(&row.ID, &kind, &created); err != nil {
			return nil, fmt.Errorf("catalog: scan backup: %w", err)
		}

		row.Kind = model.BackupKind(kind)

		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("%w: parse created_at: %w", ErrCatalogCorrupt, err)
		}

		row.CreatedAt = t
		reverseChain = append(reverseChain, row)

		if row.Kind == model.KindFull {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate backups: %w", err)
	}

	chain := make([]backupRow, len(reverseChain))
	for i, r := range reverseChain {
		chain[len(reverseChain)-1-i] = r
	}

	return chain, nil
}

// foldBackup applies backupID's BackupFileMap rows (in id order, for
// determinism) onto view.
func foldBackup(ctx context.Context, db *sql.DB, backupID int64, view *EffectiveView) error {
	rows, err := db.QueryContext(ctx, `
		SELECT f.id, f.relative_path, f.size_bytes, f.mtime, f.sha256, m.state
		FROM backup_file_map m
		JOIN file f ON f.id = m.file_id
		WHERE m.backup_id = ?
		ORDER BY f.id`, backupID)
	if err != nil {
		return fmt.Errorf("catalog: query backup_file_map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f       model.File
			mtime   string
			sha     []byte
			state   string
		)

		if err := rows.Scan(&f.ID, &f.RelativePath, &f.SizeBytes, &mtime, &sha, &state); err != nil {
			return fmt.Errorf("catalog: scan backup_file_map: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, mtime)
		if err != nil {
			return fmt.Errorf("%w: parse mtime: %w", ErrCatalogCorrupt, err)
		}

		f.MTime = t
		copy(f.SHA256[:], sha)

		switch model.FileState(state) {
		case model.StateNew, model.StateUpdated:
			view.files[f.RelativePath] = model.FileInfo{File: f}
			view.emittedBy[f.RelativePath] = backupID
		case model.StateDeleted:
			delete(view.files, f.RelativePath)
			delete(view.emittedBy, f.RelativePath)
		default:
			return fmt.Errorf("%w: unknown backup_file_map state %q", ErrCatalogCorrupt, state)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: iterate backup_file_map: %w", err)
	}

	return nil
}

// resolveArchives fills in each surviving FileInfo's ArchiveIDs (spec §4.8
// second paragraph): ArchiveFileMap rows joined to Archive, in ascending
// Archive.id order, restricted to archives belonging to the backup (via
// its discs) that introduced/updated the file.
func resolveArchives(ctx context.Context, db *sql.DB, view *EffectiveView) error {
	for path, fi := range view.files {
		rows, err := db.QueryContext(ctx, `
			SELECT a.id
			FROM archive_file_map m
			JOIN archive a ON a.id = m.archive_id
			JOIN disc d ON d.id = a.disc_id
			WHERE m.file_id = ? AND d.backup_id = ?
			ORDER BY a.id`, fi.File.ID, view.emittedBy[path])
		if err != nil {
			return fmt.Errorf("catalog: query archive_file_map: %w", err)
		}

		var ids []int64

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()

				return fmt.Errorf("catalog: scan archive_file_map: %w", err)
			}

			ids = append(ids, id)
		}

		rowsErr := rows.Err()
		rows.Close()

		if rowsErr != nil {
			return fmt.Errorf("catalog: iterate archive_file_map: %w", rowsErr)
		}

		if len(ids) == 0 {
			return fmt.Errorf("%w: file %s has no archive rows", ErrCatalogCorrupt, path)
		}

		fi.ArchiveIDs = ids
		view.files[path] = fi
	}

	return nil
}

// IsEmpty reports whether setID has no Backups yet, forcing FULL (spec §6).
func (c *Catalog) IsEmpty(ctx context.Context, setID int64) (bool, error) {
	var count int

	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM backup WHERE set_id = ?", setID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("catalog: count backups: %w", err)
	}

	return count == 0, nil
}

// LookupSetID resolves a BackupSet by name, creating it if absent, for
// callers that need the id before BeginRun (e.g. to check IsEmpty).
func (c *Catalog) LookupSetID(ctx context.Context, name string) (int64, error) {
	var id int64

	err := c.db.QueryRowContext(ctx, "SELECT id FROM backup_set WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("catalog: lookup backup_set: %w", err)
	}

	res, err := c.db.ExecContext(ctx, "INSERT INTO backup_set (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert backup_set: %w", err)
	}

	return res.LastInsertId()
}
