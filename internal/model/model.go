// Package model holds the domain types shared across the backup and
// restore pipelines: the on-disk entity shapes mirrored by the catalog
// schema, plus the small value types (BackupKind, FileState) that gate
// behavior in more than one package.
package model

import "time"

// BackupKind distinguishes a full backup from an incremental one.
type BackupKind string

const (
	KindFull        BackupKind = "FULL"
	KindIncremental BackupKind = "INCREMENTAL"
)

// FileState records why a File row appears in a Backup's file map.
type FileState string

const (
	StateNew     FileState = "NEW"
	StateUpdated FileState = "UPDATED"
	StateDeleted FileState = "DELETED"
)

// FileEntry is an observed file, as produced by the Walker and carried
// through Filter/Bulker/Splitter. RelativePath is the identity key: the
// source-root-relative suffix with its leading separator preserved.
type FileEntry struct {
	RelativePath string
	Size         int64
	MTime        time.Time
	SHA256       [32]byte
	hasDigest    bool
}

// WithDigest returns a copy of e carrying digest as its SHA-256 sum.
func (e FileEntry) WithDigest(digest [32]byte) FileEntry {
	e.SHA256 = digest
	e.hasDigest = true

	return e
}

// HasDigest reports whether the entry's SHA-256 has been computed. An
// entry may reach the Filter with an empty digest when hashing is
// deferred to a later stage (spec §4.2 edge case).
func (e FileEntry) HasDigest() bool { return e.hasDigest || e.SHA256 != [32]byte{} }

// BackupSet is the root aggregate: a named chain of Backups.
type BackupSet struct {
	ID   int64
	Name string
}

// Backup is a single run's record.
type Backup struct {
	ID        int64
	SetID     int64
	Kind      BackupKind
	CreatedAt time.Time
	Version   string
}

// Disc is a bounded-capacity medium directory belonging to one Backup.
type Disc struct {
	ID       int64
	BackupID int64
	SeqNo    int
}

// Archive is a single compressed (optionally encrypted) file on a Disc.
type Archive struct {
	ID        int64
	DiscID    int64
	Name      string
	SizeBytes int64
}

// File is a catalog row for a distinct relative path ever observed.
type File struct {
	ID           int64
	RelativePath string
	SizeBytes    int64
	MTime        time.Time
	SHA256       [32]byte
}

// BackupFileMap links a File to the Backup that introduced, updated, or
// deleted it.
type BackupFileMap struct {
	BackupID int64
	FileID   int64
	State    FileState
}

// ArchiveFileMap links a File to every Archive holding (a part of) it.
type ArchiveFileMap struct {
	ArchiveID  int64
	FileID     int64
	PartNumber int
}

// FileInfo is a resolved entry in an EffectiveView: a File plus the
// ordered list of Archive IDs holding its bytes.
type FileInfo struct {
	File       File
	ArchiveIDs []int64 // ascending Archive.ID order; len > 1 means split
}

// PartCount returns the number of archives holding this file's bytes.
func (fi FileInfo) PartCount() int { return len(fi.ArchiveIDs) }
