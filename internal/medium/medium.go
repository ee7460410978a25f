// Package medium lays out archives into numbered medium directories
// ("discs") up to a capacity budget, finalizes each medium with an
// index file, and publishes catalog-copy redundancy into every medium
// touched by a run (spec §4.9).
package medium

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	natomic "github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/hook"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	fsx "github.com/markus-seidl/pybutcherbackup/pkg/fs"
)

// ErrMediumFull names the capacity condition that rotates to a new medium.
// It is not a run failure (spec §7). No Store method returns it: rotation
// is decided by callers through NeedNewMedium.
var ErrMediumFull = errors.New("medium full")

// index is the small serialized record persisted as disc_id.yml.
type index struct {
	DBID int64 `yaml:"db_id"`
}

// Store manages the numbered medium directories under one destination root.
type Store struct {
	dest        string
	capacity    int64 // -1 = unlimited
	slack       int64
	names       Names
	fs          fsx.FS
	atomicW     *fsx.AtomicWriter
	log         logging.Logger
	hookCommand string

	currentDiscID  int64
	currentDir     string
	currentUsed    int64
	touchedDirs    []string // every medium directory touched this run, for FinalizeBackup
}

// Names configures the medium-index and catalog-copy file names (spec §6).
type Names struct {
	MediumIndex string
	CatalogCopy string
}

// New returns a Store rooted at dest. capacity of -1 means unlimited.
func New(dest string, capacity, slack int64, names Names, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop{}
	}

	real := fsx.NewReal()

	return &Store{
		dest:     dest,
		capacity: capacity,
		slack:    slack,
		names:    names,
		fs:       real,
		atomicW:  fsx.NewAtomicWriter(real),
		log:      log,
	}
}

// NeedNewMedium reports whether the current medium's used bytes plus
// nextArchiveSize plus slack would exceed capacity, or no medium is open
// yet. An unlimited store (capacity < 0) never asks for a new medium once
// one is open.
func (s *Store) NeedNewMedium(nextArchiveSize int64) bool {
	if s.currentDir == "" {
		return true
	}

	if s.capacity < 0 {
		return false
	}

	return s.currentUsed+nextArchiveSize+s.slack > s.capacity
}

// HasOpenMedium reports whether a medium directory is currently open.
func (s *Store) HasOpenMedium() bool { return s.currentDir != "" }

// dirName renders a 10-digit zero-padded decimal (spec §4.9).
func dirName(id int64) string { return fmt.Sprintf("%010d", id) }

// OpenMedium creates a new numbered directory for discID and resets the
// used-bytes counter.
func (s *Store) OpenMedium(discID int64) error {
	dir := filepath.Join(s.dest, dirName(discID))

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("medium: create %s: %w", dir, err)
	}

	s.currentDiscID = discID
	s.currentDir = dir
	s.currentUsed = 0
	s.touchedDirs = append(s.touchedDirs, dir)

	s.log.Infof(logging.NSMedium, "opened medium %s", dir)

	return nil
}

// Store copies the staged archive file at stagedPath to
// <medium>/<archiveID>.<ext> and accounts for its size.
func (s *Store) Store(stagedPath string, archiveID int64, ext string) (name string, size int64, err error) {
	if s.currentDir == "" {
		return "", 0, fmt.Errorf("medium: no medium open")
	}

	info, err := os.Stat(stagedPath)
	if err != nil {
		return "", 0, fmt.Errorf("medium: stat %s: %w", stagedPath, err)
	}

	name = fmt.Sprintf("%s.%s", dirName(archiveID), ext)
	dest := filepath.Join(s.currentDir, name)

	in, err := os.Open(stagedPath)
	if err != nil {
		return "", 0, fmt.Errorf("medium: open %s: %w", stagedPath, err)
	}
	defer in.Close()

	if err := s.atomicW.Write(dest, in, fsx.AtomicWriteOptions{SyncDir: true, Perm: 0o644}); err != nil {
		return "", 0, fmt.Errorf("medium: write %s: %w", dest, err)
	}

	s.currentUsed += info.Size()

	return name, info.Size(), nil
}

// FinalizeMedium writes the medium-index file and fires the operator
// hook (fire-and-forget, spec §6/§9).
func (s *Store) FinalizeMedium(ctx hook.Context) error {
	if s.currentDir == "" {
		return fmt.Errorf("medium: no medium open")
	}

	data, err := yaml.Marshal(index{DBID: s.currentDiscID})
	if err != nil {
		return fmt.Errorf("medium: marshal index: %w", err)
	}

	indexPath := filepath.Join(s.currentDir, s.names.MediumIndex)
	if err := natomic.WriteFile(indexPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("medium: write %s: %w", indexPath, err)
	}

	s.log.Infof(logging.NSMedium, "finalized medium %s", s.currentDir)

	if s.hookCommand != "" {
		hook.Run(ctx, s.hookCommand, s.currentDir, s.log)
	}

	return nil
}

// SetHookCommand configures the operator notification command invoked
// by FinalizeMedium.
func (s *Store) SetHookCommand(cmd string) { s.hookCommand = cmd }

// FinalizeBackup copies the catalog file (optionally encrypted) into
// every medium directory touched this run, so any single medium is
// self-describing for restore (spec §4.9, §9 Design Notes).
func (s *Store) FinalizeBackup(catalogPath string, enc cipher.Cipher) error {
	name := s.names.CatalogCopy
	if enc.Extension() != "" {
		name = name + "." + enc.Extension()
	}

	dirs := append([]string(nil), s.touchedDirs...)
	sort.Strings(dirs)

	for _, dir := range dirs {
		dest := filepath.Join(dir, name)

		if err := enc.Encrypt(catalogPath, dest); err != nil {
			return fmt.Errorf("medium: publish catalog copy to %s: %w", dest, err)
		}
	}

	return nil
}
