// Package walker yields FileEntry records from a source directory tree
// (spec §4.1). It produces a lazy, finite, non-restartable sequence:
// callers range over Walk's iterator exactly once.
package walker

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// ErrSourceIO is returned (wrapped) when a source file or directory entry
// cannot be read.
var ErrSourceIO = errors.New("source io error")

const hashBlockSize = 4 * 1024

// Options configures a walk.
type Options struct {
	// Hash requests that each regular file be read once and its SHA-256
	// computed. When false, FileEntry.SHA256 is left zero for a later
	// stage to fill in (spec §4.2 edge case).
	Hash bool
	Log  logging.Logger
}

// Walker walks one source root and counts entries it could not emit.
type Walker struct {
	root    string
	opts    Options
	skipped atomic.Int64
}

// New returns a Walker rooted at root.
func New(root string, opts Options) *Walker {
	if opts.Log == nil {
		opts.Log = logging.Nop{}
	}

	return &Walker{root: root, opts: opts}
}

// SkippedCount returns the number of symlinks, sockets, device nodes, and
// other non-regular entries silently skipped, summed over every walk of
// this Walker (the count is not reset between walks).
func (w *Walker) SkippedCount() int64 { return w.skipped.Load() }

// Walk returns an iterator over every regular file under the source root,
// in directory-walk order. The iterator stops at the first error and
// stores it in *errOut (when errOut is non-nil).
func (w *Walker) Walk(errOut *error) iter.Seq[model.FileEntry] {
	return func(yield func(model.FileEntry) bool) {
		walkErr := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSourceIO, path, err)
			}

			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("%w: stat %s: %w", ErrSourceIO, path, err)
			}

			if info.Mode()&(os.ModeSymlink|os.ModeSocket|os.ModeDevice|os.ModeNamedPipe|os.ModeCharDevice) != 0 {
				w.skipped.Add(1)
				w.opts.Log.Debugf(logging.NSWalk, "skipping non-regular entry %s (mode %v)", path, info.Mode())

				return nil
			}

			if !info.Mode().IsRegular() {
				w.skipped.Add(1)

				return nil
			}

			rel, err := filepath.Rel(w.root, path)
			if err != nil {
				return fmt.Errorf("%w: relativize %s: %w", ErrSourceIO, path, err)
			}

			entry := model.FileEntry{
				RelativePath: string(filepath.Separator) + rel,
				Size:         info.Size(),
				MTime:        info.ModTime(),
			}

			if w.opts.Hash {
				digest, err := hashFile(path)
				if err != nil {
					return fmt.Errorf("%w: hash %s: %w", ErrSourceIO, path, err)
				}

				entry = entry.WithDigest(digest)
			}

			if !yield(entry) {
				return filepath.SkipAll
			}

			return nil
		})

		if errOut != nil && !errors.Is(walkErr, filepath.SkipAll) {
			*errOut = walkErr
		}
	}
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)

	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return [32]byte{}, err
	}

	var digest [32]byte

	copy(digest[:], h.Sum(nil))

	return digest, nil
}
