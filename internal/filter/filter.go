// Package filter drops files unchanged since the prior effective backup
// and records which relative paths were handled, skipped, or implicitly
// deleted (spec §4.2).
package filter

import (
	"iter"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// View is the minimal read surface the Filter needs from the catalog's
// effective view: lookup by relative path.
type View interface {
	Lookup(relativePath string) (model.FileInfo, bool)
	Keys() []string
}

// Filter tracks the handled/skipped bookkeeping for one run.
type Filter struct {
	view    View
	handled map[string]model.FileEntry
	skipped map[string]model.FileEntry
}

// New returns a Filter reading against view.
func New(view View) *Filter {
	return &Filter{
		view:    view,
		handled: make(map[string]model.FileEntry),
		skipped: make(map[string]model.FileEntry),
	}
}

// Run consumes entries and returns an iterator yielding only the ones
// that are new or changed. It mutates the Filter's handled/skipped maps
// as it goes; call Deleted only after the returned iterator has been
// fully drained.
func (f *Filter) Run(entries iter.Seq[model.FileEntry]) iter.Seq[model.FileEntry] {
	return func(yield func(model.FileEntry) bool) {
		for entry := range entries {
			prior, exists := f.view.Lookup(entry.RelativePath)

			switch {
			case !exists:
				f.handled[entry.RelativePath] = entry
				if !yield(entry) {
					return
				}
			case !entry.HasDigest():
				// Deferred-hash edge case: conservatively emit; the
				// caller fills in the digest before the row commits.
				f.handled[entry.RelativePath] = entry
				if !yield(entry) {
					return
				}
			case prior.File.SHA256 != entry.SHA256:
				f.handled[entry.RelativePath] = entry
				if !yield(entry) {
					return
				}
			default:
				f.skipped[entry.RelativePath] = entry
			}
		}
	}
}

// Handled returns the relative_path -> entry map of files emitted this run.
func (f *Filter) Handled() map[string]model.FileEntry { return f.handled }

// Skipped returns the relative_path -> entry map of files matched unchanged.
func (f *Filter) Skipped() map[string]model.FileEntry { return f.skipped }

// Deleted computes catalog.keys - handled.keys - skipped.keys: the files
// present in the prior effective view but neither emitted nor skipped
// this run (spec §4.2, §9 Open Question 3).
func (f *Filter) Deleted() []string {
	var deleted []string

	for _, key := range f.view.Keys() {
		if _, ok := f.handled[key]; ok {
			continue
		}

		if _, ok := f.skipped[key]; ok {
			continue
		}

		deleted = append(deleted, key)
	}

	return deleted
}
