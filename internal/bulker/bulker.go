// Package bulker packs a stream of FileEntry into size-bounded Groups,
// flagging any file larger than the archive budget as an oversize
// singleton for the Splitter to handle (spec §4.3).
package bulker

import (
	"iter"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// Group is an ordered list of FileEntry destined for one archive.
type Group struct {
	Entries []model.FileEntry
}

// size returns the running total of g's entries.
func (g Group) size() int64 {
	var total int64
	for _, e := range g.Entries {
		total += e.Size
	}

	return total
}

// Bulk packs entries into Groups of cumulative size <= budget. No
// reordering within the stream. A singleton Group whose file exceeds
// budget is tagged oversize and must be routed to the Splitter by the
// caller (checked via len(group)==1 && group.Entries[0].Size > budget,
// exactly the observable condition spec §4.3 names).
func Bulk(entries iter.Seq[model.FileEntry], budget int64) iter.Seq[Group] {
	return func(yield func(Group) bool) {
		var buf []model.FileEntry

		var total int64

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}

			g := Group{Entries: buf}
			buf = nil
			total = 0

			return yield(g)
		}

		for entry := range entries {
			if total+entry.Size > budget && len(buf) > 0 {
				if !flush() {
					return
				}
			}

			if len(buf) == 0 && entry.Size > budget {
				if !yield(Group{Entries: []model.FileEntry{entry}}) {
					return
				}

				continue
			}

			buf = append(buf, entry)
			total += entry.Size
		}

		flush()
	}
}

// IsOversize reports spec §4.3's observable oversize condition for g
// under the given budget.
func IsOversize(g Group, budget int64) bool {
	return len(g.Entries) == 1 && g.Entries[0].Size > budget
}
