package filter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markus-seidl/pybutcherbackup/internal/filter"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

type fakeView struct {
	files map[string]model.FileInfo
}

func (v *fakeView) Lookup(relativePath string) (model.FileInfo, bool) {
	fi, ok := v.files[relativePath]
	return fi, ok
}

func (v *fakeView) Keys() []string {
	keys := make([]string, 0, len(v.files))
	for k := range v.files {
		keys = append(keys, k)
	}

	return keys
}

func entries(paths ...string) []model.FileEntry {
	out := make([]model.FileEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, model.FileEntry{RelativePath: p, MTime: time.Now()}.WithDigest([32]byte{1}))
	}

	return out
}

func drain(seq func(func(model.FileEntry) bool)) []model.FileEntry {
	var out []model.FileEntry

	seq(func(e model.FileEntry) bool {
		out = append(out, e)
		return true
	})

	return out
}

func TestFilter_EmitsNewFiles(t *testing.T) {
	t.Parallel()

	view := &fakeView{files: map[string]model.FileInfo{}}
	f := filter.New(view)

	got := drain(f.Run(seqFrom(entries("/a.txt", "/b.txt"))))

	assert.Len(t, got, 2)
	assert.Len(t, f.Handled(), 2)
}

func TestFilter_SkipsUnchangedBySHA(t *testing.T) {
	t.Parallel()

	digest := [32]byte{9}
	view := &fakeView{files: map[string]model.FileInfo{
		"/a.txt": {File: model.File{RelativePath: "/a.txt", SHA256: digest}},
	}}

	f := filter.New(view)

	e := model.FileEntry{RelativePath: "/a.txt"}.WithDigest(digest)
	got := drain(f.Run(seqFrom([]model.FileEntry{e})))

	assert.Empty(t, got)
	assert.Len(t, f.Skipped(), 1)
}

func TestFilter_EmitsChangedBySHA(t *testing.T) {
	t.Parallel()

	view := &fakeView{files: map[string]model.FileInfo{
		"/a.txt": {File: model.File{RelativePath: "/a.txt", SHA256: [32]byte{1}}},
	}}

	f := filter.New(view)

	e := model.FileEntry{RelativePath: "/a.txt"}.WithDigest([32]byte{2})
	got := drain(f.Run(seqFrom([]model.FileEntry{e})))

	assert.Len(t, got, 1)
}

func TestFilter_Deleted(t *testing.T) {
	t.Parallel()

	view := &fakeView{files: map[string]model.FileInfo{
		"/a.txt": {File: model.File{RelativePath: "/a.txt"}},
		"/b.txt": {File: model.File{RelativePath: "/b.txt"}},
	}}

	f := filter.New(view)

	e := model.FileEntry{RelativePath: "/a.txt"}.WithDigest([32]byte{})
	drain(f.Run(seqFrom([]model.FileEntry{e})))

	assert.ElementsMatch(t, []string{"/b.txt"}, f.Deleted())
}

func seqFrom(entries []model.FileEntry) func(func(model.FileEntry) bool) {
	return func(yield func(model.FileEntry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}
