package restore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
	"github.com/markus-seidl/pybutcherbackup/internal/restore"
)

type fakeView struct {
	files []model.FileInfo
}

func (v *fakeView) All() []model.FileInfo { return v.files }

func TestNewPlan_FiltersByPattern(t *testing.T) {
	t.Parallel()

	view := &fakeView{files: []model.FileInfo{
		{File: model.File{RelativePath: "/docs/a.txt"}},
		{File: model.File{RelativePath: "/media/b.mp4"}},
	}}

	plan, err := restore.NewPlan(view, `^/docs/`)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Remaining())
}

func TestScanAvailable_IndexesByLeadingIntegerID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.tar.gz"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0000000002.tar.bz2.aesc"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disc.yml"), []byte("z"), 0o644))

	available, err := restore.ScanAvailable(dir)
	require.NoError(t, err)

	assert.Contains(t, available, int64(1))
	assert.Contains(t, available, int64(2))
	assert.Len(t, available, 2)
}

func TestRestorer_Run_SingleArchiveFile(t *testing.T) {
	t.Parallel()

	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "a.txt"), []byte("hello"), 0o644))

	sourceDir := t.TempDir()

	c := codec.GzipCodec{}
	require.NoError(t, c.Archive(
		[]model.FileEntry{{RelativePath: "/a.txt", Size: 5}},
		baseDir,
		filepath.Join(sourceDir, "1.tar.gz"),
	))

	view := &fakeView{files: []model.FileInfo{
		{File: model.File{RelativePath: "/a.txt"}, ArchiveIDs: []int64{1}},
	}}

	plan, err := restore.NewPlan(view, ".*")
	require.NoError(t, err)

	destDir := t.TempDir()

	r := &restore.Restorer{Cipher: cipher.None{}, Destination: destDir, TmpDir: t.TempDir()}
	require.NoError(t, r.Run(plan, sourceDir))

	assert.Equal(t, 0, plan.Remaining())

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestRestorer_Run_ReassemblesSplitFileInArchiveIDOrder(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()

	part0 := filepath.Join(t.TempDir(), "part0.bin")
	part1 := filepath.Join(t.TempDir(), "part1.bin")
	require.NoError(t, os.WriteFile(part0, []byte("AAAAA"), 0o644))
	require.NoError(t, os.WriteFile(part1, []byte("BBBBB"), 0o644))

	c := codec.GzipCodec{}
	require.NoError(t, c.ArchiveSingle(part0, "big.bin", filepath.Join(sourceDir, "2.tar.gz")))
	require.NoError(t, c.ArchiveSingle(part1, "big.bin", filepath.Join(sourceDir, "3.tar.gz")))

	view := &fakeView{files: []model.FileInfo{
		{File: model.File{RelativePath: "/big.bin"}, ArchiveIDs: []int64{2, 3}},
	}}

	plan, err := restore.NewPlan(view, ".*")
	require.NoError(t, err)

	destDir := t.TempDir()

	r := &restore.Restorer{Cipher: cipher.None{}, Destination: destDir, TmpDir: t.TempDir()}
	require.NoError(t, r.Run(plan, sourceDir))

	got, err := os.ReadFile(filepath.Join(destDir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, "AAAAABBBBB", string(got))
}

func TestRestorer_Run_MissingMediaExhaustsLoopBudget(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir() // empty: archive never shows up

	view := &fakeView{files: []model.FileInfo{
		{File: model.File{RelativePath: "/ghost.txt"}, ArchiveIDs: []int64{99}},
	}}

	plan, err := restore.NewPlan(view, ".*")
	require.NoError(t, err)

	r := &restore.Restorer{Cipher: cipher.None{}, Destination: t.TempDir(), TmpDir: t.TempDir()}
	err = r.Run(plan, sourceDir)

	assert.ErrorIs(t, err, restore.ErrLoopBudgetExceeded)
}
