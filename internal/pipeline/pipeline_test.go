package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-seidl/pybutcherbackup/internal/bulker"
	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
	"github.com/markus-seidl/pybutcherbackup/internal/pipeline"
)

func seqFrom(groups []bulker.Group) func(func(bulker.Group) bool) {
	return func(yield func(bulker.Group) bool) {
		for _, g := range groups {
			if !yield(g) {
				return
			}
		}
	}
}

func drain(seq func(func(pipeline.Package) bool)) []pipeline.Package {
	var out []pipeline.Package

	seq(func(p pipeline.Package) bool {
		out = append(out, p)
		return true
	})

	return out
}

func setupSource(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	for rel, content := range files {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	return dir
}

func TestRun_SequentialPreservesOrderAndProducesStagedArchives(t *testing.T) {
	t.Parallel()

	baseDir := setupSource(t, map[string]string{
		"a.txt": "aaaa",
		"b.txt": "bbbb",
	})

	groups := []bulker.Group{
		{Entries: []model.FileEntry{{RelativePath: "/a.txt", Size: 4}}},
		{Entries: []model.FileEntry{{RelativePath: "/b.txt", Size: 4}}},
	}

	deps := pipeline.Deps{
		Budget:  1 << 20,
		BaseDir: baseDir,
		TmpDir:  t.TempDir(),
		Codec:   codec.GzipCodec{},
		Cipher:  cipher.None{},
	}

	var pipelineErr error

	packages := drain(pipeline.Run(context.Background(), seqFrom(groups), pipeline.Config{}, deps, &pipelineErr))

	require.NoError(t, pipelineErr)
	require.Len(t, packages, 2)

	assert.Equal(t, "/a.txt", packages[0].Entries[0].RelativePath)
	assert.Equal(t, "/b.txt", packages[1].Entries[0].RelativePath)

	for _, pkg := range packages {
		_, err := os.Stat(pkg.StagedPath)
		assert.NoError(t, err)
	}
}

func TestRun_OversizeFileEmitsSplitParts(t *testing.T) {
	t.Parallel()

	baseDir := setupSource(t, map[string]string{
		"big.bin": "0123456789abcdefghij", // 20 bytes
	})

	groups := []bulker.Group{
		{Entries: []model.FileEntry{{RelativePath: "/big.bin", Size: 20}}},
	}

	deps := pipeline.Deps{
		Budget:  8,
		BaseDir: baseDir,
		TmpDir:  t.TempDir(),
		Codec:   codec.GzipCodec{},
		Cipher:  cipher.None{},
	}

	var pipelineErr error

	packages := drain(pipeline.Run(context.Background(), seqFrom(groups), pipeline.Config{}, deps, &pipelineErr))

	require.NoError(t, pipelineErr)
	require.Len(t, packages, 3)

	for i, pkg := range packages {
		assert.Equal(t, i, pkg.PartNumber)
		assert.Equal(t, 3, pkg.PartTotal)
		assert.Equal(t, "/big.bin", pkg.PartEntry.RelativePath)
	}
}

func TestRun_ParallelPreservesOrder(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	var groups []bulker.Group

	for i := 0; i < 12; i++ {
		name := filepath.Join("files", string(rune('a'+i))+".txt")
		files[name] = "content"
		groups = append(groups, bulker.Group{Entries: []model.FileEntry{
			{RelativePath: "/" + name, Size: int64(len("content"))},
		}})
	}

	baseDir := setupSource(t, files)

	deps := pipeline.Deps{
		Budget:  1 << 20,
		BaseDir: baseDir,
		TmpDir:  t.TempDir(),
		Codec:   codec.GzipCodec{},
		Cipher:  cipher.None{},
	}

	cfg := pipeline.Config{Parallel: true, Workers: 4, BackpressureBudget: 2}

	var pipelineErr error

	packages := drain(pipeline.Run(context.Background(), seqFrom(groups), cfg, deps, &pipelineErr))

	require.NoError(t, pipelineErr)
	require.Len(t, packages, 12)

	for i, pkg := range packages {
		assert.Equal(t, groups[i].Entries[0].RelativePath, pkg.Entries[0].RelativePath)
	}
}
