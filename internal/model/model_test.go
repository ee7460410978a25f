package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

func TestFileEntry_WithDigest(t *testing.T) {
	t.Parallel()

	e := model.FileEntry{RelativePath: "/a.txt", Size: 10}
	assert.False(t, e.HasDigest())

	digest := [32]byte{1, 2, 3}
	e2 := e.WithDigest(digest)

	assert.True(t, e2.HasDigest())
	assert.Equal(t, digest, e2.SHA256)
	assert.False(t, e.HasDigest(), "WithDigest must not mutate the receiver")
}

func TestFileInfo_PartCount(t *testing.T) {
	t.Parallel()

	fi := model.FileInfo{ArchiveIDs: []int64{1, 2, 3}}
	assert.Equal(t, 3, fi.PartCount())

	single := model.FileInfo{ArchiveIDs: []int64{7}}
	assert.Equal(t, 1, single.PartCount())
}
