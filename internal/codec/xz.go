package codec

import (
	"archive/tar"
	"fmt"
	"os"

	"github.com/ulikunitz/xz"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// XZCodec writes lzma2-compressed (xz container) tar archives.
type XZCodec struct{}

func (XZCodec) Extension() string { return "tar.xz" }

func (XZCodec) Archive(group []model.FileEntry, baseDir, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("%w: xz writer: %w", ErrCodecFailure, err)
	}

	tw := tar.NewWriter(xw)

	if err := writeTar(tw, group, baseDir); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	if err := xw.Close(); err != nil {
		return fmt.Errorf("%w: close xz writer: %w", ErrCodecFailure, err)
	}

	return nil
}

func (XZCodec) ArchiveSingle(srcPath, entryName, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("%w: xz writer: %w", ErrCodecFailure, err)
	}

	tw := tar.NewWriter(xw)

	if err := writeTarSingle(tw, srcPath, entryName); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	return xw.Close()
}

func (XZCodec) Extract(archivePath string, relativePaths []string, outDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCodecFailure, archivePath, err)
	}
	defer in.Close()

	xr, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("%w: xz reader: %w", ErrCodecFailure, err)
	}

	found, err := extractTar(tar.NewReader(xr), wantedSet(relativePaths), outDir)
	if err != nil {
		return err
	}

	return checkFound(relativePaths, found)
}
