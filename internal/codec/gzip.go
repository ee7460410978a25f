package codec

import (
	"archive/tar"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// GzipCodec writes gzip-compressed tar archives.
type GzipCodec struct{}

func (GzipCodec) Extension() string { return "tar.gz" }

func (GzipCodec) Archive(group []model.FileEntry, baseDir, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	if err := writeTar(tw, group, baseDir); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	if err := gw.Close(); err != nil {
		return fmt.Errorf("%w: close gzip writer: %w", ErrCodecFailure, err)
	}

	return nil
}

func (GzipCodec) ArchiveSingle(srcPath, entryName, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	if err := writeTarSingle(tw, srcPath, entryName); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	return gw.Close()
}

func (GzipCodec) Extract(archivePath string, relativePaths []string, outDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCodecFailure, archivePath, err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("%w: gzip reader: %w", ErrCodecFailure, err)
	}
	defer gr.Close()

	found, err := extractTar(tar.NewReader(gr), wantedSet(relativePaths), outDir)
	if err != nil {
		return err
	}

	return checkFound(relativePaths, found)
}
