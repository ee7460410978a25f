package codec

import (
	"archive/tar"
	"fmt"
	"os"

	"github.com/dsnet/compress/bzip2"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// BZip2Codec is the default codec: bzip2-compressed tar.
type BZip2Codec struct{}

func (BZip2Codec) Extension() string { return "tar.bz2" }

func (BZip2Codec) Archive(group []model.FileEntry, baseDir, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	bw, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return fmt.Errorf("%w: bzip2 writer: %w", ErrCodecFailure, err)
	}

	tw := tar.NewWriter(bw)

	if err := writeTar(tw, group, baseDir); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	if err := bw.Close(); err != nil {
		return fmt.Errorf("%w: close bzip2 writer: %w", ErrCodecFailure, err)
	}

	return nil
}

func (BZip2Codec) ArchiveSingle(srcPath, entryName, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCodecFailure, outPath, err)
	}
	defer out.Close()

	bw, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return fmt.Errorf("%w: bzip2 writer: %w", ErrCodecFailure, err)
	}

	tw := tar.NewWriter(bw)

	if err := writeTarSingle(tw, srcPath, entryName); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: close tar: %w", ErrCodecFailure, err)
	}

	if err := bw.Close(); err != nil {
		return fmt.Errorf("%w: close bzip2 writer: %w", ErrCodecFailure, err)
	}

	return nil
}

func (BZip2Codec) Extract(archivePath string, relativePaths []string, outDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCodecFailure, archivePath, err)
	}
	defer in.Close()

	br, err := bzip2.NewReader(in, nil)
	if err != nil {
		return fmt.Errorf("%w: bzip2 reader: %w", ErrCodecFailure, err)
	}
	defer br.Close()

	found, err := extractTar(tar.NewReader(br), wantedSet(relativePaths), outDir)
	if err != nil {
		return err
	}

	return checkFound(relativePaths, found)
}
