// Package codec implements the pluggable compression layer (spec §4.5):
// each Codec writes a group of files (or a single split part) into a
// compressed tar archive, and extracts named entries back out.
package codec

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// ErrCodecFailure wraps any compression/decompression failure.
var ErrCodecFailure = errors.New("codec failure")

// ErrExtractMissing is returned when a requested entry is absent from an
// archive during restore (spec §4.5, §7).
var ErrExtractMissing = errors.New("requested entry missing from archive")

// Name identifies a codec by its configuration string (spec §4.5, §6).
type Name string

const (
	BZip2 Name = "bz2"
	Gzip  Name = "gz"
	XZ    Name = "xz"
)

// Codec compresses groups of files into, and extracts entries from, a
// single archive file.
type Codec interface {
	// Archive writes one compressed tar containing every entry in
	// group, read from baseDir+entry.RelativePath, named by
	// RelativePath with its leading separator stripped.
	Archive(group []model.FileEntry, baseDir, outPath string) error

	// ArchiveSingle writes one compressed tar containing exactly one
	// entry named entryName, whose bytes come from srcPath (used for
	// split parts: the bytes are the part's temp file, not the
	// original source file).
	ArchiveSingle(srcPath, entryName, outPath string) error

	// Extract extracts only the named relative paths from archivePath
	// into outDir, preserving their archived structure. Returns
	// ErrExtractMissing if any requested path is absent.
	Extract(archivePath string, relativePaths []string, outDir string) error

	// Extension is the canonical file suffix for this codec, e.g. "tar.bz2".
	Extension() string
}

func entryName(relativePath string) string {
	return strings.TrimPrefix(relativePath, string(filepath.Separator))
}

// writeTar streams entries into tw, reading bytes from baseDir+RelativePath.
func writeTar(tw *tar.Writer, group []model.FileEntry, baseDir string) error {
	for _, e := range group {
		if err := writeTarEntry(tw, filepath.Join(baseDir, e.RelativePath), entryName(e.RelativePath), e.Size); err != nil {
			return err
		}
	}

	return nil
}

// writeTarSingle streams exactly one entry into tw, named name, its
// bytes read from srcPath (used for ArchiveSingle: the bytes come from a
// split-part temp file, not from the original source tree).
func writeTarSingle(tw *tar.Writer, srcPath, name string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrCodecFailure, srcPath, err)
	}

	return writeTarEntry(tw, srcPath, name, info.Size())
}

func writeTarEntry(tw *tar.Writer, srcPath, name string, size int64) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCodecFailure, srcPath, err)
	}
	defer f.Close()

	hdr := &tar.Header{Name: name, Mode: 0o644, Size: size, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write header %s: %w", ErrCodecFailure, name, err)
	}

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("%w: write entry %s: %w", ErrCodecFailure, name, err)
	}

	return nil
}

// extractTar reads tr, writing only entries whose name is in wanted
// (a set of stripped relative paths) to outDir, and reports which
// requested names were found.
func extractTar(tr *tar.Reader, wanted map[string]bool, outDir string) (found map[string]bool, err error) {
	found = make(map[string]bool, len(wanted))

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return found, fmt.Errorf("%w: read tar: %w", ErrCodecFailure, err)
		}

		if hdr.Typeflag != tar.TypeReg || !wanted[hdr.Name] {
			continue
		}

		dest := filepath.Join(outDir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return found, fmt.Errorf("%w: mkdir for %s: %w", ErrCodecFailure, hdr.Name, err)
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return found, fmt.Errorf("%w: create %s: %w", ErrCodecFailure, dest, err)
		}

		_, copyErr := io.Copy(out, tr)
		closeErr := out.Close()

		if copyErr != nil {
			return found, fmt.Errorf("%w: write %s: %w", ErrCodecFailure, dest, copyErr)
		}

		if closeErr != nil {
			return found, fmt.Errorf("%w: close %s: %w", ErrCodecFailure, dest, closeErr)
		}

		found[hdr.Name] = true
	}

	return found, nil
}

func checkFound(wanted []string, found map[string]bool) error {
	var missing []string

	for _, w := range wanted {
		name := entryName(w)
		if !found[name] {
			missing = append(missing, w)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrExtractMissing, strings.Join(missing, ", "))
	}

	return nil
}

func wantedSet(relativePaths []string) map[string]bool {
	set := make(map[string]bool, len(relativePaths))
	for _, p := range relativePaths {
		set[entryName(p)] = true
	}

	return set
}

// magic byte sequences used by Detect to auto-detect a compressed-tar
// variant regardless of configured codec (spec §9 Design Notes).
var (
	magicBZip2 = []byte{0x42, 0x5a, 0x68} // "BZh"
	magicGzip  = []byte{0x1f, 0x8b}
	magicXZ    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Detect inspects archivePath's header bytes and returns the matching
// Codec, so restore can extract any supported archive without knowing
// which codec produced it.
func Detect(archivePath string) (Codec, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCodecFailure, archivePath, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: peek header of %s: %w", ErrCodecFailure, archivePath, err)
	}

	switch {
	case bytes.HasPrefix(header, magicBZip2):
		return BZip2Codec{}, nil
	case bytes.HasPrefix(header, magicGzip):
		return GzipCodec{}, nil
	case bytes.HasPrefix(header, magicXZ):
		return XZCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized archive header in %s", ErrCodecFailure, archivePath)
	}
}

// New resolves a configured codec Name to its implementation.
func New(name Name) (Codec, error) {
	switch name {
	case BZip2:
		return BZip2Codec{}, nil
	case Gzip:
		return GzipCodec{}, nil
	case XZ:
		return XZCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", ErrCodecFailure, name)
	}
}
