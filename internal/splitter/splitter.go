// Package splitter streams an oversize file into sequential byte-range
// parts, each at most the archive budget, as temp files (spec §4.4).
package splitter

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/markus-seidl/pybutcherbackup/internal/logging"
)

// ReadGranule is the smallest legitimate split read size: 1 KiB.
const ReadGranule = 1024

// Part is one byte-range fragment of an oversize file, staged as a temp
// file. PartNumber is 0-based and monotonic within one Split call.
type Part struct {
	PartNumber int
	Path       string // temp file path; caller owns cleanup
	Size       int64
}

// Split streams src into parts of at most budget bytes each, 1 KiB at a
// time. If src's length is an exact multiple of budget, the final
// iteration detects the empty read at the start of a part and stops
// without emitting a zero-byte part (spec §4.4).
func Split(src string, budget int64, tmpDir string, log logging.Logger) iter.Seq2[Part, error] {
	if log == nil {
		log = logging.Nop{}
	}

	return func(yield func(Part, error) bool) {
		f, err := os.Open(src)
		if err != nil {
			yield(Part{}, fmt.Errorf("splitter: open %s: %w", src, err))
			return
		}
		defer f.Close()

		buf := make([]byte, ReadGranule)
		partNumber := 0

		for {
			part, n, err := writePart(f, buf, budget, partNumber, tmpDir)
			if err != nil {
				yield(Part{}, err)
				return
			}

			if n == 0 {
				// Exact-multiple edge case: nothing read at the start
				// of a new part, so there is no part to emit.
				if part.Path != "" {
					_ = os.Remove(part.Path)
				}

				return
			}

			log.Debugf(logging.NSSplit, "wrote part %d (%d bytes) of %s", partNumber, n, src)

			if !yield(part, nil) {
				return
			}

			partNumber++
		}
	}
}

// writePart writes up to budget bytes (in ReadGranule chunks) from r into
// a fresh temp file under tmpDir, returning the part descriptor and the
// number of bytes actually written.
func writePart(r io.Reader, buf []byte, budget int64, partNumber int, tmpDir string) (Part, int64, error) {
	tmp, err := os.CreateTemp(tmpDir, fmt.Sprintf("split-part-%05d-*.bin", partNumber))
	if err != nil {
		return Part{}, 0, fmt.Errorf("splitter: create temp part: %w", err)
	}
	defer tmp.Close()

	var written int64

	for written < budget {
		toRead := int64(len(buf))
		if remaining := budget - written; remaining < toRead {
			toRead = remaining
		}

		n, readErr := r.Read(buf[:toRead])
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				return Part{}, 0, fmt.Errorf("splitter: write part %d: %w", partNumber, writeErr)
			}

			written += int64(n)
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return Part{}, 0, fmt.Errorf("splitter: read source for part %d: %w", partNumber, readErr)
		}

		if n == 0 {
			break
		}
	}

	if err := tmp.Sync(); err != nil {
		return Part{}, 0, fmt.Errorf("splitter: sync part %d: %w", partNumber, err)
	}

	return Part{PartNumber: partNumber, Path: tmp.Name(), Size: written}, written, nil
}
