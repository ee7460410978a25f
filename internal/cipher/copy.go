package cipher

import (
	"fmt"
	"io"
	"os"
)

func copyFile(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCipherFailure, inPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCipherFailure, outPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: copy %s -> %s: %w", ErrCipherFailure, inPath, outPath, err)
	}

	return out.Sync()
}
