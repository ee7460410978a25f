// Package pipeline connects Bulker output through (Splitter,) Compressor,
// and Encryptor as a bounded, ordered producer/consumer chain with
// backpressure (spec §4.7). MediumStore placement and catalog writes stay
// on the driver's goroutine, outside this package, per spec §5.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/markus-seidl/pybutcherbackup/internal/bulker"
	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
	"github.com/markus-seidl/pybutcherbackup/internal/splitter"
)

// ErrPipelineFailure wraps a stage failure surfaced to the driver.
var ErrPipelineFailure = errors.New("pipeline stage failure")

// Package is one ArchivePackage yielded to the driver, in the same order
// for both pipeline modes (spec §4.7 ordering guarantee).
type Package struct {
	Entries    []model.FileEntry // the whole group, for non-split packages
	PartEntry  model.FileEntry   // the oversize file this part belongs to (PartNumber >= 0 only)
	PartNumber int               // -1 for a normal (non-split) package
	PartTotal  int               // total parts for this file, when PartNumber >= 0
	StagedPath string            // compressed(+encrypted) archive file, owned by caller
}

// Config configures pipeline execution mode (spec §4.7, §6).
type Config struct {
	Parallel           bool
	Workers            int
	BackpressureBudget int
}

// Deps bundles the stage implementations a Run needs.
type Deps struct {
	Budget  int64
	BaseDir string // source root, for resolving FileEntry.RelativePath
	TmpDir  string
	Codec   codec.Codec
	Cipher  cipher.Cipher
	Log     logging.Logger
}

// Run drains groups through compression and encryption, yielding Packages
// in input order with split parts inserted contiguously at the oversize
// entry's position (spec §4.7 ordering guarantee). Errors abort the
// sequence; the driver is expected to stop pulling and roll back.
func Run(ctx context.Context, groups iter.Seq[bulker.Group], cfg Config, deps Deps, errOut *error) iter.Seq[Package] {
	if deps.Log == nil {
		deps.Log = logging.Nop{}
	}

	if cfg.Parallel {
		return runParallel(ctx, groups, cfg, deps, errOut)
	}

	return runSequential(ctx, groups, deps, errOut)
}

// runSequential implements the single-threaded mode: strict lazy pull,
// one archive in flight at a time (spec §4.7).
func runSequential(ctx context.Context, groups iter.Seq[bulker.Group], deps Deps, errOut *error) iter.Seq[Package] {
	return func(yield func(Package) bool) {
		for g := range groups {
			if err := ctx.Err(); err != nil {
				setErr(errOut, err)
				return
			}

			if bulker.IsOversize(g, deps.Budget) {
				if !emitSplitParts(g.Entries[0], deps, yield, errOut) {
					return
				}

				continue
			}

			pkg, err := processGroup(g, deps)
			if err != nil {
				setErr(errOut, err)
				return
			}

			if !yield(pkg) {
				return
			}
		}
	}
}

// runParallel implements the worker-pool mode: a bounded in-flight queue
// of futures, drained in FIFO order, with a full drain barrier before any
// split-part emission (spec §4.7, §5).
func runParallel(ctx context.Context, groups iter.Seq[bulker.Group], cfg Config, deps Deps, errOut *error) iter.Seq[Package] {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	budget := cfg.BackpressureBudget
	if budget <= 0 {
		budget = 5
	}

	return func(yield func(Package) bool) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		gate := NewGate(budget)

		var inflight []chan result

		submit := func(group bulker.Group) {
			ch := make(chan result, 1)
			inflight = append(inflight, ch)
			gate.Register()

			g.Go(func() error {
				pkg, err := processGroup(group, deps)
				ch <- result{pkg: pkg, err: err}

				return err
			})
		}

		drainOne := func() (result, bool) {
			if len(inflight) == 0 {
				return result{}, false
			}

			head := inflight[0]
			inflight = inflight[1:]
			gate.Unregister()

			return <-head, true
		}

		drainAll := func() bool {
			for {
				r, ok := drainOne()
				if !ok {
					return true
				}

				if r.err != nil {
					return false
				}

				if !yield(r.pkg) {
					return false
				}
			}
		}

		for group := range groups {
			if gctx.Err() != nil {
				break
			}

			if bulker.IsOversize(group, deps.Budget) {
				// Synchronization barrier: drain all in-flight work
				// before emitting split parts, to preserve ordering.
				if !drainAll() {
					break
				}

				if !emitSplitParts(group.Entries[0], deps, yield, errOut) {
					g.Wait() //nolint:errcheck // error already captured via errOut

					return
				}

				continue
			}

			submit(group)

			for gate.Reached() {
				r, ok := drainOne()
				if !ok {
					break
				}

				if r.err != nil {
					break
				}

				if !yield(r.pkg) {
					_ = g.Wait()

					return
				}
			}
		}

		drainAll()

		if err := g.Wait(); err != nil {
			setErr(errOut, fmt.Errorf("%w: %w", ErrPipelineFailure, err))
		}
	}
}

type result struct {
	pkg Package
	err error
}

func processGroup(g bulker.Group, deps Deps) (Package, error) {
	staged, err := os.CreateTemp(deps.TmpDir, "archive-*."+deps.Codec.Extension())
	if err != nil {
		return Package{}, fmt.Errorf("%w: create staged archive: %w", ErrPipelineFailure, err)
	}

	stagedPath := staged.Name()
	_ = staged.Close()

	if err := deps.Codec.Archive(g.Entries, deps.BaseDir, stagedPath); err != nil {
		return Package{}, fmt.Errorf("%w: %w", ErrPipelineFailure, err)
	}

	finalPath := stagedPath

	if deps.Cipher.Extension() != "" {
		encPath := stagedPath + "." + deps.Cipher.Extension()
		if err := deps.Cipher.Encrypt(stagedPath, encPath); err != nil {
			return Package{}, fmt.Errorf("%w: %w", ErrPipelineFailure, err)
		}

		_ = os.Remove(stagedPath)
		finalPath = encPath
	}

	return Package{Entries: g.Entries, PartNumber: -1, StagedPath: finalPath}, nil
}

// emitSplitParts streams entry's parts through the Splitter and, for
// each, the Compressor and Encryptor, yielding one Package per part in
// ascending part order (spec §4.4, §4.7 Open Question 2).
func emitSplitParts(entry model.FileEntry, deps Deps, yield func(Package) bool, errOut *error) bool {
	srcPath := filepath.Join(deps.BaseDir, entry.RelativePath)

	var parts []splitter.Part

	for part, err := range splitter.Split(srcPath, deps.Budget, deps.TmpDir, deps.Log) {
		if err != nil {
			setErr(errOut, fmt.Errorf("%w: %w", ErrPipelineFailure, err))
			return false
		}

		parts = append(parts, part)
	}

	total := len(parts)

	for _, part := range parts {
		pkg, err := processPart(entry, part, total, deps)
		if err != nil {
			setErr(errOut, err)
			return false
		}

		if !yield(pkg) {
			return false
		}
	}

	return true
}

func processPart(entry model.FileEntry, part splitter.Part, total int, deps Deps) (Package, error) {
	defer os.Remove(part.Path)

	staged, err := os.CreateTemp(deps.TmpDir, "archive-part-*."+deps.Codec.Extension())
	if err != nil {
		return Package{}, fmt.Errorf("%w: create staged part archive: %w", ErrPipelineFailure, err)
	}

	stagedPath := staged.Name()
	_ = staged.Close()

	if err := deps.Codec.ArchiveSingle(part.Path, entry.RelativePath, stagedPath); err != nil {
		return Package{}, fmt.Errorf("%w: %w", ErrPipelineFailure, err)
	}

	finalPath := stagedPath

	if deps.Cipher.Extension() != "" {
		encPath := stagedPath + "." + deps.Cipher.Extension()
		if err := deps.Cipher.Encrypt(stagedPath, encPath); err != nil {
			return Package{}, fmt.Errorf("%w: %w", ErrPipelineFailure, err)
		}

		_ = os.Remove(stagedPath)
		finalPath = encPath
	}

	return Package{
		PartEntry:  entry,
		PartNumber: part.PartNumber,
		PartTotal:  total,
		StagedPath: finalPath,
	}, nil
}

func setErr(errOut *error, err error) {
	if errOut != nil && *errOut == nil {
		*errOut = err
	}
}
