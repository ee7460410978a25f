package engine

import (
	"context"
	"fmt"
	"iter"

	"github.com/markus-seidl/pybutcherbackup/internal/catalog"
	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/medium"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
	"github.com/markus-seidl/pybutcherbackup/internal/pipeline"
)

// driveState tracks the counters and medium-rotation bookkeeping that
// live only for the duration of one drivePackages call.
type driveState struct {
	discSeq       int
	currentDiscID int64
	archives      int
	discs         int
}

// drivePackages consumes the pipeline's output, rotating media as
// needed, recording File/BackupFileMap/Archive/ArchiveFileMap rows, and
// staging each archive file onto the current medium. This is the
// driver goroutine of spec §5: it owns the catalog transaction and all
// medium I/O, serialized, while the pipeline itself may run compression
// and encryption concurrently.
func drivePackages(ctx context.Context, packages iter.Seq[pipeline.Package], run *catalog.Run, store *medium.Store, cdc codec.Codec, enc cipher.Cipher, result *BackupResult, log logging.Logger) error {
	st := &driveState{}
	ext := archiveExtension(cdc, enc)

	for pkg := range packages {
		if err := ensureMedium(ctx, run, store, st); err != nil {
			return err
		}

		entries := pkg.Entries
		if pkg.PartNumber >= 0 {
			entries = []model.FileEntry{pkg.PartEntry}
		}

		archiveID, err := run.CreateArchive(ctx, st.currentDiscID)
		if err != nil {
			return err
		}

		partNumber := pkg.PartNumber
		if partNumber < 0 {
			partNumber = 0
		}

		for _, e := range entries {
			state, err := entryState(ctx, run, e)
			if err != nil {
				return err
			}

			fileID, err := run.RecordFile(ctx, e, state)
			if err != nil {
				return err
			}

			if err := run.LinkArchiveFile(ctx, archiveID, fileID, partNumber); err != nil {
				return err
			}
		}

		name, size, err := store.Store(pkg.StagedPath, archiveID, ext)
		if err != nil {
			return err
		}

		if err := run.FinalizeArchive(ctx, archiveID, name, size); err != nil {
			return err
		}

		st.archives++

		log.Debugf(logging.NSPipeline, "staged archive %s (%d bytes)", name, size)
	}

	result.Archives = st.archives
	result.Discs = st.discs

	return nil
}

// archiveExtension is the combined on-medium suffix for every archive
// this run produces: the codec's extension, plus the cipher's if one is
// configured (spec §4.9 naming).
func archiveExtension(cdc codec.Codec, enc cipher.Cipher) string {
	ext := cdc.Extension()
	if enc.Extension() != "" {
		ext = ext + "." + enc.Extension()
	}

	return ext
}

// entryState reports whether e is new or an update by checking whether a
// File row with its relative path already exists.
func entryState(ctx context.Context, run *catalog.Run, e model.FileEntry) (model.FileState, error) {
	exists, err := run.FileExists(ctx, e.RelativePath)
	if err != nil {
		return "", err
	}

	if exists {
		return model.StateUpdated, nil
	}

	return model.StateNew, nil
}

// ensureMedium opens a fresh medium directory (creating a new Disc row)
// the first time it's called, and again whenever the current medium has
// no room left (spec §4.9 rotation). It finalizes the outgoing medium
// before opening the next one.
func ensureMedium(ctx context.Context, run *catalog.Run, store *medium.Store, st *driveState) error {
	if !store.NeedNewMedium(0) {
		return nil
	}

	if store.HasOpenMedium() {
		if err := store.FinalizeMedium(ctx); err != nil {
			return fmt.Errorf("drive: finalize medium: %w", err)
		}

		st.discs++
	}

	discID, err := run.CreateDisc(ctx, st.discSeq)
	if err != nil {
		return err
	}

	st.discSeq++

	if err := store.OpenMedium(discID); err != nil {
		return err
	}

	st.currentDiscID = discID

	return nil
}
