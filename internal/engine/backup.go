// Package engine wires the ten components together into the two
// top-level operations the CLI exposes: Backup and Restore.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/markus-seidl/pybutcherbackup/internal/bulker"
	"github.com/markus-seidl/pybutcherbackup/internal/catalog"
	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/config"
	"github.com/markus-seidl/pybutcherbackup/internal/filter"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/medium"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
	"github.com/markus-seidl/pybutcherbackup/internal/pipeline"
	"github.com/markus-seidl/pybutcherbackup/internal/walker"
)

// BackupSetName is the fixed BackupSet name for a single-source-root
// install. Multi-set support is out of this engine's scope (spec §1).
const BackupSetName = "default"

// BackupResult summarizes one run, for the CLI to print.
type BackupResult struct {
	BackupID     int64
	Kind         model.BackupKind
	FilesHandled int
	FilesDeleted int
	Archives     int
	Discs        int
}

// Backup runs one full pipeline pass: walk, filter, bulk, split,
// compress, encrypt, stage to medium, and commit the catalog
// transaction (spec §2 data flow, §4.7 cancellation).
func Backup(ctx context.Context, cfg config.Config, log logging.Logger) (_ BackupResult, err error) {
	if log == nil {
		log = logging.Nop{}
	}

	cat, err := catalog.Open(ctx, catalogPath(cfg), log)
	if err != nil {
		return BackupResult{}, err
	}
	defer cat.Close()

	setID, err := cat.LookupSetID(ctx, BackupSetName)
	if err != nil {
		return BackupResult{}, err
	}

	kind, err := resolveKind(ctx, cat, setID, cfg.Kind)
	if err != nil {
		return BackupResult{}, err
	}

	view, err := cat.EffectiveView(ctx, setID)
	if err != nil {
		return BackupResult{}, err
	}

	run, err := cat.BeginRun(ctx, BackupSetName, kind)
	if err != nil {
		return BackupResult{}, err
	}

	defer func() {
		if err != nil {
			_ = run.Rollback()
		}
	}()

	cdc, err := codec.New(codec.Name(cfg.Codec))
	if err != nil {
		return BackupResult{}, err
	}

	enc, err := cipher.New(cipher.Name(cfg.Cipher), cfg.Passphrase)
	if err != nil {
		return BackupResult{}, err
	}

	tmpDir, err := os.MkdirTemp("", "butcherbak-run-*")
	if err != nil {
		return BackupResult{}, fmt.Errorf("backup: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	f := filter.New(view)

	var walkErr error

	w := walker.New(cfg.Source, walker.Options{Hash: true, Log: log})
	emitted := f.Run(w.Walk(&walkErr))

	groups := bulker.Bulk(emitted, cfg.ArchiveSize)

	pcfg := pipeline.Config{
		Parallel:           cfg.Concurrency.IsEnabled(),
		Workers:            cfg.Concurrency.Workers,
		BackpressureBudget: cfg.Concurrency.BackpressureBudget,
	}

	deps := pipeline.Deps{
		Budget:  cfg.ArchiveSize,
		BaseDir: cfg.Source,
		TmpDir:  tmpDir,
		Codec:   cdc,
		Cipher:  enc,
		Log:     log,
	}

	var pipelineErr error

	store := medium.New(cfg.Destination, cfg.MediumCap, cfg.MediumSlack, medium.Names(cfg.Names), log)
	store.SetHookCommand(cfg.HookCommand)

	result := BackupResult{BackupID: run.BackupID(), Kind: kind}

	if err := drivePackages(ctx, pipeline.Run(ctx, groups, pcfg, deps, &pipelineErr), run, store, cdc, enc, &result, log); err != nil {
		return BackupResult{}, err
	}

	if walkErr != nil {
		return BackupResult{}, fmt.Errorf("backup: %w", walkErr)
	}

	if pipelineErr != nil {
		return BackupResult{}, fmt.Errorf("backup: %w", pipelineErr)
	}

	result.FilesHandled = len(f.Handled())

	for _, path := range f.Deleted() {
		if err := run.RecordDeletion(ctx, path); err != nil {
			return BackupResult{}, err
		}

		result.FilesDeleted++
	}

	if store.HasOpenMedium() {
		if err := store.FinalizeMedium(ctx); err != nil {
			return BackupResult{}, err
		}

		result.Discs++
	}

	if err := run.Commit(); err != nil {
		return BackupResult{}, err
	}

	catalogTmp, err := exportCatalogCopy(ctx, cat, cfg)
	if err != nil {
		log.Warnf(logging.NSCatalog, "could not stage catalog copy for media redundancy: %v", err)
	} else {
		defer os.Remove(catalogTmp)

		if err := store.FinalizeBackup(catalogTmp, enc); err != nil {
			log.Warnf(logging.NSMedium, "could not publish catalog copies: %v", err)
		}
	}

	return result, nil
}

func resolveKind(ctx context.Context, cat *catalog.Catalog, setID int64, configured config.BackupKind) (model.BackupKind, error) {
	empty, err := cat.IsEmpty(ctx, setID)
	if err != nil {
		return "", err
	}

	if empty {
		return model.KindFull, nil
	}

	switch configured {
	case config.KindFull:
		return model.KindFull, nil
	case config.KindIncremental, config.KindAuto, "":
		return model.KindIncremental, nil
	default:
		return "", fmt.Errorf("backup: unknown kind %q", configured)
	}
}

func catalogPath(cfg config.Config) string {
	if cfg.Catalog != "" {
		if filepath.IsAbs(cfg.Catalog) {
			return cfg.Catalog
		}

		return filepath.Join(cfg.Destination, cfg.Catalog)
	}

	return filepath.Join(cfg.Destination, "catalog.sqlite")
}

// exportCatalogCopy produces a standalone snapshot of the catalog file
// suitable for publishing onto media. cat's WAL must be checkpointed
// first: committed rows live in the "-wal" sidecar until checkpoint or
// close, and that sidecar is never copied, so reading the main file
// without checkpointing first would publish a stale or empty copy.
func exportCatalogCopy(ctx context.Context, cat *catalog.Catalog, cfg config.Config) (string, error) {
	if err := cat.Checkpoint(ctx); err != nil {
		return "", err
	}

	src := catalogPath(cfg)

	tmp, err := os.CreateTemp("", "butcherbak-catalog-copy-*")
	if err != nil {
		return "", err
	}
	_ = tmp.Close()

	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(tmp.Name(), data, 0o644); err != nil {
		return "", err
	}

	return tmp.Name(), nil
}
