package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/markus-seidl/pybutcherbackup/internal/catalog"
	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/config"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/restore"
)

// RestoreResult summarizes one restore invocation, for the CLI to print.
type RestoreResult struct {
	Requested int
	Restored  int
}

// Restore opens the catalog at cfg.Destination (the medium root, which
// always carries a redundant catalog copy per spec §4.9), computes the
// effective view, filters by cfg.RestoreFilter, and drives the Restorer
// against the same medium root to reconstruct files under cfg.RestoreTo
// (spec §4.10).
func Restore(ctx context.Context, cfg config.Config, log logging.Logger) (RestoreResult, error) {
	if log == nil {
		log = logging.Nop{}
	}

	cat, err := catalog.Open(ctx, catalogPath(cfg), log)
	if err != nil {
		return RestoreResult{}, err
	}
	defer cat.Close()

	setID, err := cat.LookupSetID(ctx, BackupSetName)
	if err != nil {
		return RestoreResult{}, err
	}

	view, err := cat.EffectiveView(ctx, setID)
	if err != nil {
		return RestoreResult{}, err
	}

	plan, err := restore.NewPlan(view, cfg.RestoreFilter)
	if err != nil {
		return RestoreResult{}, err
	}

	requested := plan.Remaining()
	if requested == 0 {
		return RestoreResult{}, nil
	}

	enc, err := cipher.New(cipher.Name(cfg.Cipher), cfg.Passphrase)
	if err != nil {
		return RestoreResult{}, err
	}

	dest := cfg.RestoreTo
	if dest == "" {
		dest = cfg.Source
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return RestoreResult{}, fmt.Errorf("restore: create destination %s: %w", dest, err)
	}

	tmpDir, err := os.MkdirTemp("", "butcherbak-restore-*")
	if err != nil {
		return RestoreResult{}, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	r := &restore.Restorer{
		Cipher:      enc,
		Destination: dest,
		TmpDir:      tmpDir,
		Log:         log,
	}

	if err := r.Run(plan, cfg.Destination); err != nil {
		return RestoreResult{Requested: requested, Restored: requested - plan.Remaining()}, err
	}

	return RestoreResult{Requested: requested, Restored: requested - plan.Remaining()}, nil
}
