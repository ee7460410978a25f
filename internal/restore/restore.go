// Package restore implements the restore planner (spec §4.10): it groups
// requested files by archive, sequences archive fetches to minimize
// medium swaps, and reassembles split files.
package restore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/markus-seidl/pybutcherbackup/internal/cipher"
	"github.com/markus-seidl/pybutcherbackup/internal/codec"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"
	"github.com/markus-seidl/pybutcherbackup/internal/model"
)

// ErrLoopBudgetExceeded is returned when the planner cannot make further
// progress within its safety-counter budget (spec §4.10 step 7, §7).
var ErrLoopBudgetExceeded = errors.New("restore loop budget exceeded")

// View is the minimal read surface the Restorer needs from the catalog's
// effective view.
type View interface {
	All() []model.FileInfo
}

// Plan holds the still-outstanding and already-satisfied files for one
// restore run.
type Plan struct {
	want map[string]model.FileInfo
}

// NewPlan filters view's files by the restore regex into `want` (spec
// §4.10 steps 1-2).
func NewPlan(view View, pattern string) (*Plan, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("restore: compile filter %q: %w", pattern, err)
	}

	want := make(map[string]model.FileInfo)

	for _, fi := range view.All() {
		if re.MatchString(fi.File.RelativePath) {
			want[fi.File.RelativePath] = fi
		}
	}

	return &Plan{want: want}, nil
}

// Remaining returns the number of files still outstanding.
func (p *Plan) Remaining() int { return len(p.want) }

// ScanAvailable walks sourceDir recursively and indexes every file whose
// name (minus its combined extension) parses as an integer, mapping
// archive id -> path (spec §4.10 step 3).
func ScanAvailable(sourceDir string) (map[int64]string, error) {
	available := make(map[int64]string)

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		base := filepath.Base(path)

		idPart, _, found := strings.Cut(base, ".")
		if !found {
			idPart = base
		}

		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			return nil
		}

		available[id] = path

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore: scan %s: %w", sourceDir, err)
	}

	return available, nil
}

// Ready partitions want into files whose required archives are all
// present in available, grouped under every archive that holds a part of
// them (spec §4.10 steps 4-5). Files with only some archives present
// stay in want for a later scan (the tie-break of spec §4.10).
func (p *Plan) Ready(available map[int64]string) map[int64][]model.FileInfo {
	byArchive := make(map[int64][]model.FileInfo)

	for _, fi := range p.want {
		allPresent := true

		for _, id := range fi.ArchiveIDs {
			if _, ok := available[id]; !ok {
				allPresent = false
				break
			}
		}

		if !allPresent {
			continue
		}

		// List the file under each of its archives so every fragment of
		// a split file is extracted in the same pass.
		for _, id := range fi.ArchiveIDs {
			byArchive[id] = append(byArchive[id], fi)
		}
	}

	return byArchive
}

// Done removes path from want once fully restored.
func (p *Plan) Done(path string) { delete(p.want, path) }

// Restorer drives the fetch/extract/reassemble loop.
type Restorer struct {
	Codec       codec.Codec // nil triggers auto-detect per archive
	Cipher      cipher.Cipher
	Destination string
	TmpDir      string
	Log         logging.Logger

	fragments map[string]map[int64]string // relative_path -> archive_id -> fragment temp path
}

// Run executes the outer loop of spec §4.10 step 7: repeatedly scan for
// newly available media, extract everything currently satisfiable, and
// reassemble split files, until plan is empty or the safety counter
// (10x the initial want size) is exhausted. A scan that finds nothing
// newly satisfiable ends the run at once with ErrLoopBudgetExceeded.
func (r *Restorer) Run(plan *Plan, sourceDir string) error {
	if r.Log == nil {
		r.Log = logging.Nop{}
	}

	if r.fragments == nil {
		r.fragments = make(map[string]map[int64]string)
	}

	initial := plan.Remaining()
	if initial == 0 {
		return nil
	}

	budget := 10 * initial

	for iteration := 0; plan.Remaining() > 0; iteration++ {
		if iteration >= budget {
			return fmt.Errorf("%w: %d files remaining", ErrLoopBudgetExceeded, plan.Remaining())
		}

		available, err := ScanAvailable(sourceDir)
		if err != nil {
			return err
		}

		ready := plan.Ready(available)
		if len(ready) == 0 {
			r.Log.Warnf(logging.NSRestore, "no progress this scan, %d files remaining; giving up", plan.Remaining())
			return fmt.Errorf("%w: %d files remaining", ErrLoopBudgetExceeded, plan.Remaining())
		}

		archiveIDs := make([]int64, 0, len(ready))
		for id := range ready {
			archiveIDs = append(archiveIDs, id)
		}

		sort.Slice(archiveIDs, func(i, j int) bool { return archiveIDs[i] < archiveIDs[j] })

		for _, archiveID := range archiveIDs {
			if err := r.fetchArchive(plan, available[archiveID], archiveID, ready[archiveID]); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Restorer) fetchArchive(plan *Plan, archivePath string, archiveID int64, files []model.FileInfo) error {
	decrypted := archivePath

	if r.Cipher != nil && r.Cipher.Extension() != "" && strings.HasSuffix(archivePath, "."+r.Cipher.Extension()) {
		tmp, err := os.CreateTemp(r.TmpDir, "restore-decrypt-*")
		if err != nil {
			return fmt.Errorf("restore: create decrypt temp: %w", err)
		}

		tmpPath := tmp.Name()
		_ = tmp.Close()

		if err := r.Cipher.Decrypt(archivePath, tmpPath); err != nil {
			return fmt.Errorf("restore: decrypt %s: %w", archivePath, err)
		}

		decrypted = tmpPath

		defer os.Remove(tmpPath)
	}

	cdc := r.Codec

	if cdc == nil {
		detected, err := codec.Detect(decrypted)
		if err != nil {
			return err
		}

		cdc = detected
	}

	names := make([]string, 0, len(files))
	for _, fi := range files {
		names = append(names, fi.File.RelativePath)
	}

	extractDir, err := os.MkdirTemp(r.TmpDir, "restore-extract-*")
	if err != nil {
		return fmt.Errorf("restore: create extract temp dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := cdc.Extract(decrypted, names, extractDir); err != nil {
		return err
	}

	for _, fi := range files {
		if err := r.collectFragment(fi, archiveID, extractDir); err != nil {
			return err
		}

		if r.complete(fi) {
			if err := r.reassemble(fi); err != nil {
				return err
			}

			plan.Done(fi.File.RelativePath)
		}
	}

	return nil
}

func (r *Restorer) collectFragment(fi model.FileInfo, archiveID int64, extractDir string) error {
	name := strings.TrimPrefix(fi.File.RelativePath, string(filepath.Separator))
	extracted := filepath.Join(extractDir, name)

	holder, err := os.CreateTemp(r.TmpDir, fmt.Sprintf("restore-frag-%d-*", archiveID))
	if err != nil {
		return fmt.Errorf("restore: create fragment holder: %w", err)
	}

	defer holder.Close()

	src, err := os.Open(extracted)
	if err != nil {
		return fmt.Errorf("restore: open extracted %s: %w", extracted, err)
	}
	defer src.Close()

	if _, err := io.Copy(holder, src); err != nil {
		return fmt.Errorf("restore: copy fragment %s: %w", extracted, err)
	}

	if r.fragments[fi.File.RelativePath] == nil {
		r.fragments[fi.File.RelativePath] = make(map[int64]string)
	}

	r.fragments[fi.File.RelativePath][archiveID] = holder.Name()

	return nil
}

func (r *Restorer) complete(fi model.FileInfo) bool {
	return len(r.fragments[fi.File.RelativePath]) == fi.PartCount()
}

// reassemble concatenates fi's collected fragments in ascending
// Archive.id order at the destination (spec §4.10 step 6, §8 invariant 7).
func (r *Restorer) reassemble(fi model.FileInfo) error {
	frags := r.fragments[fi.File.RelativePath]
	defer delete(r.fragments, fi.File.RelativePath)

	dest := filepath.Join(r.Destination, fi.File.RelativePath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("restore: mkdir for %s: %w", dest, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("restore: create %s: %w", dest, err)
	}
	defer out.Close()

	ids := append([]int64(nil), fi.ArchiveIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		fragPath, ok := frags[id]
		if !ok {
			return fmt.Errorf("restore: missing fragment for archive %d of %s", id, fi.File.RelativePath)
		}

		if err := appendFragment(out, fragPath); err != nil {
			return err
		}

		_ = os.Remove(fragPath)
	}

	return out.Sync()
}

func appendFragment(out *os.File, fragPath string) error {
	frag, err := os.Open(fragPath)
	if err != nil {
		return fmt.Errorf("restore: open fragment %s: %w", fragPath, err)
	}
	defer frag.Close()

	if _, err := io.Copy(out, frag); err != nil {
		return fmt.Errorf("restore: append fragment %s: %w", fragPath, err)
	}

	return nil
}
