package cli

import (
	"context"
	"fmt"

	"github.com/markus-seidl/pybutcherbackup/internal/config"
	"github.com/markus-seidl/pybutcherbackup/internal/engine"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"

	flag "github.com/spf13/pflag"
)

// BackupCmd returns the backup command.
func BackupCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("backup", flag.ContinueOnError)

	source := flags.String("source", "", "Source directory to back up")
	destination := flags.String("destination", "", "Destination root for media")
	kind := flags.String("kind", "", "auto, FULL, or INCREMENTAL")
	codec := flags.String("codec", "", "bz2, gz, or xz")
	cipher := flags.String("cipher", "", "gpg-symmetric or aes-cbc-file")
	passphrase := flags.String("passphrase", "", "Symmetric passphrase")
	archiveSize := flags.Int64("archive-size", 0, "Archive size budget in bytes")
	mediumCap := flags.Int64("medium-capacity", 0, "Medium capacity in bytes, -1 for unlimited")
	hook := flags.String("hook", "", "Command to run after each medium is finalized")
	verbose := flags.BoolP("verbose", "v", false, "Log debug-level detail")

	return &Command{
		Flags: flags,
		Usage: "backup [flags]",
		Short: "Run a backup pass",
		Long:  "Walk the source tree, archive changes since the last backup, and stage them onto the destination media.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			overrides := config.Config{
				Source:      *source,
				Destination: *destination,
				Kind:        config.BackupKind(*kind),
				Codec:       config.Codec(*codec),
				Cipher:      config.Cipher(*cipher),
				Passphrase:  *passphrase,
				ArchiveSize: *archiveSize,
				MediumCap:   *mediumCap,
				HookCommand: *hook,
			}

			effective := config.ApplyOverrides(cfg, overrides)

			return execBackup(ctx, o, effective, *verbose)
		},
	}
}

func execBackup(ctx context.Context, o *IO, cfg config.Config, verbose bool) error {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}

	log := logging.NewDefaultLogger(o.out, level)

	result, err := engine.Backup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	o.Println(fmt.Sprintf("backup %d (%s): %d files, %d deleted, %d archives, %d media",
		result.BackupID, result.Kind, result.FilesHandled, result.FilesDeleted, result.Archives, result.Discs))

	return nil
}
