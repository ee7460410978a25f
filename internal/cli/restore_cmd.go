package cli

import (
	"context"
	"fmt"

	"github.com/markus-seidl/pybutcherbackup/internal/config"
	"github.com/markus-seidl/pybutcherbackup/internal/engine"
	"github.com/markus-seidl/pybutcherbackup/internal/logging"

	flag "github.com/spf13/pflag"
)

// RestoreCmd returns the restore command.
func RestoreCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("restore", flag.ContinueOnError)

	destination := flags.String("destination", "", "Media root to restore from")
	restoreTo := flags.String("restore-to", "", "Directory to restore into (default: source)")
	filter := flags.String("filter", "", "Regex over relative_path (default: restore everything)")
	cipher := flags.String("cipher", "", "gpg-symmetric or aes-cbc-file")
	passphrase := flags.String("passphrase", "", "Symmetric passphrase")
	verbose := flags.BoolP("verbose", "v", false, "Log debug-level detail")

	return &Command{
		Flags: flags,
		Usage: "restore [flags]",
		Short: "Restore files from media",
		Long:  "Select files by relative-path regex, fetch the archives holding them in order, and reassemble the originals.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			overrides := config.Config{
				Destination:   *destination,
				RestoreTo:     *restoreTo,
				RestoreFilter: *filter,
				Cipher:        config.Cipher(*cipher),
				Passphrase:    *passphrase,
			}

			effective := config.ApplyOverrides(cfg, overrides)

			return execRestore(ctx, o, effective, *verbose)
		},
	}
}

func execRestore(ctx context.Context, o *IO, cfg config.Config, verbose bool) error {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}

	log := logging.NewDefaultLogger(o.out, level)

	result, err := engine.Restore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	o.Println(fmt.Sprintf("restored %d/%d requested files", result.Restored, result.Requested))

	return nil
}
