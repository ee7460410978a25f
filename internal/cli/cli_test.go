package cli_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-seidl/pybutcherbackup/internal/cli"
	"github.com/markus-seidl/pybutcherbackup/internal/config"
)

func TestPrintConfigCmd_ShowsResolvedValues(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Source = "/src"
	cfg.Destination = "/dst"

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	code := cli.PrintConfigCmd(cfg).Run(context.Background(), io, nil)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "source=/src")
	assert.Contains(t, out.String(), "destination=/dst")
	assert.Contains(t, out.String(), "(defaults only)")
}

func TestPrintConfigCmd_ShowsConfigSources(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Sources = config.ConfigSources{Global: "/home/.config/butcherbak/config.json", Project: "/repo/.butcherbak.json"}

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	cli.PrintConfigCmd(cfg).Run(context.Background(), io, nil)

	assert.Contains(t, out.String(), "global_config=/home/.config/butcherbak/config.json")
	assert.Contains(t, out.String(), "project_config=/repo/.butcherbak.json")
}

func TestCommand_Run_HelpFlagPrintsUsageAndExitsZero(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	code := cli.BackupCmd(cfg).Run(context.Background(), io, []string{"--help"})

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage: butcherbak backup")
}

func TestCommand_Run_UnknownFlagPrintsErrorAndExitsOne(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	code := cli.BackupCmd(cfg).Run(context.Background(), io, []string{"--does-not-exist"})

	assert.Equal(t, 1, code)
	assert.True(t, strings.Contains(errOut.String(), "error:"))
}

func TestCommand_NameAndHelpLine(t *testing.T) {
	t.Parallel()

	cmd := cli.RestoreCmd(config.DefaultConfig())

	assert.Equal(t, "restore", cmd.Name())
	assert.Contains(t, cmd.HelpLine(), "restore [flags]")
}

func TestIO_WarnIsFlushedOnFinishAndCausesNonZeroExit(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	io.Warn("passphrase not set, archives will be unencrypted")

	code := io.Finish()

	require.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "warning:")
}

func TestIO_ErrPrintlnBypassesWarningBuffering(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	io := cli.NewIO(&out, &errOut)

	io.ErrPrintln("error:", "boom")

	assert.Contains(t, errOut.String(), "boom")
}
