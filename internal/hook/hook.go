// Package hook fires the operator notification command after each
// medium is finalized. It is fire-and-forget: failures are logged, never
// propagated (spec §6, §7 HookFailure, §9 Design Notes), mirroring the
// original backup.common.hookhelper stub contract.
package hook

import (
	"context"
	"os/exec"

	"github.com/markus-seidl/pybutcherbackup/internal/logging"
)

// Context is the cancellation context a hook invocation runs under.
type Context = context.Context

// Run invokes cmd with mediumDir as its sole argument. A non-zero exit
// or spawn failure is logged under NSHook and otherwise ignored.
func Run(ctx Context, cmd, mediumDir string, log logging.Logger) {
	if cmd == "" {
		return
	}

	if log == nil {
		log = logging.Nop{}
	}

	c := exec.CommandContext(ctx, cmd, mediumDir)

	if err := c.Run(); err != nil {
		log.Warnf(logging.NSHook, "hook %q failed for %s: %v", cmd, mediumDir, err)
	}
}
