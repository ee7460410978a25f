package hook_test

import (
	"context"
	"testing"

	"github.com/markus-seidl/pybutcherbackup/internal/hook"
)

func TestRun_EmptyCommandIsNoop(t *testing.T) {
	t.Parallel()

	hook.Run(context.Background(), "", "/tmp/medium", nil)
}

func TestRun_FailingCommandDoesNotPanicOrBlock(t *testing.T) {
	t.Parallel()

	hook.Run(context.Background(), "/nonexistent/command/path", "/tmp/medium", nil)
}
