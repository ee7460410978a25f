package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markus-seidl/pybutcherbackup/internal/logging"
)

func TestDefaultLogger_FiltersBelowMinLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := logging.NewDefaultLogger(&buf, logging.LevelWarn)
	log.Debugf(logging.NSWalk, "should not appear")
	log.Infof(logging.NSWalk, "should not appear either")
	log.Warnf(logging.NSWalk, "visible warning")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "visible warning")
	assert.Contains(t, out, "[walk]")
}

func TestDefaultLogger_Fatalf_UsesHandlerInsteadOfExit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := logging.NewDefaultLogger(&buf, logging.LevelDebug)

	var gotNS, gotMsg string

	log.SetFatalHandler(func(ns, msg string) {
		gotNS = ns
		gotMsg = msg
	})

	log.Fatalf(logging.NSCatalog, "unrecoverable: %s", "boom")

	assert.Equal(t, logging.NSCatalog, gotNS)
	assert.True(t, strings.Contains(gotMsg, "boom"))
}

func TestNop_SatisfiesLogger(t *testing.T) {
	t.Parallel()

	var l logging.Logger = logging.Nop{}
	l.Debugf(logging.NSCLI, "x")
	l.Infof(logging.NSCLI, "x")
	l.Warnf(logging.NSCLI, "x")
	l.Errorf(logging.NSCLI, "x")
	l.Fatalf(logging.NSCLI, "x")
}
