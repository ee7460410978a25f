// Package logging provides the leveled, namespaced logger used
// throughout the backup engine. Every component logs through a Logger
// rather than calling the log package directly, so tests can inject a
// silent or buffering implementation.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level is a logging verbosity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Namespaces used across the pipeline; kept as constants so call sites
// can't typo a prefix.
const (
	NSWalk     = "walk"
	NSFilter   = "filter"
	NSBulk     = "bulk"
	NSSplit    = "split"
	NSCodec    = "codec"
	NSCipher   = "cipher"
	NSPipeline = "pipeline"
	NSCatalog  = "catalog"
	NSMedium   = "medium"
	NSRestore  = "restore"
	NSHook     = "hook"
	NSCLI      = "cli"
)

// Logger is the leveled logging interface every package depends on.
type Logger interface {
	Debugf(ns, format string, args ...any)
	Infof(ns, format string, args ...any)
	Warnf(ns, format string, args ...any)
	Errorf(ns, format string, args ...any)
	Fatalf(ns, format string, args ...any)
}

// FatalHandler is invoked by Fatalf instead of the process exiting,
// so tests can observe fatal calls without killing the test binary.
type FatalHandler func(ns, msg string)

// DefaultLogger writes leveled, namespaced lines to an *log.Logger.
type DefaultLogger struct {
	out      *log.Logger
	minLevel Level
	fatal    atomic.Pointer[FatalHandler]
}

// NewDefaultLogger returns a Logger writing to w at or above minLevel.
func NewDefaultLogger(w io.Writer, minLevel Level) *DefaultLogger {
	return &DefaultLogger{
		out:      log.New(w, "", log.LstdFlags),
		minLevel: minLevel,
	}
}

// NewStderrLogger is a convenience constructor for the common case.
func NewStderrLogger(minLevel Level) *DefaultLogger {
	return NewDefaultLogger(os.Stderr, minLevel)
}

// SetFatalHandler overrides what Fatalf does instead of os.Exit(1).
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatal.Store(&h)
}

func (l *DefaultLogger) log(level Level, ns, format string, args ...any) {
	if level < l.minLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s [%s] %s", level, ns, msg)
}

func (l *DefaultLogger) Debugf(ns, format string, args ...any) { l.log(LevelDebug, ns, format, args...) }
func (l *DefaultLogger) Infof(ns, format string, args ...any)  { l.log(LevelInfo, ns, format, args...) }
func (l *DefaultLogger) Warnf(ns, format string, args ...any)  { l.log(LevelWarn, ns, format, args...) }
func (l *DefaultLogger) Errorf(ns, format string, args ...any) { l.log(LevelError, ns, format, args...) }

func (l *DefaultLogger) Fatalf(ns, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s [%s] %s", LevelError, ns, msg)

	if h := l.fatal.Load(); h != nil {
		(*h)(ns, msg)
		return
	}

	os.Exit(1)
}

// Nop discards every log line; used in tests and library-style embedding.
type Nop struct{}

func (Nop) Debugf(string, string, ...any) {}
func (Nop) Infof(string, string, ...any)  {}
func (Nop) Warnf(string, string, ...any)  {}
func (Nop) Errorf(string, string, ...any) {}
func (Nop) Fatalf(string, string, ...any) {}

var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = Nop{}
)
