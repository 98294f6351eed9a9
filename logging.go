package pagedoc

import (
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// nopLogger discards everything. Library components stay quiet unless a
// logger is configured via SetLogger or WithLogger.
var nopLogger = log.New(io.Discard)

var pkgLogger atomic.Pointer[log.Logger]

// SetLogger installs the package-level logger used by pure functions that
// have no component logger of their own (e.g. ParseLength warnings).
// Passing nil restores the silent default.
func SetLogger(l *log.Logger) {
	pkgLogger.Store(l)
}

func defaultLogger() *log.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return nopLogger
}
