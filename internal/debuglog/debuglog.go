// Package debuglog provides the internal-only diagnostic logging used by
// the backends. It is not a public logging sink (spec.md's Non-goals
// explicitly exclude those); it exists purely for maintainers debugging a
// backend, gated at runtime by the EFSW_DEBUG environment variable, the
// same way the teacher package gated its dbgprintf calls behind a debug
// build tag (debug.go in rjeczalik-notify).
package debuglog

import (
	"log"
	"os"
	"sync"
)

var (
	once    sync.Once
	enabled bool
	logger  *log.Logger
)

func init() {
	logger = log.New(os.Stderr, "efsw: ", log.Lmicroseconds)
}

func isEnabled() bool {
	once.Do(func() {
		enabled = os.Getenv("EFSW_DEBUG") != ""
	})
	return enabled
}

// Printf writes a diagnostic line when EFSW_DEBUG is set; it is a no-op
// otherwise.
func Printf(format string, args ...interface{}) {
	if isEnabled() {
		logger.Printf(format, args...)
	}
}
