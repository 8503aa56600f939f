// Package log is a slim façade over the standard library logger shaped
// after cockroachdb/cockroach's pkg/util/log public surface (Infof,
// Warningf, Errorf, VEventf, V). It does not replicate that package's
// process-wide severity files or log-rotation machinery, which are
// orthogonal to a client library; see DESIGN.md.
package log

import (
	"context"
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// Level is a verbosity level; V(n) gates on it.
type Level int

// verbosity is the process-wide verbosity threshold, analogous to
// cockroach's --vmodule/-v flag. It defaults to 0 (only V(0) fires).
var verbosity Level

// SetVerbosity adjusts the threshold used by V.
func SetVerbosity(v Level) { verbosity = v }

// V reports whether logging at the given verbosity level is enabled.
func V(level Level) bool { return level <= verbosity }

func Infof(ctx context.Context, format string, args ...interface{}) {
	std.Printf("I "+format, args...)
}

func Warningf(ctx context.Context, format string, args ...interface{}) {
	std.Printf("W "+format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	std.Printf("E "+format, args...)
}

// VEventf logs at Infof only if V(level) is enabled.
func VEventf(ctx context.Context, level Level, format string, args ...interface{}) {
	if V(level) {
		Infof(ctx, format, args...)
	}
}
