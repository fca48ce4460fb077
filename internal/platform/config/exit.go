package config

import (
	"fmt"
	"io"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	ExitWith(os.Stderr, 1, format, args...)
}

// ExitWith writes a formatted message to w and exits with code. Help output
// uses it with code 0 so scripted callers can tell usage from failure.
func ExitWith(w io.Writer, code int, format string, args ...any) {
	if w != nil && format != "" {
		fmt.Fprintf(w, format+"\n", args...)
	}
	os.Exit(code)
}
