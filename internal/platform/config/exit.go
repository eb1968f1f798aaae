package config

import (
	"fmt"
	"os"
)

// Exit codes reported to the service manager.
const (
	ExitRuntime = 1
	ExitConfig  = 2
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	ExitCodef(ExitRuntime, format, args...)
}

// ExitCodef writes a formatted error message to stderr and exits with code.
func ExitCodef(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
