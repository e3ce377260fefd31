// File path: cmd/devtrail/main.go
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes reported by the CLI.
const (
	exitOK         = 0
	exitUsage      = 1
	exitValidation = 2
	exitIO         = 3
	exitMigration  = 4
	exitPartial    = 5
)

// exitError pins a failure to one of the documented exit codes.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitf(code int, format string, args ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			fmt.Fprintln(os.Stderr, "error:", coded.err)
			os.Exit(coded.code)
		}
		// Cobra surfaces flag and argument problems directly.
		os.Exit(exitUsage)
	}
	os.Exit(exitOK)
}
