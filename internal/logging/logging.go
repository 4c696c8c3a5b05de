// Package logging is a thin wrapper over the standard log package, giving
// every component a named prefix ("ingest: ", "node: ", "meshnet: ") instead
// of each package formatting its own prefix by hand. The teacher's require
// block carries no structured logging dependency, so this stays on the
// standard library rather than reaching for one.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger prefixes every line with a component name.
type Logger struct {
	std *log.Logger
}

// New returns a Logger that writes to os.Stderr, prefixed with name.
func New(name string) *Logger {
	return &Logger{std: log.New(os.Stderr, name+": ", log.LstdFlags)}
}

// NewWithWriter returns a Logger writing to w instead of os.Stderr, for
// tests that want to capture log output.
func NewWithWriter(name string, w io.Writer) *Logger {
	return &Logger{std: log.New(w, name+": ", log.LstdFlags)}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	l.std.Println(args...)
}
