// Package logger provides the plain logger used while configuration is
// still being read, before the structured logger exists.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// New returns a stderr logger prefixed with component.
func New(component string) *log.Logger {
	return NewWithWriter(os.Stderr, component)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, component string) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
}
