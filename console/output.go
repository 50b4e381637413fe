// =============================================================================
// output.go - Console Output and Diagnostics
// =============================================================================
//
// Device output goes to stdout, through the line editor when it is
// interactive. Diagnostics go to stderr through logrus so they never mix
// with the target's text when stdout is redirected.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
)

// screen wraps the terminal used for clear-screen and colored messages.
type screen struct {
	out *termenv.Output
}

// newScreen creates a screen on w. Color support is detected from the
// environment; a non-terminal writer gets plain text.
func newScreen(w io.Writer) *screen {
	return &screen{out: termenv.NewOutput(w)}
}

// clear erases the display and moves the cursor to the top-left corner.
func (s *screen) clear() {
	s.out.ClearScreen()
}

// printError prints a startup error with a red "Error:" prefix.
func (s *screen) printError(err error) {
	prefix := s.out.String("Error:").Foreground(termenv.ANSIRed).Bold()
	fmt.Fprintf(s.out, "%s %v\n", prefix, err)
}

// newLogger builds the diagnostic logger. verbose enables debug output,
// which includes every reconnect attempt.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
	}
	log.Level = logrus.InfoLevel
	if verbose {
		log.Level = logrus.DebugLevel
	}
	return log
}
