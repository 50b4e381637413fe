// =============================================================================
// input.go - Input Reader
// =============================================================================
//
// The input reader runs on its own goroutine. It blocks on one line of
// operator input at a time and pushes each line onto the command queue.
//
// Two things end input, with different effects:
//
//   - An interrupt (Ctrl-C at the readline prompt) cancels the session
//     context at once.
//   - End of input (Ctrl-D, end of piped input) closes the queue. The main
//     loop still dispatches every queued line, then stops.
//
// Other read errors are logged and the read is retried; only a run of them
// is taken as end of input.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// maxReadErrors is how many read errors in a row end input.
const maxReadErrors = 3

// errInterrupt is returned by a lineSource when the operator interrupts.
var errInterrupt = errors.New("interrupted")

// lineSource produces one line per operator submission.
type lineSource interface {
	GetLine(prompt string) (string, error)
}

// inputReader moves operator lines from a lineSource to the command queue.
type inputReader struct {
	source lineSource
	queue  *commandQueue
	prompt string
	log    logrus.FieldLogger
}

// GO CONCEPT: Cancellation with context.Context
// ---------------------------------------------
// A context carries a cancellation signal across goroutines. Calling the
// CancelFunc closes ctx.Done() for every holder of the context; it is safe
// to call more than once and from any goroutine. The input reader owns the
// cancel call for operator interrupts, while the main loop only watches
// Done().
//
// A blocked GetLine cannot be interrupted by the context, so the reader
// checks ctx.Err() right after it returns: a line typed after shutdown
// started is dropped instead of queued.

// run reads lines until input ends, the operator interrupts or ctx is
// cancelled. The queue is closed when run returns.
func (r *inputReader) run(ctx context.Context, cancel context.CancelFunc) {
	defer r.queue.close()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := r.source.GetLine(r.prompt)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			failures = 0
			r.queue.push(line)

		case errors.Is(err, errInterrupt):
			cancel()
			return

		case errors.Is(err, io.EOF):
			return

		default:
			failures++
			if failures >= maxReadErrors {
				r.logger().WithField("op", "input").Errorf("input failed, no more commands will be read: %v", err)
				return
			}
			r.logger().WithField("op", "input").Warnf("input error: %v", err)
		}
	}
}

func (r *inputReader) logger() logrus.FieldLogger {
	if r.log == nil {
		return logrus.StandardLogger()
	}
	return r.log
}
