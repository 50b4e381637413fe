// =============================================================================
// queue.go - Command Queue
// =============================================================================
//
// The command queue hands raw input lines from the input reader goroutine to
// the main loop. It is unbounded, so pushing never blocks the operator, and
// popping never blocks the loop, so device output keeps flowing while no
// commands are waiting.
//
// When input ends (Ctrl-D, end of piped input) the reader closes the queue.
// Lines already queued are still popped; finished reports when the last of
// them has been taken.
//
// =============================================================================

package main

import "sync"

// GO CONCEPT: Why Not a Channel?
// ------------------------------
// A buffered channel has a fixed capacity chosen at make() time; once it
// is full, a send blocks. The queue must accept any number of lines without
// blocking the producer, so it is a slice guarded by a mutex instead. The
// consumer side still gets a non-blocking pop, the same thing a channel
// receive inside a select with a default case would give.

// commandQueue is a FIFO of input lines, safe for one producer and one
// consumer running on different goroutines.
type commandQueue struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

// newCommandQueue creates an empty queue.
func newCommandQueue() *commandQueue {
	return &commandQueue{}
}

// push appends line to the queue. It never blocks. Lines pushed after
// close are dropped.
func (q *commandQueue) push(line string) {
	q.mu.Lock()
	if !q.closed {
		q.lines = append(q.lines, line)
	}
	q.mu.Unlock()
}

// close marks the end of input. Queued lines stay poppable.
func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// finished reports whether input has ended and every line has been popped.
func (q *commandQueue) finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.lines) == 0
}

// tryPop removes and returns the oldest line. ok is false if the queue is
// empty.
func (q *commandQueue) tryPop() (line string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.lines) == 0 {
		return "", false
	}
	line = q.lines[0]
	q.lines[0] = ""
	q.lines = q.lines[1:]
	if len(q.lines) == 0 {
		q.lines = nil
	}
	return line, true
}

// len returns the number of queued lines.
func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
