// =============================================================================
// loop.go - Session Main Loop
// =============================================================================
//
// The main loop owns the probe session. On every tick it:
//
//  1. reconnects if the connection is broken, backing off for a second
//     after each failed attempt,
//  2. takes at most one command off the queue,
//  3. dispatches it,
//  4. polls the target for output and prints it verbatim.
//
// Commands that need the probe (reset, power, raw lines) are held while the
// connection is broken and dispatched, in order, once it is back. Reconnect
// and clear work in either state.
//
// The loop ends when the session context is cancelled, or when input has
// ended and the last queued command has been dispatched.
//
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rttconsole/rtt-console/dongle"
	"github.com/sirupsen/logrus"
)

const (
	// tickInterval is the main loop period. Short enough that typed
	// commands feel immediate, long enough not to spin.
	tickInterval = 10 * time.Millisecond

	// reconnectBackoff is the pause after a failed reconnect attempt.
	reconnectBackoff = time.Second
)

// probeSession is the part of dongle.Session the loop uses.
type probeSession interface {
	Connect() (dongle.ConnectionInfo, error)
	Reconnect() (dongle.ConnectionInfo, error)
	ReadLine() (string, error)
	WriteLine(text string) error
	ResetTarget() error
	SetPower(on bool) error
	Close() error
}

// connState is the loop's view of the probe connection.
type connState int

const (
	stateConnected connState = iota
	stateBroken
)

// String returns the state name.
func (s connState) String() string {
	if s == stateConnected {
		return "connected"
	}
	return "broken"
}

// mainLoop coordinates the queue, the session and console output. Only the
// goroutine running the loop touches the session.
type mainLoop struct {
	session probeSession
	queue   *commandQueue
	out     io.Writer
	clear   func()
	log     logrus.FieldLogger

	tick    time.Duration
	backoff time.Duration

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration)

	state connState

	// pending is a parsed command waiting for the connection to come back.
	pending *Command

	// failedAttempts counts reconnect failures since the connection broke.
	failedAttempts int
}

// newMainLoop creates a loop in the broken state; start performs the first
// connect.
func newMainLoop(session probeSession, queue *commandQueue, out io.Writer, clear func(), log logrus.FieldLogger) *mainLoop {
	return &mainLoop{
		session: session,
		queue:   queue,
		out:     out,
		clear:   clear,
		log:     log,
		tick:    tickInterval,
		backoff: reconnectBackoff,
		sleep:   sleepContext,
		state:   stateBroken,
	}
}

// start makes the first connection attempt. A failure is not fatal: the
// loop starts broken and keeps retrying.
func (l *mainLoop) start() {
	info, err := l.session.Connect()
	if err != nil {
		l.log.WithField("kind", dongle.KindOf(err).String()).Errorf("connect failed: %v", err)
		l.state = stateBroken
		return
	}
	l.connected(info)
}

// GO CONCEPT: time.Ticker and select
// ----------------------------------
// A Ticker delivers the current time on its channel C once per period. A
// select over ticker.C and ctx.Done() wakes up for whichever comes first,
// so the loop notices cancellation within one tick without polling a flag.
// Ticks that arrive while a step is still running (during the reconnect
// back-off, say) are dropped by the Ticker rather than piling up.

// run ticks until ctx is cancelled or input has ended and every queued
// command has been dispatched.
func (l *mainLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.step(ctx)
			if l.inputDone() {
				return
			}
		}
	}
}

// inputDone reports whether input has ended and no command is left, queued
// or held.
func (l *mainLoop) inputDone() bool {
	return l.pending == nil && l.queue.finished()
}

// step performs one tick.
func (l *mainLoop) step(ctx context.Context) {
	if l.state == stateBroken {
		l.reconnect(ctx)
	}

	if cmd, ok := l.nextCommand(); ok {
		l.dispatch(cmd)
	}

	if l.state == stateConnected {
		l.drain()
	}
}

// reconnect makes one reconnect attempt and backs off if it fails.
func (l *mainLoop) reconnect(ctx context.Context) {
	info, err := l.session.Reconnect()
	if err != nil {
		l.failedAttempts++
		entry := l.log.WithFields(logrus.Fields{
			"kind":     dongle.KindOf(err).String(),
			"attempts": l.failedAttempts,
		})
		if l.failedAttempts == 1 {
			entry.Warnf("reconnect failed, retrying every %v: %v", l.backoff, err)
		} else {
			entry.Debugf("reconnect failed: %v", err)
		}
		l.sleep(ctx, l.backoff)
		return
	}
	l.connected(info)
}

// connected switches to the connected state and prints the connection
// summary.
func (l *mainLoop) connected(info dongle.ConnectionInfo) {
	l.state = stateConnected
	l.failedAttempts = 0

	fmt.Fprintln(l.out)
	for _, line := range info.Summary() {
		fmt.Fprintln(l.out, line)
	}
}

// nextCommand returns the command to dispatch this tick, if any. At most
// one line leaves the queue per tick.
func (l *mainLoop) nextCommand() (Command, bool) {
	if l.pending == nil {
		line, ok := l.queue.tryPop()
		if !ok {
			return Command{}, false
		}
		cmd := parseCommand(line)
		l.pending = &cmd
	}

	if l.state == stateBroken && l.pending.Kind.needsProbe() {
		return Command{}, false
	}

	cmd := *l.pending
	l.pending = nil
	return cmd, true
}

// dispatch executes one command.
func (l *mainLoop) dispatch(cmd Command) {
	switch cmd.Kind {
	case CmdReconnect:
		l.log.Info("reconnect requested")
		l.state = stateBroken

	case CmdReset:
		if err := l.session.ResetTarget(); err != nil {
			l.fail(err)
		}

	case CmdPowerOn, CmdPowerOff:
		on := cmd.Kind == CmdPowerOn
		if err := l.session.SetPower(on); err != nil {
			l.log.WithField("kind", dongle.KindOf(err).String()).Errorf("power %s failed: %v", onOff(on), err)
		}

	case CmdClearScreen:
		l.clear()

	case CmdRawLine:
		if err := l.session.WriteLine(cmd.Text); err != nil {
			l.fail(err)
		}
	}
}

// drain prints whatever the target has sent.
func (l *mainLoop) drain() {
	text, err := l.session.ReadLine()
	if err != nil {
		l.fail(err)
		return
	}
	if text != "" {
		io.WriteString(l.out, text)
	}
}

// fail logs err and marks the connection broken so the next tick
// reconnects.
func (l *mainLoop) fail(err error) {
	l.log.WithField("kind", dongle.KindOf(err).String()).Error(err)
	l.state = stateBroken
}

// sleepContext waits for d or until ctx is done, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
