package dongle

import (
	"errors"
	"fmt"
)

// Sentinel errors for probe sessions and drivers.
var (
	// ErrNotConnected indicates an operation was attempted on a session
	// with no open probe handle.
	ErrNotConnected = errors.New("not connected")

	// ErrLinkLost indicates the link to the probe (or the daemon driving it)
	// went away. Drivers wrap it so the session can classify the failure.
	ErrLinkLost = errors.New("probe link lost")

	// ErrUnsupported indicates the driver cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported by driver")

	// ErrChannelMismatch indicates a read or write on a channel the driver
	// did not start.
	ErrChannelMismatch = errors.New("channel not started")
)

// ErrorKind categorizes session failures so the main loop can decide policy
// without inspecting driver causes.
type ErrorKind int

const (
	// KindConnection indicates the probe link was lost.
	KindConnection ErrorKind = iota
	// KindChannelIO indicates a single read or write on the RTT channel failed.
	KindChannelIO
	// KindDecode indicates received bytes were not valid UTF-8.
	KindDecode
	// KindOther indicates any other driver fault.
	KindOther
)

// String returns the short name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindChannelIO:
		return "channel-io"
	case KindDecode:
		return "decode"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DongleError is the error type returned by every Session operation.
type DongleError struct {
	Kind ErrorKind
	Op   string // session operation, e.g. "connect" or "write"
	Err  error  // underlying cause
}

// Error implements the error interface.
func (e *DongleError) Error() string {
	switch e.Kind {
	case KindConnection:
		return fmt.Sprintf("%s: connection lost: %v", e.Op, e.Err)
	case KindChannelIO:
		return fmt.Sprintf("%s: cannot read/write RTT terminal: %v", e.Op, e.Err)
	case KindDecode:
		return fmt.Sprintf("%s: cannot decode data: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DongleError) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Errors that are not DongleErrors are
// KindOther.
func KindOf(err error) ErrorKind {
	var de *DongleError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}

// IsConnection reports whether err is a connection-level failure.
func IsConnection(err error) bool {
	return err != nil && KindOf(err) == KindConnection
}

// IsChannelIO reports whether err is a channel read/write failure.
func IsChannelIO(err error) bool {
	return err != nil && KindOf(err) == KindChannelIO
}

// CommandError reports a probe command the driver rejected.
type CommandError struct {
	Command string
	Message string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command '%s' failed: %s", e.Command, e.Message)
}

// translate maps a driver error onto the session taxonomy. Link loss is
// always a connection failure; otherwise channel operations report
// KindChannelIO and everything else passes through as KindOther.
func translate(op string, channelOp bool, err error) error {
	if err == nil {
		return nil
	}
	var de *DongleError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, ErrLinkLost), errors.Is(err, ErrNotConnected):
		return &DongleError{Kind: KindConnection, Op: op, Err: err}
	case channelOp:
		return &DongleError{Kind: KindChannelIO, Op: op, Err: err}
	default:
		return &DongleError{Kind: KindOther, Op: op, Err: err}
	}
}
