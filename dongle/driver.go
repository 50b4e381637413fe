package dongle

import (
	"fmt"
	"time"
)

// MaxReadSize is the largest chunk requested from the driver per read.
const MaxReadSize = 4096

// ResetPulse is how long the reset line is held by Session.ResetTarget.
const ResetPulse = 10 * time.Millisecond

// Driver is the low-level probe layer consumed by Session. Implementations
// may return any error; Session translates them before they reach callers.
// A Driver is used from a single goroutine and need not be thread-safe.
type Driver interface {
	// Open opens the probe.
	Open() error
	// SelectInterface selects the target debug interface.
	SelectInterface(kind Interface) error
	// Connect attaches to the target at the requested clock speed.
	Connect(target string, speed Speed) (ConnectionInfo, error)
	// StartChannel starts the RTT transfer channel.
	StartChannel() error
	// StopChannel stops the RTT transfer channel.
	StopChannel() error
	// Close releases the probe.
	Close() error
	// ReadBytes returns up to maxLen pending bytes without blocking.
	// An empty result with a nil error means nothing is pending.
	ReadBytes(channel, maxLen int) ([]byte, error)
	// WriteBytes writes p and returns the number of bytes accepted.
	WriteBytes(channel int, p []byte) (int, error)
	// ResetHold holds the target in reset for d without halting the core.
	ResetHold(d time.Duration) error
	// PowerOn switches on target power supplied by the probe.
	PowerOn() error
	// PowerOff switches off target power supplied by the probe.
	PowerOff() error
}

// Endian is the byte order reported by the target.
type Endian int

const (
	// EndianUnknown is reported when the driver cannot tell.
	EndianUnknown Endian = iota
	// EndianLittle is little-endian.
	EndianLittle
	// EndianBig is big-endian.
	EndianBig
)

// String implements fmt.Stringer.
func (e Endian) String() string {
	switch e {
	case EndianLittle:
		return "Little"
	case EndianBig:
		return "Big"
	default:
		return "Unknown"
	}
}

// ConnectionInfo describes an established probe connection.
type ConnectionInfo struct {
	Target   string
	Endian   Endian
	Core     string
	SpeedKHz uint32 // adapter clock actually in use
	CPUHz    uint64 // target CPU clock, 0 if unknown
}

// Summary returns the lines printed after a successful connect.
func (ci ConnectionInfo) Summary() []string {
	lines := []string{
		fmt.Sprintf("Connected to: %s", ci.Target),
		fmt.Sprintf("RTT RX buffers at %d kHz", ci.SpeedKHz),
		fmt.Sprintf("connected to %s-Endian %s", ci.Endian, ci.Core),
	}
	if ci.CPUHz > 0 {
		lines = append(lines, fmt.Sprintf("running at %.3f MHz", float64(ci.CPUHz)/1e6))
	} else {
		lines = append(lines, "running at unknown CPU clock")
	}
	return lines
}
