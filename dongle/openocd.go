package dongle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// OpenOCD defaults.
const (
	// DefaultRTTPort is the TCP port OpenOCD's RTT server is started on.
	DefaultRTTPort = 9090

	// DefaultRTTAddress is where the control block search starts (SRAM
	// base on most Cortex-M parts).
	DefaultRTTAddress = 0x20000000

	// DefaultRTTSearchSize is how many bytes are searched for the block.
	DefaultRTTSearchSize = 0x10000

	// DefaultRTTID is the control block identifier written by SEGGER RTT.
	DefaultRTTID = "SEGGER RTT"

	// pollTimeout bounds a non-blocking read on the RTT socket.
	pollTimeout = time.Millisecond

	// writeTimeout bounds a single write on the RTT socket.
	writeTimeout = 100 * time.Millisecond
)

// OpenOCDOptions configures the OpenOCD driver.
type OpenOCDOptions struct {
	// TclAddress is the host:port of OpenOCD's Tcl RPC server.
	TclAddress string

	// RTTPort is the TCP port the RTT server is started on, on the same
	// host as TclAddress.
	RTTPort int

	// RTTAddress and RTTSearchSize bound the control block search.
	RTTAddress    uint64
	RTTSearchSize uint64

	// RTTID is the control block identifier.
	RTTID string

	// PowerOnScript and PowerOffScript are Tcl commands that switch target
	// power. Empty means power control is unsupported.
	PowerOnScript  string
	PowerOffScript string
}

// DefaultOpenOCDOptions returns options for a local OpenOCD with default
// ports.
func DefaultOpenOCDOptions() OpenOCDOptions {
	return OpenOCDOptions{
		TclAddress:    DefaultTclAddress,
		RTTPort:       DefaultRTTPort,
		RTTAddress:    DefaultRTTAddress,
		RTTSearchSize: DefaultRTTSearchSize,
		RTTID:         DefaultRTTID,
	}
}

// OpenOCD is a Driver backed by a running OpenOCD instance. Probe commands
// go over the Tcl RPC port; RTT traffic flows through OpenOCD's RTT TCP
// server.
type OpenOCD struct {
	opts    OpenOCDOptions
	channel int

	tcl *tclClient
	rtt net.Conn

	target string
}

// NewOpenOCD creates a driver that exposes RTT terminal channel.
func NewOpenOCD(opts OpenOCDOptions, channel int) *OpenOCD {
	return &OpenOCD{opts: opts, channel: channel}
}

// Open connects to the Tcl RPC port and verifies OpenOCD answers.
func (o *OpenOCD) Open() error {
	if o.tcl != nil {
		return nil
	}
	tcl, err := dialTcl(context.Background(), o.opts.TclAddress)
	if err != nil {
		return err
	}
	if _, err := tcl.Run("version"); err != nil {
		tcl.Close()
		return fmt.Errorf("%w: openocd did not answer: %w", ErrLinkLost, err)
	}
	o.tcl = tcl
	return nil
}

// SelectInterface makes sure the adapter transport matches kind. OpenOCD
// only switches transports before init, so an already initialized session
// on another transport is an error.
func (o *OpenOCD) SelectInterface(kind Interface) error {
	current, err := o.run("transport select")
	if err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(current), kind.String()) {
		return nil
	}
	if _, err := o.run("transport select " + kind.String()); err != nil {
		return fmt.Errorf("transport is %s, cannot select %s: %w", strings.TrimSpace(current), kind, err)
	}
	return nil
}

// Connect applies the clock speed, selects target when OpenOCD knows it and
// reads back the target's properties.
func (o *OpenOCD) Connect(target string, speed Speed) (ConnectionInfo, error) {
	if !speed.IsAuto() {
		if _, err := o.run(fmt.Sprintf("adapter speed %d", uint32(speed))); err != nil {
			return ConnectionInfo{}, err
		}
	}

	// Chip names such as STM32F407VE are not OpenOCD target names; keep
	// whatever target the configuration scripts created in that case.
	if target != "" {
		if _, err := o.run("targets " + target); err != nil && isLinkLost(err) {
			return ConnectionInfo{}, err
		}
	}

	name, err := o.run("target current")
	if err != nil {
		return ConnectionInfo{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ConnectionInfo{}, &CommandError{Command: "target current", Message: "no target configured"}
	}
	o.target = name

	info := ConnectionInfo{Target: name}

	endian, err := o.run(name + " cget -endian")
	if err != nil {
		return ConnectionInfo{}, err
	}
	info.Endian = parseEndian(endian)

	core, err := o.run(name + " cget -type")
	if err != nil {
		return ConnectionInfo{}, err
	}
	info.Core = strings.TrimSpace(core)

	khz, err := o.run("adapter speed")
	if err != nil {
		return ConnectionInfo{}, err
	}
	info.SpeedKHz = firstNumber(khz)

	return info, nil
}

// StartChannel configures the control block search, starts RTT and opens
// the RTT TCP server for the driver's channel.
func (o *OpenOCD) StartChannel() error {
	setup := fmt.Sprintf("rtt setup 0x%x 0x%x {%s}", o.opts.RTTAddress, o.opts.RTTSearchSize, o.opts.RTTID)
	if _, err := o.run(setup); err != nil {
		return err
	}
	if _, err := o.run("rtt start"); err != nil {
		return err
	}
	if _, err := o.run(fmt.Sprintf("rtt server start %d %d", o.opts.RTTPort, o.channel)); err != nil {
		return err
	}

	addr, err := o.rttAddress()
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp", addr, ConnectionTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial rtt server %s: %w", ErrLinkLost, addr, err)
	}
	o.rtt = conn
	return nil
}

// StopChannel closes the RTT socket and stops the RTT server and polling.
func (o *OpenOCD) StopChannel() error {
	var errs []error
	if o.rtt != nil {
		errs = append(errs, o.rtt.Close())
		o.rtt = nil
	}
	if o.tcl == nil {
		return errors.Join(errs...)
	}
	if _, err := o.run(fmt.Sprintf("rtt server stop %d", o.opts.RTTPort)); err != nil {
		errs = append(errs, err)
	}
	if _, err := o.run("rtt stop"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops the channel and disconnects from OpenOCD. OpenOCD itself
// keeps running.
func (o *OpenOCD) Close() error {
	if o.tcl == nil && o.rtt == nil {
		return nil
	}
	o.StopChannel()
	err := o.tcl.Close()
	o.tcl = nil
	o.target = ""
	return err
}

// ReadBytes returns pending RTT bytes, waiting at most a millisecond.
func (o *OpenOCD) ReadBytes(channel, maxLen int) ([]byte, error) {
	if channel != o.channel {
		return nil, fmt.Errorf("%w: %d", ErrChannelMismatch, channel)
	}
	if o.rtt == nil {
		return nil, ErrNotConnected
	}
	if err := o.rtt.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, maxLen)
	n, err := o.rtt.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || isTimeout(err) {
		return nil, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: rtt server closed the connection", ErrLinkLost)
	}
	return nil, err
}

// WriteBytes writes p to the RTT socket. A write that times out having
// sent nothing reports zero bytes rather than an error.
func (o *OpenOCD) WriteBytes(channel int, p []byte) (int, error) {
	if channel != o.channel {
		return 0, fmt.Errorf("%w: %d", ErrChannelMismatch, channel)
	}
	if o.rtt == nil {
		return 0, ErrNotConnected
	}
	if err := o.rtt.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	n, err := o.rtt.Write(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

// ResetHold asserts SRST for d and releases it. The core is not halted.
func (o *OpenOCD) ResetHold(d time.Duration) error {
	script := fmt.Sprintf("adapter assert srst; sleep %d; adapter deassert srst", d.Milliseconds())
	_, err := o.run(script)
	return err
}

// PowerOn runs the configured power-on script.
func (o *OpenOCD) PowerOn() error {
	return o.runScript(o.opts.PowerOnScript)
}

// PowerOff runs the configured power-off script.
func (o *OpenOCD) PowerOff() error {
	return o.runScript(o.opts.PowerOffScript)
}

func (o *OpenOCD) runScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return ErrUnsupported
	}
	_, err := o.run(script)
	return err
}

func (o *OpenOCD) run(cmd string) (string, error) {
	if o.tcl == nil {
		return "", ErrNotConnected
	}
	return o.tcl.Run(cmd)
}

// rttAddress is the RTT server's address: the Tcl host with the RTT port.
func (o *OpenOCD) rttAddress() (string, error) {
	host, _, err := net.SplitHostPort(o.opts.TclAddress)
	if err != nil {
		return "", fmt.Errorf("invalid tcl address '%s': %w", o.opts.TclAddress, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(o.opts.RTTPort)), nil
}

func parseEndian(s string) Endian {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "little":
		return EndianLittle
	case "big":
		return EndianBig
	default:
		return EndianUnknown
	}
}

// firstNumber extracts the first decimal number in s, e.g. 4000 from
// "adapter speed: 4000 kHz". It returns 0 if there is none.
func firstNumber(s string) uint32 {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseUint(s[start:end], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isLinkLost(err error) bool {
	return errors.Is(err, ErrLinkLost) || errors.Is(err, ErrNotConnected)
}
