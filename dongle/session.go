package dongle

import (
	"errors"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Session owns the single connection handle to a debug probe. It is the
// only component that calls into the Driver, and it is not safe for
// concurrent use: one goroutine (the console main loop) drives it.
//
// Every operation returns a *DongleError on failure; callers decide policy
// from the error's Kind.
type Session struct {
	cfg    Config
	driver Driver
	log    logrus.FieldLogger

	open    bool
	powered bool

	// pending holds an incomplete UTF-8 sequence left at the end of the
	// previous read.
	pending []byte
}

// NewSession creates a session for cfg using driver. If log is nil the
// logrus standard logger is used.
func NewSession(cfg Config, driver Driver, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		cfg:     cfg,
		driver:  driver,
		log:     log,
		powered: cfg.PowerOn,
	}
}

// Config returns the configuration the session was created with.
func (s *Session) Config() Config {
	return s.cfg
}

// IsOpen reports whether the probe handle is open.
func (s *Session) IsOpen() bool {
	return s.open
}

// Powered reports the last requested target power state.
func (s *Session) Powered() bool {
	return s.powered
}

// Connect opens the probe, applies the power policy, selects the interface,
// attaches to the target and starts the RTT channel. A handle left open by
// an earlier session is closed first.
func (s *Session) Connect() (ConnectionInfo, error) {
	if s.open {
		s.closeHandle()
	}
	s.pending = nil

	if err := s.driver.Open(); err != nil {
		return ConnectionInfo{}, &DongleError{Kind: KindConnection, Op: "connect", Err: err}
	}
	s.open = true

	if err := s.applyPower(s.powered); err != nil {
		if !errors.Is(err, ErrUnsupported) {
			return ConnectionInfo{}, translate("power", false, err)
		}
		s.log.WithField("op", "power").Debug("power control not available, skipping")
	}

	// A channel left running by a previous connection would keep the old
	// control block address.
	if err := s.driver.StopChannel(); err != nil {
		s.log.WithField("op", "connect").Debugf("stop stale channel: %v", err)
	}

	if err := s.driver.SelectInterface(s.cfg.Interface); err != nil {
		return ConnectionInfo{}, translate("connect", false, err)
	}

	info, err := s.driver.Connect(s.cfg.Target, s.cfg.Speed)
	if err != nil {
		return ConnectionInfo{}, translate("connect", false, err)
	}
	if info.Target == "" {
		info.Target = s.cfg.Target
	}

	if err := s.driver.StartChannel(); err != nil {
		return ConnectionInfo{}, translate("connect", false, err)
	}

	return info, nil
}

// Reconnect closes the current handle, if any, and connects again. It is
// safe to call when the session is already disconnected.
func (s *Session) Reconnect() (ConnectionInfo, error) {
	s.closeHandle()
	return s.Connect()
}

// Close stops the channel and releases the probe. Closing a closed session
// is a no-op.
func (s *Session) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	s.pending = nil
	stopErr := s.driver.StopChannel()
	closeErr := s.driver.Close()
	if closeErr != nil {
		return translate("close", false, closeErr)
	}
	return translate("close", false, stopErr)
}

// closeHandle closes the probe, logging instead of returning failures. A
// probe that is already gone cannot be closed cleanly.
func (s *Session) closeHandle() {
	if err := s.Close(); err != nil {
		s.log.WithField("op", "close").Debugf("close probe: %v", err)
	}
}

// ReadLine returns all text currently buffered on the session's channel
// without blocking. An empty string with a nil error means nothing usable
// is pending. Bytes that are not valid UTF-8 are dropped with a single
// diagnostic and do not produce an error.
func (s *Session) ReadLine() (string, error) {
	if !s.open {
		return "", &DongleError{Kind: KindConnection, Op: "read", Err: ErrNotConnected}
	}

	data, err := s.driver.ReadBytes(s.cfg.Channel, MaxReadSize)
	if err != nil {
		return "", translate("read", true, err)
	}
	if len(data) == 0 && len(s.pending) == 0 {
		return "", nil
	}

	held := s.pending
	s.pending = nil

	joined := append(append([]byte(nil), held...), data...)
	text, ok := s.decode(joined)
	if ok {
		return text, nil
	}
	if len(held) == 0 {
		s.decodeFailed(joined[:len(joined)-len(s.pending)])
		return "", nil
	}

	// The held bytes were not the start of a rune after all. Drop only them
	// and decode the new data on its own.
	s.pending = nil
	text, ok = s.decode(data)
	if !ok {
		held = append(held, data[:len(data)-len(s.pending)]...)
	}
	s.decodeFailed(held)
	return text, nil
}

// decode splits off an incomplete trailing rune into s.pending and returns
// the rest as text. ok is false if the rest is not valid UTF-8; the trailing
// bytes are then still held.
func (s *Session) decode(data []byte) (string, bool) {
	if n := incompleteTail(data); n > 0 {
		s.pending = append([]byte(nil), data[len(data)-n:]...)
		data = data[:len(data)-n]
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// decodeFailed logs the one diagnostic for bytes dropped by a read.
func (s *Session) decodeFailed(dropped []byte) {
	s.log.WithFields(logrus.Fields{
		"op":   "read",
		"kind": KindDecode.String(),
	}).Warnf("do not decode: %q", dropped)
}

// WriteLine sends text followed by a newline. Partial writes are retried;
// if the driver accepts nothing twice in a row the remainder is dropped and
// a diagnostic is logged, which is not treated as a failure.
func (s *Session) WriteLine(text string) error {
	if !s.open {
		return &DongleError{Kind: KindConnection, Op: "write", Err: ErrNotConnected}
	}

	data := []byte(text + "\n")
	stalls := 0
	for sent := 0; sent < len(data); {
		n, err := s.driver.WriteBytes(s.cfg.Channel, data[sent:])
		if err != nil {
			return translate("write", true, err)
		}
		if n <= 0 {
			stalls++
			if stalls == 2 {
				s.log.WithFields(logrus.Fields{
					"op":   "write",
					"kind": KindChannelIO.String(),
				}).Warnf("write error: sent %d of %d bytes", sent, len(data))
				return nil
			}
			continue
		}
		stalls = 0
		if n > len(data)-sent {
			n = len(data) - sent
		}
		sent += n
	}
	return nil
}

// ResetTarget pulses the reset line for ResetPulse without halting the core.
func (s *Session) ResetTarget() error {
	if !s.open {
		return &DongleError{Kind: KindConnection, Op: "reset", Err: ErrNotConnected}
	}
	return translate("reset", false, s.driver.ResetHold(ResetPulse))
}

// SetPower switches target power and records the requested state, which
// later reconnects apply.
func (s *Session) SetPower(on bool) error {
	if !s.open {
		return &DongleError{Kind: KindConnection, Op: "power", Err: ErrNotConnected}
	}
	s.powered = on
	return translate("power", false, s.applyPower(on))
}

func (s *Session) applyPower(on bool) error {
	if on {
		return s.driver.PowerOn()
	}
	return s.driver.PowerOff()
}

// incompleteTail returns the length of a truncated multi-byte sequence at
// the end of p, or 0 if p ends on a rune boundary.
func incompleteTail(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		if utf8.RuneStart(p[len(p)-i]) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
