package dongle

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTarget is the target used when none is configured.
const DefaultTarget = "STM32F407VE"

// DefaultChannel is the RTT terminal the console reads and writes.
const DefaultChannel = 0

// Speed is the probe clock speed in kHz. SpeedAuto lets the probe negotiate.
type Speed uint32

// SpeedAuto requests automatic clock speed selection.
const SpeedAuto Speed = 0

// ParseSpeed parses "auto" or a positive kHz value. "0" also means auto.
func ParseSpeed(s string) (Speed, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "auto") || s == "" {
		return SpeedAuto, nil
	}
	s = strings.TrimSuffix(strings.ToLower(s), "khz")
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid speed '%s': want a kHz value or 'auto'", s)
	}
	return Speed(v), nil
}

// IsAuto reports whether the speed is negotiated automatically.
func (s Speed) IsAuto() bool {
	return s == SpeedAuto
}

// String implements fmt.Stringer and pflag.Value.
func (s Speed) String() string {
	if s.IsAuto() {
		return "auto"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// Set implements pflag.Value.
func (s *Speed) Set(v string) error {
	parsed, err := ParseSpeed(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type implements pflag.Value.
func (s *Speed) Type() string {
	return "speed"
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (s *Speed) UnmarshalText(text []byte) error {
	return s.Set(string(text))
}

// Interface is the target debug interface selected on the probe.
type Interface int

const (
	// SWD is Serial Wire Debug.
	SWD Interface = iota
	// JTAG is IEEE 1149.1 JTAG.
	JTAG
)

// String implements fmt.Stringer and pflag.Value. The names match the
// probe driver's transport names.
func (i Interface) String() string {
	switch i {
	case SWD:
		return "swd"
	case JTAG:
		return "jtag"
	default:
		return fmt.Sprintf("interface(%d)", int(i))
	}
}

// Set implements pflag.Value.
func (i *Interface) Set(v string) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "swd":
		*i = SWD
	case "jtag":
		*i = JTAG
	default:
		return fmt.Errorf("invalid interface '%s': want swd or jtag", v)
	}
	return nil
}

// Type implements pflag.Value.
func (i *Interface) Type() string {
	return "interface"
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (i *Interface) UnmarshalText(text []byte) error {
	return i.Set(string(text))
}

// Config describes one probe-to-target session. It is built once at
// startup and passed by value.
type Config struct {
	// Target identifies the target chip or the driver's target name.
	Target string

	// Speed is the requested probe clock.
	Speed Speed

	// DriverPath optionally overrides where the driver is loaded from.
	// Empty means the default location.
	DriverPath string

	// PowerOn powers the target from the probe when connecting.
	PowerOn bool

	// Interface is the debug interface to select.
	Interface Interface

	// Channel is the RTT terminal number used for console traffic.
	Channel int
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Target:    DefaultTarget,
		Speed:     SpeedAuto,
		Interface: SWD,
		Channel:   DefaultChannel,
	}
}

// Validate checks the configuration for values no driver can accept.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("target must not be empty")
	}
	if c.Channel < 0 {
		return fmt.Errorf("invalid channel %d", c.Channel)
	}
	if c.Interface != SWD && c.Interface != JTAG {
		return fmt.Errorf("invalid interface %v", c.Interface)
	}
	return nil
}
