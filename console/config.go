// =============================================================================
// config.go - Startup Configuration
// =============================================================================
//
// Settings come from three layers, later layers winning:
//
//  1. built-in defaults,
//  2. an optional TOML file named by --config,
//  3. flags given explicitly on the command line.
//
// A config file looks like this; every key is optional:
//
//	target    = "STM32F407VE"
//	speed     = 4000          # or "auto"
//	interface = "swd"
//	channel   = 0
//	power     = false
//	path      = "/usr/local/bin"
//	verbose   = false
//
//	[openocd]
//	tcl_address     = "localhost:6666"
//	rtt_port        = 9090
//	rtt_address     = 0x20000000
//	rtt_search_size = 0x10000
//	rtt_id          = "SEGGER RTT"
//	power_on        = "jlink power on"
//	power_off       = "jlink power off"
//	args            = ["-f", "interface/jlink.cfg", "-f", "target/stm32f4x.cfg"]
//
// Unknown keys are an error so a misspelled key does not silently fall back
// to a default.
//
// =============================================================================

package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rttconsole/rtt-console/dongle"
	"github.com/spf13/pflag"
)

// settings is the resolved startup configuration.
type settings struct {
	session dongle.Config
	openocd dongle.OpenOCDOptions

	// launchArgs replaces the default OpenOCD configuration arguments when
	// the console launches OpenOCD itself.
	launchArgs []string

	verbose bool
}

// flagValues holds the destinations of the command line flags.
type flagValues struct {
	configPath string

	target     string
	speed      dongle.Speed
	path       string
	power      bool
	iface      dongle.Interface
	channel    int
	tcl        string
	rttPort    int
	rttAddress uint64
	rttSize    uint64
	verbose    bool

	help    bool
	version bool
}

// registerFlags defines the console's flags on fs.
func registerFlags(fs *pflag.FlagSet) *flagValues {
	defaults := dongle.DefaultConfig()
	openocd := dongle.DefaultOpenOCDOptions()

	fv := &flagValues{
		speed: defaults.Speed,
		iface: defaults.Interface,
	}

	fs.StringVar(&fv.configPath, "config", "", "read settings from a TOML file")
	fs.StringVarP(&fv.target, "target", "t", defaults.Target, "target chip name or OpenOCD target config")
	fs.VarP(&fv.speed, "speed", "s", "probe clock in kHz, or auto")
	fs.StringVarP(&fv.path, "path", "p", "", "launch OpenOCD from this executable or directory")
	fs.BoolVar(&fv.power, "power", defaults.PowerOn, "power the target from the probe")
	fs.Var(&fv.iface, "interface", "debug interface: swd or jtag")
	fs.IntVar(&fv.channel, "channel", defaults.Channel, "RTT terminal channel")
	fs.StringVar(&fv.tcl, "tcl", openocd.TclAddress, "OpenOCD Tcl RPC address")
	fs.IntVar(&fv.rttPort, "rtt-port", openocd.RTTPort, "TCP port for the OpenOCD RTT server")
	fs.Uint64Var(&fv.rttAddress, "rtt-address", openocd.RTTAddress, "start address of the RTT control block search")
	fs.Uint64Var(&fv.rttSize, "rtt-size", openocd.RTTSearchSize, "size of the RTT control block search range")
	fs.BoolVarP(&fv.verbose, "verbose", "v", false, "log debug diagnostics")
	fs.BoolVarP(&fv.help, "help", "h", false, "show this help")
	fs.BoolVar(&fv.version, "version", false, "show version information")

	return fv
}

// fileConfig is the layout of the TOML config file.
type fileConfig struct {
	Target    string           `toml:"target"`
	Speed     fileSpeed        `toml:"speed"`
	Path      string           `toml:"path"`
	Power     bool             `toml:"power"`
	Interface dongle.Interface `toml:"interface"`
	Channel   int              `toml:"channel"`
	Verbose   bool             `toml:"verbose"`
	OpenOCD   fileOpenOCD      `toml:"openocd"`
}

type fileOpenOCD struct {
	TclAddress    string   `toml:"tcl_address"`
	RTTPort       int      `toml:"rtt_port"`
	RTTAddress    uint64   `toml:"rtt_address"`
	RTTSearchSize uint64   `toml:"rtt_search_size"`
	RTTID         string   `toml:"rtt_id"`
	PowerOn       string   `toml:"power_on"`
	PowerOff      string   `toml:"power_off"`
	Args          []string `toml:"args"`
}

// fileSpeed accepts both speed = 4000 and speed = "auto".
type fileSpeed struct {
	dongle.Speed
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *fileSpeed) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 || v > int64(^uint32(0)) {
			return fmt.Errorf("invalid speed %d", v)
		}
		s.Speed = dongle.Speed(v)
		return nil
	case string:
		return s.Speed.Set(v)
	default:
		return fmt.Errorf("invalid speed %v: want a number or a string", v)
	}
}

// resolveConfig merges defaults, the config file and the flags that were
// set explicitly on fs.
func resolveConfig(fs *pflag.FlagSet, fv *flagValues) (settings, error) {
	s := settings{
		session: dongle.DefaultConfig(),
		openocd: dongle.DefaultOpenOCDOptions(),
	}

	if fv.configPath != "" {
		if err := applyConfigFile(fv.configPath, &s); err != nil {
			return settings{}, err
		}
	}

	if fs.Changed("target") {
		s.session.Target = fv.target
	}
	if fs.Changed("speed") {
		s.session.Speed = fv.speed
	}
	if fs.Changed("path") {
		s.session.DriverPath = fv.path
	}
	if fs.Changed("power") {
		s.session.PowerOn = fv.power
	}
	if fs.Changed("interface") {
		s.session.Interface = fv.iface
	}
	if fs.Changed("channel") {
		s.session.Channel = fv.channel
	}
	if fs.Changed("tcl") {
		s.openocd.TclAddress = fv.tcl
	}
	if fs.Changed("rtt-port") {
		s.openocd.RTTPort = fv.rttPort
	}
	if fs.Changed("rtt-address") {
		s.openocd.RTTAddress = fv.rttAddress
	}
	if fs.Changed("rtt-size") {
		s.openocd.RTTSearchSize = fv.rttSize
	}
	if fs.Changed("verbose") {
		s.verbose = fv.verbose
	}

	if err := s.session.Validate(); err != nil {
		return settings{}, err
	}
	if s.openocd.RTTPort <= 0 || s.openocd.RTTPort > 65535 {
		return settings{}, fmt.Errorf("invalid RTT port %d", s.openocd.RTTPort)
	}
	if s.openocd.TclAddress == "" {
		return settings{}, fmt.Errorf("empty Tcl address")
	}
	return s, nil
}

// applyConfigFile overlays the keys present in the file at path onto s.
func applyConfigFile(path string, s *settings) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if md.IsDefined("target") {
		s.session.Target = fc.Target
	}
	if md.IsDefined("speed") {
		s.session.Speed = fc.Speed.Speed
	}
	if md.IsDefined("path") {
		s.session.DriverPath = fc.Path
	}
	if md.IsDefined("power") {
		s.session.PowerOn = fc.Power
	}
	if md.IsDefined("interface") {
		s.session.Interface = fc.Interface
	}
	if md.IsDefined("channel") {
		s.session.Channel = fc.Channel
	}
	if md.IsDefined("verbose") {
		s.verbose = fc.Verbose
	}

	o := fc.OpenOCD
	if md.IsDefined("openocd", "tcl_address") {
		s.openocd.TclAddress = o.TclAddress
	}
	if md.IsDefined("openocd", "rtt_port") {
		s.openocd.RTTPort = o.RTTPort
	}
	if md.IsDefined("openocd", "rtt_address") {
		s.openocd.RTTAddress = o.RTTAddress
	}
	if md.IsDefined("openocd", "rtt_search_size") {
		s.openocd.RTTSearchSize = o.RTTSearchSize
	}
	if md.IsDefined("openocd", "rtt_id") {
		s.openocd.RTTID = o.RTTID
	}
	if md.IsDefined("openocd", "power_on") {
		s.openocd.PowerOnScript = o.PowerOn
	}
	if md.IsDefined("openocd", "power_off") {
		s.openocd.PowerOffScript = o.PowerOff
	}
	if md.IsDefined("openocd", "args") {
		s.launchArgs = o.Args
	}
	return nil
}
