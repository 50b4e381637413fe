// =============================================================================
// main.go - RTT Console Entry Point
// =============================================================================
//
// The console bridges an operator's terminal and the RTT terminal of an
// embedded target. Lines typed at the prompt are sent to the target; text
// the target writes is printed as it arrives. OpenOCD drives the debug probe
// and the console talks to it over its Tcl port.
//
// Usage:
//
//	console                           Connect through a running OpenOCD
//	console -t STM32F407VE -s 4000    Select target and probe clock
//	console -p /usr/local/bin         Launch OpenOCD from that directory
//	console --config rtt.toml         Read settings from a file
//	console --help                    Show help
//
// At the prompt a few words control the session instead of going to the
// target: reconnect (r), reset (rst), power_on, power_off and clear.
// Ctrl-C or Ctrl-D leaves the console.
//
// =============================================================================

// GO CONCEPT: Packages
// --------------------
// Every Go source file starts with a "package" declaration. All files in
// the same directory must use the same package name. The special package
// name "main" tells the Go compiler this is an executable program (not a
// library). A "main" package must contain a func main() as the entry point.
// The binary is named after the directory, so this one builds to "console".
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/rttconsole/rtt-console/dongle"
	"github.com/spf13/pflag"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// version is the console version.
	version = "0.3.0"

	// appName is the name shown in the banner and the exit message.
	appName = "RTT Console"

	// commandName is the program name shown in usage.
	commandName = "console"
)

// fullTitle returns the application name with its version, the version
// shown in green when the terminal supports color.
func fullTitle(out *termenv.Output) string {
	v := out.String("v" + version).Foreground(termenv.ANSIGreen)
	return fmt.Sprintf("%s %s", appName, v)
}

// welcomeBanner returns the text shown when the console starts.
func welcomeBanner(out *termenv.Output) string {
	return fmt.Sprintf(`%s

Commands: %s
Any other line is sent to the target. Ctrl-C or Ctrl-D to exit.
`, fullTitle(out), strings.Join(reservedCommandWords(), ", "))
}

// printUsage prints the help text with the flag list.
func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `USAGE: %s [options]

OPTIONS:
%s
COMMANDS:
  reconnect, r    Drop the probe connection and reconnect
  reset, rst      Pulse the target reset line
  power_on        Switch target power on
  power_off       Switch target power off
  clear           Clear the console

Any other line, including an empty one, is sent to the target followed by
a newline.

OPENOCD:
  Without --path the console connects to an OpenOCD that is already
  running, at the --tcl address. With --path it launches OpenOCD itself
  and stops it on exit. A launched OpenOCD needs a target configuration:
  either a .cfg file as --target (e.g. target/stm32f4x.cfg) or the
  [openocd] args list in the config file. A chip name alone is not enough.

Input ends with Ctrl-D or the end of piped input; queued lines are still
sent before the console exits. Ctrl-C exits at once.
`, commandName, fs.FlagUsages())
}

// =============================================================================
// Startup
// =============================================================================

// run parses argv, sets up the session and runs the console until the
// operator exits. A returned error is a startup failure.
func run(argv []string) error {
	fs := pflag.NewFlagSet(commandName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	fv := registerFlags(fs)

	stdout := termenv.NewOutput(os.Stdout)

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(os.Stdout, fs)
			return nil
		}
		return err
	}
	if fv.help {
		printUsage(os.Stdout, fs)
		return nil
	}
	if fv.version {
		fmt.Fprintln(stdout, fullTitle(stdout))
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg, err := resolveConfig(fs, fv)
	if err != nil {
		return err
	}

	log := newLogger(cfg.verbose)

	// Launch OpenOCD if a path was given; otherwise one must be running.
	if cfg.session.DriverPath != "" {
		var output io.Writer
		if cfg.verbose {
			output = os.Stderr
		}
		proc, err := launchOpenOCD(launchSettings{
			path:       cfg.session.DriverPath,
			tclAddress: cfg.openocd.TclAddress,
			target:     cfg.session.Target,
			iface:      cfg.session.Interface,
			args:       cfg.launchArgs,
			output:     output,
		})
		if err != nil {
			return fmt.Errorf("failed to start OpenOCD: %w", err)
		}
		defer proc.stop()
		fmt.Fprintf(stdout, "OpenOCD started (PID: %d)\n", proc.cmd.Process.Pid)
	}

	driver := dongle.NewOpenOCD(cfg.openocd, cfg.session.Channel)
	session := dongle.NewSession(cfg.session, driver, log)

	editor := NewLineEditor(reservedCommandWords())
	defer editor.Close()
	log.Out = editor.diagnosticOutput(os.Stderr)

	fmt.Fprint(stdout, welcomeBanner(stdout))

	// GO CONCEPT: Two Ways to Stop
	// ----------------------------
	// signal.NotifyContext cancels ctx when SIGINT or SIGTERM arrives
	// while the terminal is not in raw mode (piped input, kill from
	// another shell). Inside readline Ctrl-C arrives as a key instead, and
	// the input reader calls cancel. Either way the main loop sees
	// ctx.Done() and returns. End of input is not a stop signal: the loop
	// returns on its own once the queued commands are dispatched.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := newCommandQueue()
	loop := newMainLoop(session, queue, editor, newScreen(os.Stdout).clear, log)
	loop.start()

	reader := &inputReader{source: editor, queue: queue, prompt: defaultPrompt, log: log}
	go reader.run(ctx, cancel)

	loop.run(ctx)

	fmt.Fprintf(stdout, "\nExit from: %s\n", fullTitle(stdout))
	if err := session.Close(); err != nil {
		log.WithField("kind", dongle.KindOf(err).String()).Debugf("close: %v", err)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		newScreen(os.Stderr).printError(err)
		os.Exit(1)
	}
}
