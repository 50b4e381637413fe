// =============================================================================
// launch.go - OpenOCD Discovery and Launch
// =============================================================================
//
// The console talks to OpenOCD over its Tcl port. It can either connect to
// an OpenOCD that is already running (the default) or, when --path names an
// OpenOCD executable or the directory holding one, launch its own instance
// as a subprocess.
//
// A launched OpenOCD gets only the Tcl port; the GDB and telnet servers are
// disabled so several consoles can run side by side on different Tcl ports.
// The console tracks the process and sends it SIGTERM on exit. An OpenOCD
// that was already running is left alone.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rttconsole/rtt-console/dongle"
)

const (
	// openocdExecutableName is the name of the OpenOCD binary.
	openocdExecutableName = "openocd"

	// tclPortTimeout is how long to wait for the Tcl port to accept
	// connections after launching OpenOCD.
	tclPortTimeout = 4 * time.Second

	// tclPortPollInterval is how often to try the Tcl port during the
	// startup wait.
	tclPortPollInterval = 100 * time.Millisecond

	// stopTimeout is how long a launched OpenOCD gets to exit after SIGTERM
	// before it is killed.
	stopTimeout = 2 * time.Second
)

// openocdProcess is an OpenOCD subprocess started by the console.
type openocdProcess struct {
	cmd  *exec.Cmd
	done chan error
}

// launchSettings is everything needed to start OpenOCD.
type launchSettings struct {
	// path is the executable or the directory containing it.
	path string

	// tclAddress is where the launched OpenOCD should listen.
	tclAddress string

	// target and iface pick the default configuration when args is empty;
	// target must then name a .cfg script.
	target string
	iface  dongle.Interface

	// args replaces the default interface and target configuration.
	args []string

	// output receives OpenOCD's stdout and stderr; nil discards them.
	output io.Writer
}

// launchOpenOCD starts OpenOCD and waits for its Tcl port to accept
// connections.
func launchOpenOCD(ls launchSettings) (*openocdProcess, error) {
	exePath, err := findOpenOCD(ls.path)
	if err != nil {
		return nil, err
	}

	args, err := openocdArgs(ls)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exePath, args...)
	cmd.Stdout = ls.output
	cmd.Stderr = ls.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", exePath, err)
	}

	p := &openocdProcess{cmd: cmd, done: make(chan error, 1)}
	go func() { p.done <- cmd.Wait() }()

	if err := p.waitForTclPort(ls.tclAddress); err != nil {
		p.stop()
		return nil, fmt.Errorf("%s started (PID: %d) but Tcl port not ready: %w",
			openocdExecutableName, cmd.Process.Pid, err)
	}
	return p, nil
}

// findOpenOCD resolves path to an executable. A directory is searched for
// the openocd binary.
func findOpenOCD(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("could not find %s: %w", openocdExecutableName, err)
	}

	candidate := path
	if info.IsDir() {
		candidate = filepath.Join(path, openocdExecutableName)
	}
	if !isExecutable(candidate) {
		return "", fmt.Errorf("%s is not an executable", candidate)
	}
	return candidate, nil
}

// openocdArgs builds the command line for a launched OpenOCD.
func openocdArgs(ls launchSettings) ([]string, error) {
	_, port, err := net.SplitHostPort(ls.tclAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid Tcl address %q: %w", ls.tclAddress, err)
	}

	args := []string{
		"-c", "tcl_port " + port,
		"-c", "gdb_port disabled",
		"-c", "telnet_port disabled",
	}

	if len(ls.args) > 0 {
		return append(args, ls.args...), nil
	}

	// OpenOCD started without a target script has nothing to attach to.
	if !strings.HasSuffix(ls.target, ".cfg") {
		return nil, fmt.Errorf("no target configuration for %q: pass a .cfg file as --target or set [openocd] args", ls.target)
	}
	return append(args,
		"-f", "interface/jlink.cfg",
		"-c", "transport select "+ls.iface.String(),
		"-f", ls.target,
	), nil
}

// waitForTclPort polls the Tcl port until it accepts a connection, the
// process exits, or the timeout is reached.
func (p *openocdProcess) waitForTclPort(addr string) error {
	deadline := time.Now().Add(tclPortTimeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, tclPortPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case err := <-p.done:
			p.done <- err
			if err == nil {
				return fmt.Errorf("process exited")
			}
			return fmt.Errorf("process exited: %w", err)
		case <-time.After(tclPortPollInterval):
		}
	}

	return fmt.Errorf("timeout waiting for %s", addr)
}

// stop sends SIGTERM and waits for the process to exit, killing it if it
// does not exit in time.
func (p *openocdProcess) stop() {
	if p == nil {
		return
	}

	p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(stopTimeout):
		p.cmd.Process.Kill()
		<-p.done
	}
}

// isExecutable checks if a file exists and is executable.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	// Check that it's a regular file with at least one execute bit set
	return !info.IsDir() && info.Mode().Perm()&0111 != 0
}
