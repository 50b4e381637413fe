package dongle

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockOpenOCD is a lightweight stand-in for OpenOCD. It answers Tcl RPC
// requests through a handler and accepts RTT connections on a second port.
type mockOpenOCD struct {
	tclListener net.Listener
	rttListener net.Listener

	// handler receives the unwrapped command and returns its result or a
	// Tcl error.
	handler func(cmd string) (string, error)

	mu       sync.Mutex
	commands []string
	conns    []net.Conn

	rttConns chan net.Conn

	wg sync.WaitGroup
}

// startMockOpenOCD starts a mock on loopback ports. A nil handler uses
// defaultOpenOCDHandler. The mock is stopped when the test finishes.
func startMockOpenOCD(t *testing.T, handler func(cmd string) (string, error)) *mockOpenOCD {
	t.Helper()

	tclListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen for tcl: %v", err)
	}
	rttListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tclListener.Close()
		t.Fatalf("failed to listen for rtt: %v", err)
	}

	if handler == nil {
		handler = defaultOpenOCDHandler
	}

	m := &mockOpenOCD{
		tclListener: tclListener,
		rttListener: rttListener,
		handler:     handler,
		rttConns:    make(chan net.Conn, 8),
	}

	m.wg.Add(2)
	go m.acceptTcl()
	go m.acceptRTT()

	t.Cleanup(m.stop)
	return m
}

// options returns driver options pointing at the mock.
func (m *mockOpenOCD) options() OpenOCDOptions {
	opts := DefaultOpenOCDOptions()
	opts.TclAddress = m.tclListener.Addr().String()
	opts.RTTPort = m.rttListener.Addr().(*net.TCPAddr).Port
	return opts
}

func (m *mockOpenOCD) track(conn net.Conn) {
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
}

func (m *mockOpenOCD) acceptTcl() {
	defer m.wg.Done()
	for {
		conn, err := m.tclListener.Accept()
		if err != nil {
			return
		}
		m.track(conn)
		m.wg.Add(1)
		go m.serveTcl(conn)
	}
}

func (m *mockOpenOCD) serveTcl(conn net.Conn) {
	defer m.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		script, err := reader.ReadString(TclTerminator)
		if err != nil {
			return
		}
		cmd := unwrapCommand(strings.TrimSuffix(script, string(TclTerminator)))

		m.mu.Lock()
		m.commands = append(m.commands, cmd)
		m.mu.Unlock()

		var reply string
		if result, err := m.handler(cmd); err != nil {
			reply = "1 " + err.Error()
		} else {
			reply = "0 " + result
		}
		fmt.Fprint(conn, reply+string(TclTerminator))
	}
}

func (m *mockOpenOCD) acceptRTT() {
	defer m.wg.Done()
	for {
		conn, err := m.rttListener.Accept()
		if err != nil {
			return
		}
		m.track(conn)
		m.rttConns <- conn
	}
}

// rtt returns the next RTT connection the driver opened.
func (m *mockOpenOCD) rtt(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-m.rttConns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("driver never connected to the rtt server")
		return nil
	}
}

// received returns the commands seen so far.
func (m *mockOpenOCD) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *mockOpenOCD) sawCommand(cmd string) bool {
	for _, c := range m.received() {
		if c == cmd {
			return true
		}
	}
	return false
}

func (m *mockOpenOCD) stop() {
	m.tclListener.Close()
	m.rttListener.Close()

	m.mu.Lock()
	for _, conn := range m.conns {
		conn.Close()
	}
	m.conns = nil
	m.mu.Unlock()

	m.wg.Wait()
}

// unwrapCommand recovers the command from the driver's catch wrapper.
func unwrapCommand(script string) string {
	const open = "[catch {"
	closing := "} " + resultVar + "]"
	start := strings.Index(script, open)
	end := strings.LastIndex(script, closing)
	if start < 0 || end < start {
		return script
	}
	return script[start+len(open) : end]
}

// defaultOpenOCDHandler answers like an OpenOCD attached to an STM32F4
// over SWD.
func defaultOpenOCDHandler(cmd string) (string, error) {
	switch {
	case cmd == "version":
		return "Open On-Chip Debugger 0.12.0", nil
	case cmd == "transport select":
		return "swd", nil
	case cmd == "target current":
		return "stm32f4x.cpu", nil
	case strings.HasPrefix(cmd, "targets "):
		return "", errors.New("Invalid target: " + strings.TrimPrefix(cmd, "targets "))
	case strings.HasSuffix(cmd, " cget -endian"):
		return "little", nil
	case strings.HasSuffix(cmd, " cget -type"):
		return "cortex_m", nil
	case cmd == "adapter speed":
		return "adapter speed: 4000 kHz", nil
	case strings.HasPrefix(cmd, "rtt server stop"):
		return "", errors.New("rtt server not running")
	default:
		return "", nil
	}
}
