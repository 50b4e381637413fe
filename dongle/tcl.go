package dongle

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Tcl RPC protocol constants.
const (
	// TclTerminator ends every request and reply on the Tcl RPC port.
	TclTerminator = '\x1a'

	// DefaultTclAddress is where OpenOCD listens for Tcl RPC by default.
	DefaultTclAddress = "localhost:6666"

	// ConnectionTimeout is the timeout for establishing TCP connections.
	ConnectionTimeout = 5 * time.Second

	// CommandTimeout bounds a single Tcl command round trip.
	CommandTimeout = 10 * time.Second

	// MaxReplyLength is the largest Tcl reply accepted, in bytes.
	MaxReplyLength = 1 << 20

	// resultVar holds the command result inside the catch wrapper.
	resultVar = "_rtt_console_res"
)

// tclClient speaks the OpenOCD Tcl RPC protocol: a script terminated by
// 0x1a goes out, a reply terminated by 0x1a comes back. It is used by one
// goroutine at a time.
type tclClient struct {
	conn    net.Conn
	reader  *bufio.Reader
	addr    string
	timeout time.Duration
}

// dialTcl connects to the Tcl RPC port at addr.
func dialTcl(ctx context.Context, addr string) (*tclClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectionTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrLinkLost, addr, err)
	}
	return &tclClient{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		addr:    addr,
		timeout: CommandTimeout,
	}, nil
}

// wrapCommand makes the reply carry the Tcl return code ahead of the result,
// so failures can be told apart from ordinary output.
func wrapCommand(cmd string) string {
	return fmt.Sprintf("format \"%%d %%s\" [catch {%s} %s] $%s", cmd, resultVar, resultVar)
}

// parseReply splits a wrapped reply into its return code and result.
func parseReply(cmd, reply string) (string, error) {
	code, result, found := strings.Cut(reply, " ")
	if !found && code == "" {
		return "", &CommandError{Command: cmd, Message: "empty reply"}
	}
	switch code {
	case "0", "2": // TCL_OK, TCL_RETURN
		return strings.TrimRight(result, "\r\n"), nil
	case "1", "3", "4": // TCL_ERROR, TCL_BREAK, TCL_CONTINUE
		return "", &CommandError{Command: cmd, Message: strings.TrimSpace(result)}
	default:
		return "", &CommandError{Command: cmd, Message: fmt.Sprintf("unexpected reply '%s'", reply)}
	}
}

// Run executes cmd and returns its result. A command that raises a Tcl
// error returns a *CommandError; a broken connection wraps ErrLinkLost.
func (c *tclClient) Run(cmd string) (string, error) {
	reply, err := c.eval(wrapCommand(cmd))
	if err != nil {
		return "", err
	}
	return parseReply(cmd, reply)
}

// eval sends a raw script and returns the raw reply without its terminator.
func (c *tclClient) eval(script string) (string, error) {
	if c == nil || c.conn == nil {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLinkLost, err)
	}

	if _, err := c.conn.Write([]byte(script + string(TclTerminator))); err != nil {
		return "", fmt.Errorf("%w: send to %s: %w", ErrLinkLost, c.addr, err)
	}

	var sb strings.Builder
	for {
		chunk, err := c.reader.ReadSlice(TclTerminator)
		sb.Write(chunk)
		if sb.Len() > MaxReplyLength {
			return "", fmt.Errorf("%w: reply from %s exceeds %d bytes", ErrLinkLost, c.addr, MaxReplyLength)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: receive from %s: %w", ErrLinkLost, c.addr, err)
		}
		break
	}

	reply := sb.String()
	return reply[:len(reply)-1], nil
}

// Close closes the connection. It is safe to call more than once.
func (c *tclClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
