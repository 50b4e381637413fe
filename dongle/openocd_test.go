package dongle

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

// connectMock returns a session connected to a mock OpenOCD.
func connectMock(t *testing.T, m *mockOpenOCD, cfg Config) (*Session, ConnectionInfo) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := NewSession(cfg, NewOpenOCD(m.options(), cfg.Channel), logger)
	info, err := s.Connect()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, info
}

func TestOpenOCDConnect(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	_, info := connectMock(t, m, DefaultConfig())

	if info.Target != "stm32f4x.cpu" {
		t.Errorf("Target = %q, want stm32f4x.cpu", info.Target)
	}
	if info.Endian != EndianLittle {
		t.Errorf("Endian = %v, want Little", info.Endian)
	}
	if info.Core != "cortex_m" {
		t.Errorf("Core = %q, want cortex_m", info.Core)
	}
	if info.SpeedKHz != 4000 {
		t.Errorf("SpeedKHz = %d, want 4000", info.SpeedKHz)
	}

	opts := m.options()
	for _, want := range []string{
		"version",
		"transport select",
		"rtt setup 0x20000000 0x10000 {SEGGER RTT}",
		"rtt start",
		fmt.Sprintf("rtt server start %d 0", opts.RTTPort),
	} {
		if !m.sawCommand(want) {
			t.Errorf("driver never sent %q; got %v", want, m.received())
		}
	}
	if m.sawCommand("adapter speed 0") {
		t.Error("automatic speed must not set the adapter speed")
	}
}

func TestOpenOCDConnectSetsSpeed(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	cfg := DefaultConfig()
	cfg.Speed = 1800
	connectMock(t, m, cfg)

	if !m.sawCommand("adapter speed 1800") {
		t.Errorf("adapter speed not applied; got %v", m.received())
	}
}

func TestOpenOCDSelectsKnownTarget(t *testing.T) {
	var selected string
	handler := func(cmd string) (string, error) {
		if strings.HasPrefix(cmd, "targets ") {
			selected = strings.TrimPrefix(cmd, "targets ")
			return "", nil
		}
		if cmd == "target current" && selected != "" {
			return selected, nil
		}
		return defaultOpenOCDHandler(cmd)
	}
	m := startMockOpenOCD(t, handler)
	cfg := DefaultConfig()
	cfg.Target = "nrf52.cpu"
	_, info := connectMock(t, m, cfg)

	if info.Target != "nrf52.cpu" {
		t.Errorf("Target = %q, want nrf52.cpu", info.Target)
	}
}

func TestOpenOCDTransportMismatch(t *testing.T) {
	handler := func(cmd string) (string, error) {
		switch cmd {
		case "transport select":
			return "jtag", nil
		case "transport select swd":
			return "", errors.New("Transport 'jtag' already selected")
		}
		return defaultOpenOCDHandler(cmd)
	}
	m := startMockOpenOCD(t, handler)
	logger, _ := test.NewNullLogger()
	s := NewSession(DefaultConfig(), NewOpenOCD(m.options(), 0), logger)

	_, err := s.Connect()
	if KindOf(err) != KindOther {
		t.Fatalf("Connect() kind = %v (err %v), want other", KindOf(err), err)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Errorf("error should carry the rejected command, got %v", err)
	}
}

func TestOpenOCDWriteAndRead(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	s, _ := connectMock(t, m, DefaultConfig())
	device := m.rtt(t)

	if err := s.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	got := make([]byte, len("hello\n"))
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(device, got); err != nil {
		t.Fatalf("device read error = %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("device received %q, want %q", got, "hello\n")
	}

	if _, err := device.Write([]byte("ok\n")); err != nil {
		t.Fatalf("device write error = %v", err)
	}
	var out strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for out.String() != "ok\n" && time.Now().Before(deadline) {
		text, err := s.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() error = %v", err)
		}
		out.WriteString(text)
		time.Sleep(5 * time.Millisecond)
	}
	if out.String() != "ok\n" {
		t.Errorf("console read %q, want %q", out.String(), "ok\n")
	}
}

func TestOpenOCDReadNothingPending(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	s, _ := connectMock(t, m, DefaultConfig())
	m.rtt(t)

	start := time.Now()
	text, err := s.ReadLine()
	if err != nil || text != "" {
		t.Errorf("ReadLine() = %q, %v; want empty, nil", text, err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("ReadLine() blocked for %v", elapsed)
	}
}

func TestOpenOCDRTTClosedIsConnectionLoss(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	s, _ := connectMock(t, m, DefaultConfig())
	device := m.rtt(t)
	device.Close()

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = s.ReadLine()
	}
	if !IsConnection(err) {
		t.Errorf("ReadLine() after rtt close = %v, want connection failure", err)
	}
}

func TestOpenOCDResetHold(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	s, _ := connectMock(t, m, DefaultConfig())

	if err := s.ResetTarget(); err != nil {
		t.Fatalf("ResetTarget() error = %v", err)
	}
	if !m.sawCommand("adapter assert srst; sleep 10; adapter deassert srst") {
		t.Errorf("reset script not sent; got %v", m.received())
	}
}

func TestOpenOCDPowerScripts(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	opts := m.options()
	opts.PowerOnScript = "jlink power on"
	opts.PowerOffScript = "jlink power off"

	logger, _ := test.NewNullLogger()
	s := NewSession(DefaultConfig(), NewOpenOCD(opts, 0), logger)
	if _, err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if !m.sawCommand("jlink power off") {
		t.Error("connect should apply the power-off policy")
	}
	if err := s.SetPower(true); err != nil {
		t.Fatalf("SetPower(true) error = %v", err)
	}
	if !m.sawCommand("jlink power on") {
		t.Error("SetPower(true) should run the power-on script")
	}
}

func TestOpenOCDPowerUnsupported(t *testing.T) {
	drv := NewOpenOCD(DefaultOpenOCDOptions(), 0)
	if err := drv.PowerOn(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("PowerOn() without script = %v, want ErrUnsupported", err)
	}
}

func TestOpenOCDOpenUnreachable(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	opts := m.options()
	m.stop()

	logger, _ := test.NewNullLogger()
	s := NewSession(DefaultConfig(), NewOpenOCD(opts, 0), logger)
	_, err := s.Connect()
	if !IsConnection(err) {
		t.Errorf("Connect() to stopped openocd = %v, want connection failure", err)
	}
}

func TestOpenOCDTclLost(t *testing.T) {
	m := startMockOpenOCD(t, nil)
	s, _ := connectMock(t, m, DefaultConfig())
	m.stop()

	if err := s.ResetTarget(); !IsConnection(err) {
		t.Errorf("ResetTarget() after openocd exit = %v, want connection failure", err)
	}
}

func TestOpenOCDChannelMismatch(t *testing.T) {
	drv := NewOpenOCD(DefaultOpenOCDOptions(), 1)
	if _, err := drv.ReadBytes(0, 16); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("ReadBytes on another channel = %v, want ErrChannelMismatch", err)
	}
	if _, err := drv.WriteBytes(0, []byte("x")); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("WriteBytes on another channel = %v, want ErrChannelMismatch", err)
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		reply   string
		want    string
		wantErr bool
	}{
		{"0 stm32f4x.cpu", "stm32f4x.cpu", false},
		{"0 ", "", false},
		{"0 line one\nline two\n", "line one\nline two", false},
		{"2 returned", "returned", false},
		{"1 invalid command name \"foo\"", "", true},
		{"", "", true},
		{"garbage", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, err := parseReply("cmd", tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReply(%q) error = %v, wantErr %v", tt.reply, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseReply(%q) = %q, want %q", tt.reply, got, tt.want)
			}
		})
	}
}

func TestWrapCommand(t *testing.T) {
	got := wrapCommand("target current")
	want := `format "%d %s" [catch {target current} _rtt_console_res] $_rtt_console_res`
	if got != want {
		t.Errorf("wrapCommand() = %q, want %q", got, want)
	}
	if unwrapCommand(got) != "target current" {
		t.Errorf("unwrapCommand() = %q", unwrapCommand(got))
	}
}

func TestFirstNumber(t *testing.T) {
	tests := map[string]uint32{
		"adapter speed: 4000 kHz": 4000,
		"4000":                    4000,
		"no digits":               0,
		"":                        0,
	}
	for in, want := range tests {
		if got := firstNumber(in); got != want {
			t.Errorf("firstNumber(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseEndian(t *testing.T) {
	tests := map[string]Endian{
		"little":  EndianLittle,
		"Big\n":   EndianBig,
		"unknown": EndianUnknown,
	}
	for in, want := range tests {
		if got := parseEndian(in); got != want {
			t.Errorf("parseEndian(%q) = %v, want %v", in, got, want)
		}
	}
}
