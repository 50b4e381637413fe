package dongle

import (
	"time"
)

// fakeDriver is a scriptable Driver that records every call.
type fakeDriver struct {
	calls []string

	openErr    error
	selectErr  error
	connectErr error
	startErr   error
	stopErr    error
	closeErr   error
	resetErr   error
	powerErr   error

	info ConnectionInfo

	// reads are returned one per ReadBytes call; nil once exhausted.
	reads   [][]byte
	readErr error

	// writeLimits caps how many bytes each WriteBytes call accepts; once
	// exhausted every call accepts everything.
	writeLimits []int
	writeErr    error
	written     []byte

	resetFor time.Duration
}

func (f *fakeDriver) Open() error {
	f.calls = append(f.calls, "open")
	return f.openErr
}

func (f *fakeDriver) SelectInterface(kind Interface) error {
	f.calls = append(f.calls, "select "+kind.String())
	return f.selectErr
}

func (f *fakeDriver) Connect(target string, speed Speed) (ConnectionInfo, error) {
	f.calls = append(f.calls, "connect "+target+" "+speed.String())
	return f.info, f.connectErr
}

func (f *fakeDriver) StartChannel() error {
	f.calls = append(f.calls, "start")
	return f.startErr
}

func (f *fakeDriver) StopChannel() error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeDriver) Close() error {
	f.calls = append(f.calls, "close")
	return f.closeErr
}

func (f *fakeDriver) ReadBytes(channel, maxLen int) ([]byte, error) {
	f.calls = append(f.calls, "read")
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.reads) == 0 {
		return nil, nil
	}
	data := f.reads[0]
	f.reads = f.reads[1:]
	return data, nil
}

func (f *fakeDriver) WriteBytes(channel int, p []byte) (int, error) {
	f.calls = append(f.calls, "write")
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if len(f.writeLimits) > 0 {
		if f.writeLimits[0] < n {
			n = f.writeLimits[0]
		}
		f.writeLimits = f.writeLimits[1:]
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeDriver) ResetHold(d time.Duration) error {
	f.calls = append(f.calls, "reset")
	f.resetFor = d
	return f.resetErr
}

func (f *fakeDriver) PowerOn() error {
	f.calls = append(f.calls, "power on")
	return f.powerErr
}

func (f *fakeDriver) PowerOff() error {
	f.calls = append(f.calls, "power off")
	return f.powerErr
}

func (f *fakeDriver) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}
