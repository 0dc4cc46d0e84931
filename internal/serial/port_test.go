package serial

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/buckleypaul/serialmon/internal/device"
)

// fakePort implements the parts of serial.Port the adapter uses. The
// embedded interface is nil; calling anything else panics.
type fakePort struct {
	serial.Port
	chunks      [][]byte
	written     []byte
	readTimeout time.Duration
	closed      bool
	readErr     error
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, f.chunks[0])
	f.chunks[0] = f.chunks[0][n:]
	if len(f.chunks[0]) == 0 {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.readTimeout = t
	return nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func TestOpenUses8N1AndPollTimeout(t *testing.T) {
	fp := &fakePort{}
	var gotMode *serial.Mode
	o := &Opener{
		PollTimeout: 7 * time.Millisecond,
		open: func(name string, mode *serial.Mode) (serial.Port, error) {
			gotMode = mode
			return fp, nil
		},
	}

	tr, err := o.Open(context.Background(), "/dev/ttyUSB0", 115200)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if gotMode.BaudRate != 115200 || gotMode.DataBits != 8 ||
		gotMode.Parity != serial.NoParity || gotMode.StopBits != serial.OneStopBit {
		t.Fatalf("unexpected mode: %+v", gotMode)
	}
	if fp.readTimeout != 7*time.Millisecond {
		t.Fatalf("expected poll timeout 7ms, got %v", fp.readTimeout)
	}
	if tr.(*Port).Name() != "/dev/ttyUSB0" {
		t.Fatalf("unexpected port name %q", tr.(*Port).Name())
	}
}

func TestOpenRetriesUntilDeviceAppears(t *testing.T) {
	fp := &fakePort{}
	calls := 0
	o := &Opener{
		ReadyTimeout: time.Second,
		RetryDelay:   time.Millisecond,
		open: func(name string, mode *serial.Mode) (serial.Port, error) {
			calls++
			if calls < 3 {
				return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
			}
			return fp, nil
		},
	}

	if _, err := o.Open(context.Background(), "/dev/ttyACM0", 9600); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 open attempts, got %d", calls)
	}
}

func TestOpenTimesOutWithNotFound(t *testing.T) {
	o := &Opener{
		ReadyTimeout: 20 * time.Millisecond,
		RetryDelay:   time.Millisecond,
		open: func(name string, mode *serial.Mode) (serial.Port, error) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
		},
	}

	_, err := o.Open(context.Background(), "/dev/ttyACM9", 115200)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestOpenPermissionDeniedIsNotRetried(t *testing.T) {
	calls := 0
	o := &Opener{
		ReadyTimeout: time.Second,
		RetryDelay:   time.Millisecond,
		open: func(name string, mode *serial.Mode) (serial.Port, error) {
			calls++
			return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.EACCES}
		},
	}

	_, err := o.Open(context.Background(), "/dev/ttyS0", 115200)
	if !errors.Is(err, device.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestOpenRequiresAddress(t *testing.T) {
	o := &Opener{}
	_, err := o.Open(context.Background(), "", 115200)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestClassifyOtherErrorsAsNotReady(t *testing.T) {
	err := classify(errors.New("device reports readiness to read but returned no data"))
	if !errors.Is(err, device.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestPortAvailableBuffersPolledBytes(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{[]byte("hello\r\n")}}
	p := &Port{name: "x", port: fp, buf: make([]byte, readChunk)}

	n, err := p.Available()
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 bytes available, got %d", n)
	}

	// A second query must not lose or re-poll the pending bytes.
	if n, _ := p.Available(); n != 7 {
		t.Fatalf("expected 7 bytes still available, got %d", n)
	}

	buf := make([]byte, 3)
	got, _ := p.Read(buf)
	if string(buf[:got]) != "hel" {
		t.Fatalf("expected hel, got %q", buf[:got])
	}
	rest := make([]byte, 16)
	got, _ = p.Read(rest)
	if string(rest[:got]) != "lo\r\n" {
		t.Fatalf("expected lo\\r\\n, got %q", rest[:got])
	}
	if n, _ := p.Available(); n != 0 {
		t.Fatalf("expected nothing available, got %d", n)
	}
}

func TestPortAvailableWrapsReadError(t *testing.T) {
	fp := &fakePort{readErr: errors.New("input/output error")}
	p := &Port{name: "/dev/ttyUSB0", port: fp, buf: make([]byte, readChunk)}

	if _, err := p.Available(); err == nil {
		t.Fatal("expected error from Available")
	}
}

func TestListPortsSortsUSBFirst(t *testing.T) {
	orig := listDetailed
	defer func() { listDetailed = orig }()
	listDetailed = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "10c4", PID: "ea60"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "0005", Product: "Board in FS mode"},
		}, nil
	}

	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 3 {
		t.Fatalf("expected 3 ports, got %d", len(ports))
	}
	if ports[0].Name != "/dev/ttyACM0" || ports[1].Name != "/dev/ttyUSB1" || ports[2].Name != "/dev/ttyS0" {
		t.Fatalf("unexpected order: %v", ports)
	}
	if got := ports[0].Describe(); got != "/dev/ttyACM0  USB 2e8a:0005  Board in FS mode" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := ports[2].Describe(); got != "/dev/ttyS0" {
		t.Fatalf("unexpected description %q", got)
	}
}
