package monitor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/buckleypaul/serialmon/internal/device"
	"github.com/buckleypaul/serialmon/internal/frame"
)

// fakeConn is a scriptable connection. Read returns queued chunks one at a
// time so tests control exactly what each relay cycle sees.
type fakeConn struct {
	mu sync.Mutex

	connected bool
	raw       bool
	inFlight  bool

	chunks  [][]byte
	readErr error

	// connectErrs is consumed one entry per Connect call; nil or an empty
	// slice means success.
	connectErrs []error
	connects    int
	disconnects int

	sent   []string
	result device.Result
	resets int
}

func (c *fakeConn) Address() string { return "/dev/ttyUSB0" }
func (c *fakeConn) BaudRate() int   { return 115200 }

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) RawMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

func (c *fakeConn) SendInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	c.connected = true
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.disconnects++
	}
	c.connected = false
}

func (c *fakeConn) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) (device.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return device.Result{}, device.ErrNotConnected
	}
	c.sent = append(c.sent, string(payload))
	if c.raw {
		return c.result, nil
	}
	return device.Result{Sent: len(payload) + 2}, nil
}

func (c *fakeConn) Reset(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, device.ErrNotConnected
	}
	c.resets++
	return 1, nil
}

func (c *fakeConn) ToggleRaw(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return device.ErrNotConnected
	}
	c.raw = !c.raw
	return nil
}

func (c *fakeConn) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, device.ErrNotConnected
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.chunks) == 0 {
		return 0, nil
	}
	return len(c.chunks[0]), nil
}

func (c *fakeConn) Read(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chunks) == 0 {
		return nil, nil
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	return chunk, nil
}

func (c *fakeConn) queue(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, []byte(s))
}

func (c *fakeConn) failReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

func (c *fakeConn) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// recordingDisplay keeps every event for inspection.
type recordingDisplay struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
	data     []string
	frames   []frame.Frame
	blocks   []string
}

func (d *recordingDisplay) Status(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, msg)
}

func (d *recordingDisplay) Error(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, msg)
}

func (d *recordingDisplay) Data(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = append(d.data, line)
}

func (d *recordingDisplay) Frame(f frame.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
}

func (d *recordingDisplay) Block(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = append(d.blocks, text)
}

func (d *recordingDisplay) dataLines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.data...)
}

func (d *recordingDisplay) errorLines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.errors...)
}

func (d *recordingDisplay) hasStatus(msg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.statuses {
		if s == msg {
			return true
		}
	}
	return false
}

func (d *recordingDisplay) allBlocks() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.blocks, "\n")
}

// scriptedInput feeds lines from a channel. A closed channel reads as EOF.
type scriptedInput struct {
	lines chan string
}

func newScriptedInput(lines ...string) *scriptedInput {
	in := &scriptedInput{lines: make(chan string, 16)}
	for _, l := range lines {
		in.lines <- l
	}
	return in
}

func (in *scriptedInput) ReadLine(ctx context.Context) (string, error) {
	select {
	case l, ok := <-in.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var errUnplugged = errors.New("input/output error")
