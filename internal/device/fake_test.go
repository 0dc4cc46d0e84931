package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// fakeBoard emulates a MicroPython board closely enough for the raw REPL
// handshake: it answers Ctrl-A, Ctrl-B and Ctrl-D the way the firmware does.
type fakeBoard struct {
	mu      sync.Mutex
	rx      bytes.Buffer // bytes waiting to be read by the host
	written bytes.Buffer // everything the host wrote
	writes  [][]byte

	raw     bool
	program bytes.Buffer
	closed  bool

	// exec returns stdout/stderr for a raw program.
	exec func(program string) (string, string)

	// silent makes the board ignore raw REPL control bytes.
	silent   bool
	readErr  error
	writeErr error
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		exec: func(program string) (string, string) { return "", "" },
	}
}

func (b *fakeBoard) Available() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return 0, b.readErr
	}
	return b.rx.Len(), nil
}

func (b *fakeBoard) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return 0, b.readErr
	}
	n, _ := b.rx.Read(p)
	return n, nil
}

func (b *fakeBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return 0, b.writeErr
	}
	b.written.Write(p)
	b.writes = append(b.writes, append([]byte(nil), p...))
	for _, c := range p {
		b.handle(c)
	}
	return len(p), nil
}

func (b *fakeBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBoard) handle(c byte) {
	if b.silent {
		return
	}
	switch {
	case c == ctrlA:
		b.raw = true
		b.program.Reset()
		b.rx.WriteString("raw REPL; CTRL-B to exit\r\n>")
	case c == ctrlB && b.raw:
		b.raw = false
		b.rx.WriteString("\r\nMicroPython v1.22.0\r\n>>> ")
	case c == ctrlD && b.raw && b.program.Len() == 0:
		b.rx.WriteString("OK\r\nMPY: soft reboot\r\nraw REPL; CTRL-B to exit\r\n>")
	case c == ctrlD && b.raw:
		out, errOut := b.exec(b.program.String())
		b.program.Reset()
		b.rx.WriteString("OK" + out + "\x04" + errOut + "\x04>")
	case b.raw && c != '\r' && c != ctrlC:
		b.program.WriteByte(c)
	}
}

// feed queues device output for the host.
func (b *fakeBoard) feed(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx.WriteString(s)
}

func (b *fakeBoard) writtenBytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.written.Bytes()...)
}

func (b *fakeBoard) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeOpener struct {
	mu     sync.Mutex
	boards []*fakeBoard
	err    error
	opens  int
}

func (o *fakeOpener) Open(ctx context.Context, address string, baudRate int) (Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	if len(o.boards) == 0 {
		return nil, ErrDeviceNotFound
	}
	b := o.boards[0]
	if len(o.boards) > 1 {
		o.boards = o.boards[1:]
	}
	return b, nil
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (r *recordingReporter) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recordingReporter) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

var errUnplugged = errors.New("input/output error")
