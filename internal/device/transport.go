package device

import (
	"context"
	"io"
)

// Transport is an open, full-duplex byte link to the board.
//
// Available reports how many bytes can be read without blocking. Read never
// blocks for longer than the transport's poll interval and may return 0, nil.
type Transport interface {
	io.ReadWriteCloser
	Available() (int, error)
}

// Opener opens a Transport with exclusive access, 8N1 framing and a bounded
// wait for the device to become ready.
type Opener interface {
	Open(ctx context.Context, address string, baudRate int) (Transport, error)
}

// OpenerFunc adapts a plain function to the Opener interface.
type OpenerFunc func(ctx context.Context, address string, baudRate int) (Transport, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, address string, baudRate int) (Transport, error) {
	return f(ctx, address, baudRate)
}

// Reporter receives human-readable status and error lines from the manager.
type Reporter interface {
	Status(msg string)
	Error(msg string)
}

type discardReporter struct{}

func (discardReporter) Status(string) {}
func (discardReporter) Error(string)  {}
