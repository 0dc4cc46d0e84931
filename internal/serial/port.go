package serial

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"

	"github.com/buckleypaul/serialmon/internal/device"
)

const (
	// DefaultReadyTimeout bounds how long Open waits for the device node to
	// appear, e.g. while a board re-enumerates after a reset.
	DefaultReadyTimeout = 2 * time.Second

	defaultPollTimeout = 5 * time.Millisecond
	defaultRetryDelay  = 250 * time.Millisecond
	readChunk          = 1024
)

// Port adapts a go.bug.st/serial port to device.Transport. The serial
// library has no "bytes waiting" query, so Available polls with a short read
// timeout and keeps what it got for the next Read.
type Port struct {
	name string
	port serial.Port

	mu      sync.Mutex
	pending []byte
	buf     []byte
}

// Name returns the device path the port was opened on.
func (p *Port) Name() string { return p.name }

// Available returns the number of bytes that can be read without blocking.
func (p *Port) Available() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) > 0 {
		return len(p.pending), nil
	}
	n, err := p.port.Read(p.buf)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.name, err)
	}
	p.pending = append(p.pending, p.buf[:n]...)
	return len(p.pending), nil
}

// Read returns buffered bytes first and otherwise waits at most one poll
// interval for new data.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	n, err := p.port.Read(b)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", p.name, err)
	}
	return n, nil
}

// Write sends b to the device.
func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p.name, err)
	}
	return n, nil
}

// Close releases the device.
func (p *Port) Close() error {
	return p.port.Close()
}

// Opener opens real serial ports. The zero value uses the defaults.
type Opener struct {
	ReadyTimeout time.Duration
	RetryDelay   time.Duration
	PollTimeout  time.Duration
	Logger       *slog.Logger

	// open is swapped in tests.
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// Open opens address with 8N1 framing. The serial library takes an exclusive
// lock on the tty. Missing or busy devices are retried until ReadyTimeout
// expires.
func (o *Opener) Open(ctx context.Context, address string, baudRate int) (device.Transport, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: no device path configured", device.ErrDeviceNotFound)
	}
	readyTimeout := o.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = DefaultReadyTimeout
	}
	retryDelay := o.RetryDelay
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	pollTimeout := o.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = defaultPollTimeout
	}
	open := o.open
	if open == nil {
		open = serial.Open
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "serial", "port", address)

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var (
		port     serial.Port
		lastErr  error
		attempts int
	)
	err := backoff.Retry(func() error {
		attempts++
		p, err := open(address, mode)
		if err != nil {
			lastErr = classify(err)
			if errors.Is(lastErr, device.ErrPermissionDenied) {
				return backoff.Permanent(lastErr)
			}
			log.Debug("port not ready", "attempt", attempts, "error", err)
			return lastErr
		}
		port = p
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(retryDelay), readyCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: %v", device.ErrNotReady, err)
		}
		return nil, fmt.Errorf("open serial port %q: %w", address, lastErr)
	}

	if err := port.SetReadTimeout(pollTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	log.Debug("port open", "baud", baudRate, "attempts", attempts)

	return &Port{
		name: address,
		port: port,
		buf:  make([]byte, readChunk),
	}, nil
}

// classify maps serial library and OS errors onto the device open-failure
// sentinels.
func classify(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
		case serial.PortBusy:
			return fmt.Errorf("%w: %v", device.ErrPortBusy, err)
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", device.ErrNotReady, err)
}
