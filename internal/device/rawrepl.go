package device

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Control bytes understood by the MicroPython REPL.
const (
	ctrlA = 0x01 // enter raw REPL
	ctrlB = 0x02 // exit raw REPL
	ctrlC = 0x03 // interrupt
	ctrlD = 0x04 // soft reset / end of raw command
)

var (
	interruptSeq = []byte{'\r', ctrlC, ctrlC}
	enterRawSeq  = []byte{'\r', ctrlA}
	exitRawSeq   = []byte{'\r', ctrlB}
	softResetSeq = []byte{ctrlD}

	rawPrompt     = []byte(">")
	rawBanner     = []byte("raw REPL; CTRL-B to exit\r\n>")
	softRebootMsg = []byte("soft reboot\r\n")
	execAck       = []byte("OK")
	endOfOutput   = []byte{ctrlD}
)

const (
	rawChunkSize  = 256
	rawChunkDelay = 10 * time.Millisecond
	rawPollDelay  = 10 * time.Millisecond
	drainLimit    = 64 * 1024
)

// rawREPL speaks the raw REPL sub-protocol over a transport. The caller holds
// the manager lock for the whole exchange.
type rawREPL struct {
	t                Transport
	handshakeTimeout time.Duration
	followTimeout    time.Duration
	poll             time.Duration
}

// enter interrupts any running program and switches the board to raw mode.
// On return the board is idle at the raw prompt.
func (r rawREPL) enter(ctx context.Context, softReset bool) error {
	if err := r.write(interruptSeq); err != nil {
		return err
	}
	if err := r.drain(); err != nil {
		return err
	}
	if err := r.write(enterRawSeq); err != nil {
		return err
	}
	if err := r.expect(ctx, rawBanner, r.handshakeTimeout); err != nil {
		return fmt.Errorf("could not enter raw repl: %w", err)
	}
	if !softReset {
		return nil
	}
	if err := r.write(softResetSeq); err != nil {
		return err
	}
	if err := r.expect(ctx, softRebootMsg, r.handshakeTimeout); err != nil {
		return fmt.Errorf("could not soft reset: %w", err)
	}
	if err := r.expect(ctx, rawBanner, r.handshakeTimeout); err != nil {
		return fmt.Errorf("could not enter raw repl after soft reset: %w", err)
	}
	return nil
}

func (r rawREPL) exit() error {
	return r.write(exitRawSeq)
}

// exec runs a program fragment and returns what it printed to stdout and stderr.
func (r rawREPL) exec(ctx context.Context, program []byte) (out, errOut []byte, err error) {
	for i := 0; i < len(program); i += rawChunkSize {
		end := min(i+rawChunkSize, len(program))
		if err := r.write(program[i:end]); err != nil {
			return nil, nil, err
		}
		if end < len(program) && !sleepCtx(ctx, rawChunkDelay) {
			return nil, nil, ctx.Err()
		}
	}
	if err := r.write(endOfOutput); err != nil {
		return nil, nil, err
	}

	ack, err := r.readN(ctx, len(execAck), r.handshakeTimeout)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(ack, execAck) {
		return nil, nil, fmt.Errorf("%w: could not exec command (response: %q)", ErrProtocol, ack)
	}

	out, err = r.readUntil(ctx, endOfOutput, r.followTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("timeout waiting for first EOF reception: %w", err)
	}
	errOut, err = r.readUntil(ctx, endOfOutput, r.followTimeout)
	if err != nil {
		return out[:len(out)-1], nil, fmt.Errorf("timeout waiting for second EOF reception: %w", err)
	}

	// The board prints the prompt once it is ready for the next fragment.
	// Missing it is not fatal; the next exec does not wait for it.
	_, _ = r.readUntil(ctx, rawPrompt, r.handshakeTimeout)

	return out[:len(out)-1], errOut[:len(errOut)-1], nil
}

func (r rawREPL) write(p []byte) error {
	for len(p) > 0 {
		n, err := r.t.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write: %d bytes left", len(p))
		}
		p = p[n:]
	}
	return nil
}

// drain discards whatever the board printed before the handshake.
func (r rawREPL) drain() error {
	buf := make([]byte, 256)
	total := 0
	for total < drainLimit {
		n, err := r.t.Available()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		got, err := r.t.Read(buf[:min(n, len(buf))])
		if err != nil {
			return err
		}
		total += got
	}
	return nil
}

func (r rawREPL) expect(ctx context.Context, ending []byte, timeout time.Duration) error {
	_, err := r.readUntil(ctx, ending, timeout)
	return err
}

// readUntil reads one byte at a time until the accumulated data ends with
// ending, so nothing past the terminator is consumed.
func (r rawREPL) readUntil(ctx context.Context, ending []byte, timeout time.Duration) ([]byte, error) {
	var data []byte
	one := make([]byte, 1)
	deadline := time.Now().Add(timeout)
	for !bytes.HasSuffix(data, ending) {
		n, err := r.t.Available()
		if err != nil {
			return data, err
		}
		if n > 0 {
			got, err := r.t.Read(one)
			if err != nil {
				return data, err
			}
			data = append(data, one[:got]...)
			continue
		}
		if time.Now().After(deadline) {
			return data, fmt.Errorf("%w: timed out waiting for %q (got %q)", ErrProtocol, ending, tail(data, 32))
		}
		if !sleepCtx(ctx, r.poll) {
			return data, ctx.Err()
		}
	}
	return data, nil
}

func (r rawREPL) readN(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	data := make([]byte, 0, n)
	buf := make([]byte, n)
	deadline := time.Now().Add(timeout)
	for len(data) < n {
		avail, err := r.t.Available()
		if err != nil {
			return data, err
		}
		if avail > 0 {
			got, err := r.t.Read(buf[:min(avail, n-len(data))])
			if err != nil {
				return data, err
			}
			data = append(data, buf[:got]...)
			continue
		}
		if time.Now().After(deadline) {
			return data, fmt.Errorf("%w: timed out after %d of %d bytes", ErrProtocol, len(data), n)
		}
		if !sleepCtx(ctx, r.poll) {
			return data, ctx.Err()
		}
	}
	return data, nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
