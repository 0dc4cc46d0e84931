package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBaudRate         = 115200
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultFollowTimeout    = 10 * time.Second
)

var lineTerminator = []byte("\r\n")

// Config describes how a Manager reaches its device.
type Config struct {
	Address  string
	BaudRate int

	// RawREPL requests raw execution mode. It is re-entered after every
	// successful connect.
	RawREPL bool

	Opener   Opener
	Reporter Reporter
	Logger   *slog.Logger

	HandshakeTimeout time.Duration
	FollowTimeout    time.Duration
	PollInterval     time.Duration
}

// Result is the outcome of a Send.
type Result struct {
	// Sent is the number of bytes written in normal mode. Raw executions
	// report 0.
	Sent int

	// Output and ErrOutput hold what a raw execution printed.
	Output    []byte
	ErrOutput []byte
}

// Manager owns the transport lifecycle and is the only code that touches it.
// All methods are safe for concurrent use; every transport call happens with
// mu held so a reconnect cannot race a read.
type Manager struct {
	cfg Config
	log *slog.Logger
	rep Reporter

	mu  sync.Mutex
	t   Transport
	raw bool

	sending atomic.Bool
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config) *Manager {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.FollowTimeout == 0 {
		cfg.FollowTimeout = DefaultFollowTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = rawPollDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rep := cfg.Reporter
	if rep == nil {
		rep = discardReporter{}
	}
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.With("component", "device", "address", cfg.Address),
		rep: rep,
		raw: cfg.RawREPL,
	}
}

// Address returns the configured device path.
func (m *Manager) Address() string { return m.cfg.Address }

// BaudRate returns the configured baud rate.
func (m *Manager) BaudRate() int { return m.cfg.BaudRate }

// Connected reports whether a transport is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t != nil
}

// RawMode reports whether raw execution mode is active (or requested while
// disconnected).
func (m *Manager) RawMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// SendInFlight reports whether a write is currently on the wire.
func (m *Manager) SendInFlight() bool {
	return m.sending.Load()
}

// Connect opens the transport. It is a no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// Disconnect closes the transport, leaving raw mode first if needed. It is
// safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// Reconnect replaces the transport under a single lock hold.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.t != nil {
		return nil
	}
	if m.cfg.Opener == nil {
		return errors.New("device: no opener configured")
	}

	m.rep.Status(fmt.Sprintf("Connecting to %s at %d baud...", m.cfg.Address, m.cfg.BaudRate))
	t, err := m.cfg.Opener.Open(ctx, m.cfg.Address, m.cfg.BaudRate)
	if err != nil {
		m.log.Warn("open failed", "error", err)
		m.rep.Error(fmt.Sprintf("Failed to connect: %v", err))
		return fmt.Errorf("connect %s: %w", m.cfg.Address, err)
	}
	m.t = t

	if m.raw {
		if err := m.repl().enter(ctx, false); err != nil {
			// The link is fine; the board just did not answer the handshake.
			// Stay connected in normal mode.
			m.raw = false
			m.log.Warn("enter raw repl on connect failed", "error", err)
			m.rep.Error(fmt.Sprintf("Failed to enter RAW REPL mode: %v", err))
		} else {
			m.rep.Status("Entered RAW REPL mode")
		}
	}

	m.log.Info("connected", "baud", m.cfg.BaudRate, "raw", m.raw)
	m.rep.Status(fmt.Sprintf("Connected to %s", m.cfg.Address))
	return nil
}

func (m *Manager) disconnectLocked() {
	if m.t == nil {
		return
	}
	if m.raw {
		if err := m.repl().exit(); err != nil {
			m.log.Warn("exit raw repl failed", "error", err)
			m.rep.Error(fmt.Sprintf("Failed to exit RAW REPL mode: %v", err))
		}
	}
	if err := m.t.Close(); err != nil {
		m.log.Warn("close failed", "error", err)
	}
	m.t = nil
	m.log.Info("disconnected")
	m.rep.Status("Disconnected")
}

// Send writes an operator command. In normal mode it appends a line
// terminator; in raw mode it executes payload on the board and blocks until
// the board reports completion.
func (m *Manager) Send(ctx context.Context, payload []byte) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.t == nil {
		m.rep.Error("Not connected to device")
		return Result{}, ErrNotConnected
	}

	m.sending.Store(true)
	defer m.sending.Store(false)

	if m.raw {
		out, errOut, err := m.repl().exec(ctx, payload)
		if err != nil {
			m.rep.Error(fmt.Sprintf("Error sending command: %v", err))
			return Result{Output: out}, err
		}
		return Result{Output: out, ErrOutput: errOut}, nil
	}

	line := make([]byte, 0, len(payload)+len(lineTerminator))
	line = append(line, payload...)
	line = append(line, lineTerminator...)
	n, err := m.writeLocked(line)
	if err != nil {
		m.rep.Error(fmt.Sprintf("Error sending command: %v", err))
		return Result{Sent: n}, err
	}
	return Result{Sent: n}, nil
}

// Reset sends the soft-reset control byte and returns the bytes written.
func (m *Manager) Reset(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.t == nil {
		m.rep.Error("Not connected to device")
		return 0, ErrNotConnected
	}
	m.rep.Status("Sending soft reset...")

	m.sending.Store(true)
	defer m.sending.Store(false)

	n, err := m.writeLocked(softResetSeq)
	if err != nil {
		m.rep.Error(fmt.Sprintf("Error sending reset: %v", err))
	}
	return n, err
}

// ToggleRaw switches between normal and raw execution mode. When the
// handshake fails the mode is left unchanged.
func (m *Manager) ToggleRaw(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.t == nil {
		m.rep.Error("Not connected to device")
		return ErrNotConnected
	}

	m.sending.Store(true)
	defer m.sending.Store(false)

	if m.raw {
		if err := m.repl().exit(); err != nil {
			m.rep.Error(fmt.Sprintf("Error toggling RAW REPL: %v", err))
			return fmt.Errorf("exit raw repl: %w", err)
		}
		m.raw = false
		m.rep.Status("Exited RAW REPL mode")
		return nil
	}

	if err := m.repl().enter(ctx, true); err != nil {
		m.rep.Error(fmt.Sprintf("Error toggling RAW REPL: %v", err))
		return fmt.Errorf("enter raw repl: %w", err)
	}
	m.raw = true
	m.rep.Status("Entered RAW REPL mode")
	return nil
}

// Available returns the number of bytes that can be read without blocking.
func (m *Manager) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t == nil {
		return 0, ErrNotConnected
	}
	return m.t.Available()
}

// Read returns up to n bytes from the device.
func (m *Manager) Read(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, n)
	got, err := m.t.Read(buf)
	return buf[:got], err
}

func (m *Manager) writeLocked(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := m.t.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, fmt.Errorf("short write: %d of %d bytes", written, len(p))
		}
	}
	return written, nil
}

func (m *Manager) repl() rawREPL {
	return rawREPL{
		t:                m.t,
		handshakeTimeout: m.cfg.HandshakeTimeout,
		followTimeout:    m.cfg.FollowTimeout,
		poll:             m.cfg.PollInterval,
	}
}
