// Package monitor runs an interactive session against a serial device: one
// goroutine relays device output to a Display while the caller's goroutine
// dispatches operator commands.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/buckleypaul/serialmon/internal/device"
	"github.com/buckleypaul/serialmon/internal/frame"
	"github.com/buckleypaul/serialmon/internal/store"
)

// ErrStartup wraps the connect error that prevented a session from starting.
var ErrStartup = errors.New("startup connect failed")

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultIdleDelay      = 5 * time.Millisecond
	DefaultJoinTimeout    = time.Second

	readChunk = 4096
)

// Conn is the connection surface a session drives. *device.Manager
// implements it.
type Conn interface {
	Address() string
	BaudRate() int
	Connected() bool
	RawMode() bool
	SendInFlight() bool

	Connect(ctx context.Context) error
	Disconnect()
	Reconnect(ctx context.Context) error

	Send(ctx context.Context, payload []byte) (device.Result, error)
	Reset(ctx context.Context) (int, error)
	ToggleRaw(ctx context.Context) error

	Available() (int, error)
	Read(n int) ([]byte, error)
}

// Options tune a session. Zero values select the defaults.
type Options struct {
	// ID names the session in logs and history. Empty generates a UUID.
	ID string

	AutoReconnect bool
	DecodeFrames  bool
	FrameMode     frame.Mode

	ReconnectDelay time.Duration
	IdleDelay      time.Duration
	JoinTimeout    time.Duration

	// History, when set, receives a record of the session on stop.
	History *store.Store
	// CaptureLog is stored in the history record.
	CaptureLog string

	Logger *slog.Logger
}

// Session is one monitor invocation.
type Session struct {
	conn  Conn
	disp  Display
	input LineReader
	opts  Options
	log   *slog.Logger

	id      string
	started time.Time
	running atomic.Bool
	stats   Stats

	cancelRelay context.CancelFunc
	relayDone   chan struct{}
	stopOnce    sync.Once

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a session. The connection should report to the same display.
func New(conn Conn, disp Display, input LineReader, opts Options) *Session {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.IdleDelay == 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		conn:  conn,
		disp:  disp,
		input: input,
		opts:  opts,
		id:    id,
		log:   opts.Logger.With("component", "monitor", "session", id),
		sleep: sleepCtx,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Running reports whether the session is live.
func (s *Session) Running() bool { return s.running.Load() }

// Snapshot returns the current statistics.
func (s *Session) Snapshot() Snapshot {
	var uptime time.Duration
	if !s.started.IsZero() {
		uptime = time.Since(s.started)
	}
	return Snapshot{
		Device:        s.conn.Address(),
		BaudRate:      s.conn.BaudRate(),
		Uptime:        uptime,
		BytesReceived: s.stats.BytesReceived.Load(),
		BytesSent:     s.stats.BytesSent.Load(),
		Reconnects:    s.stats.Reconnects.Load(),
		RawMode:       s.conn.RawMode(),
	}
}

// Run connects, starts the relay and dispatches operator input until the
// operator exits, input ends, or ctx is done. It returns an error wrapping
// ErrStartup only when the initial connect fails.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Stop()

	s.dispatch(ctx)
	return nil
}

// Open connects and starts the relay without reading operator input. Front
// ends that collect input themselves call Open, then Execute per line, then
// Stop.
func (s *Session) Open(ctx context.Context) error {
	s.disp.Status("Starting Serial Monitor...")
	s.disp.Status(fmt.Sprintf("Device: %s, Baud: %d", s.conn.Address(), s.conn.BaudRate()))

	if err := s.conn.Connect(ctx); err != nil {
		s.log.Error("startup connect failed", "error", err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	s.Start(ctx)
	return nil
}

// Start marks the session running and launches the relay goroutine.
func (s *Session) Start(ctx context.Context) {
	s.started = time.Now()
	s.running.Store(true)

	relayCtx, cancel := context.WithCancel(ctx)
	s.cancelRelay = cancel
	s.relayDone = make(chan struct{})
	go func() {
		defer close(s.relayDone)
		s.relay(relayCtx)
	}()
	s.log.Info("session started", "device", s.conn.Address(), "baud", s.conn.BaudRate())
}

// Stop ends the session. It is safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.cancelRelay != nil {
			s.cancelRelay()
			select {
			case <-s.relayDone:
			case <-time.After(s.opts.JoinTimeout):
				s.log.Warn("relay did not stop in time")
			}
		}

		// A wedged transport must not hang shutdown.
		done := make(chan struct{})
		go func() {
			s.conn.Disconnect()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.opts.JoinTimeout):
			s.log.Warn("disconnect did not finish in time")
		}

		s.record()
		s.log.Info("session stopped",
			"bytes_sent", s.stats.BytesSent.Load(),
			"bytes_received", s.stats.BytesReceived.Load(),
			"reconnects", s.stats.Reconnects.Load())
		s.disp.Status("Serial monitor stopped")
	})
}

func (s *Session) record() {
	if s.opts.History == nil || s.started.IsZero() {
		return
	}
	snap := s.Snapshot()
	err := s.opts.History.AddSession(store.SessionRecord{
		ID:            s.id,
		Device:        snap.Device,
		BaudRate:      snap.BaudRate,
		Started:       s.started,
		Ended:         time.Now(),
		BytesSent:     snap.BytesSent,
		BytesReceived: snap.BytesReceived,
		Reconnects:    snap.Reconnects,
		RawMode:       snap.RawMode,
		LogFile:       s.opts.CaptureLog,
	})
	if err != nil {
		s.log.Warn("record session failed", "error", err)
	}
}

func (s *Session) reconnectBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(s.opts.ReconnectDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
