package monitor

import (
	"context"
	"errors"
	"io"
	"strings"
)

const helpText = `
Available commands:
  help        - Show this help message
  stats       - Show connection statistics
  reconnect   - Reconnect to device
  raw         - Toggle raw REPL mode
  reset       - Send soft reset (Ctrl+D)
  exit/quit   - Exit monitor

Any other input will be sent to the device.
Use Ctrl+C to exit.`

// dispatch reads operator input until exit, end of input, or interrupt.
func (s *Session) dispatch(ctx context.Context) {
	s.disp.Status("Enter commands (Ctrl+C to exit, 'help' for commands)")
	for s.running.Load() {
		line, err := s.input.ReadLine(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, ErrInterrupted), ctx.Err() != nil:
				s.disp.Status("Received interrupt signal, shutting down...")
			default:
				s.disp.Error("Error reading input: " + err.Error())
			}
			return
		}
		if !s.Execute(ctx, line) {
			return
		}
	}
}

// Execute handles one line of operator input. It returns false when the
// operator asked to exit.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	switch strings.ToLower(line) {
	case "help":
		s.disp.Block(helpText)
	case "stats":
		s.disp.Block(s.Snapshot().String())
	case "reconnect":
		if err := s.conn.Reconnect(ctx); err != nil {
			s.log.Warn("manual reconnect failed", "error", err)
		}
	case "raw":
		if err := s.conn.ToggleRaw(ctx); err != nil {
			s.log.Warn("toggle raw failed", "error", err)
		}
	case "reset":
		n, err := s.conn.Reset(ctx)
		s.stats.BytesSent.Add(int64(n))
		if err != nil {
			s.log.Warn("reset failed", "error", err)
		}
	case "exit", "quit":
		s.running.Store(false)
		return false
	default:
		s.send(ctx, line)
	}
	return true
}

func (s *Session) send(ctx context.Context, line string) {
	res, err := s.conn.Send(ctx, []byte(line))
	s.stats.BytesSent.Add(int64(res.Sent))
	if len(res.Output) > 0 {
		s.stats.BytesReceived.Add(int64(len(res.Output)))
		var lines lineBuffer
		for _, l := range lines.push(res.Output) {
			s.disp.Data(l)
		}
		if rest := lines.flush(); rest != "" {
			s.disp.Data(rest)
		}
	}
	if len(res.ErrOutput) > 0 {
		s.stats.BytesReceived.Add(int64(len(res.ErrOutput)))
		s.disp.Error(strings.TrimRight(decodeText(res.ErrOutput), "\r\n"))
	}
	if err != nil {
		s.log.Warn("send failed", "error", err)
	}
}
