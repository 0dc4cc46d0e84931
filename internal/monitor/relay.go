package monitor

import (
	"context"
	"fmt"

	"github.com/buckleypaul/serialmon/internal/frame"
)

// inbound holds the relay's partial state for one connection's byte stream.
type inbound struct {
	lines lineBuffer
	dec   *frame.Decoder
	text  *textStream
}

func (s *Session) newInbound() *inbound {
	in := &inbound{}
	if s.opts.DecodeFrames {
		in.dec = frame.NewDecoder(s.opts.FrameMode)
		in.text = newTextStream()
	}
	return in
}

// relay copies device output to the display until the session stops. It
// also owns reconnection while auto-reconnect is on.
func (s *Session) relay(ctx context.Context) {
	in := s.newInbound()
	wait := s.reconnectBackoff()

	defer func() {
		s.endStream(in)
		s.log.Debug("relay exited")
	}()

	for s.running.Load() && ctx.Err() == nil {
		if !s.conn.Connected() {
			if !s.opts.AutoReconnect {
				return
			}
			s.endStream(in)
			s.disp.Status("Attempting to reconnect...")
			if err := s.conn.Connect(ctx); err != nil {
				s.log.Debug("reconnect failed", "error", err)
				if !s.sleep(ctx, wait.NextBackOff()) {
					return
				}
				continue
			}
			wait.Reset()
			s.stats.Reconnects.Add(1)
			continue
		}

		n, err := s.conn.Available()
		if err == nil && n > 0 {
			var data []byte
			data, err = s.conn.Read(min(n, readChunk))
			if len(data) > 0 {
				s.receive(data, in)
			}
		}
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.disp.Error(fmt.Sprintf("Error reading data: %v", err))
			s.log.Warn("read failed", "error", err)
			if !s.opts.AutoReconnect {
				return
			}
			s.endStream(in)
			s.conn.Disconnect()
			continue
		}
		if n == 0 && !s.sleep(ctx, s.opts.IdleDelay) {
			return
		}
	}
}

func (s *Session) receive(data []byte, in *inbound) {
	s.stats.BytesReceived.Add(int64(len(data)))
	for _, line := range in.lines.push(data) {
		s.disp.Data(line)
	}
	if in.dec == nil {
		return
	}
	for _, f := range in.dec.Decode(in.text.decode(data), s.conn.SendInFlight()) {
		s.disp.Frame(f)
	}
}

// endStream closes out the byte stream of a connection that is going away.
// A partial line is shown; partial frames and runes cannot complete and are
// dropped.
func (s *Session) endStream(in *inbound) {
	if rest := in.lines.flush(); rest != "" {
		s.disp.Data(rest)
	}
	if in.dec != nil {
		in.dec.Reset()
		in.text.reset()
	}
}
