package monitor

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds the session counters. Both activities update them, so every
// field is atomic.
type Stats struct {
	BytesSent     atomic.Int64
	BytesReceived atomic.Int64
	Reconnects    atomic.Int64
}

// Snapshot is a point-in-time copy of the session statistics.
type Snapshot struct {
	Device        string
	BaudRate      int
	Uptime        time.Duration
	BytesReceived int64
	BytesSent     int64
	Reconnects    int64
	RawMode       bool
}

func (s Snapshot) String() string {
	raw := "No"
	if s.RawMode {
		raw = "Yes"
	}
	return fmt.Sprintf(`
Connection Statistics:
  Device: %s
  Baud Rate: %d
  Uptime: %s
  Bytes Received: %d
  Bytes Sent: %d
  Reconnections: %d
  Raw REPL Mode: %s
`, s.Device, s.BaudRate, formatUptime(s.Uptime), s.BytesReceived, s.BytesSent, s.Reconnects, raw)
}

// formatUptime renders d as HH:MM:SS. Hours keep growing past 99.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
