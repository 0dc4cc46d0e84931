package store

import "time"

// SessionRecord summarises one finished monitor session.
type SessionRecord struct {
	ID            string    `json:"id"`
	Device        string    `json:"device"`
	BaudRate      int       `json:"baud_rate"`
	Started       time.Time `json:"started"`
	Ended         time.Time `json:"ended"`
	BytesSent     int64     `json:"bytes_sent"`
	BytesReceived int64     `json:"bytes_received"`
	Reconnects    int64     `json:"reconnects"`
	RawMode       bool      `json:"raw_mode"`
	LogFile       string    `json:"log_file,omitempty"`
}

// Duration returns how long the session ran.
func (r SessionRecord) Duration() time.Duration {
	if r.Ended.Before(r.Started) {
		return 0
	}
	return r.Ended.Sub(r.Started)
}
