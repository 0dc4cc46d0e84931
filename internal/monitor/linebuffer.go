package monitor

import "bytes"

// maxLineBuffer is the ceiling past which buffered bytes without a newline
// are flushed as one line.
const maxLineBuffer = 1024

// lineBuffer accumulates inbound bytes and splits them into lines. Bytes are
// never reordered or duplicated.
type lineBuffer struct {
	buf []byte
}

// push appends data and returns every complete line, terminators stripped.
// Blank lines are dropped. If no newline is pending and the buffer has grown
// past the ceiling, the whole buffer is returned as one line.
func (b *lineBuffer) push(data []byte) []string {
	b.buf = append(b.buf, data...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(b.buf[:i], "\r")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, decodeText(line))
		}
		b.buf = b.buf[i+1:]
	}

	if len(b.buf) > maxLineBuffer {
		lines = append(lines, decodeText(b.buf))
		b.buf = nil
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// flush returns whatever is left, or "" when empty.
func (b *lineBuffer) flush() string {
	rest := bytes.TrimRight(b.buf, "\r")
	b.buf = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return ""
	}
	return decodeText(rest)
}

func (b *lineBuffer) len() int { return len(b.buf) }
