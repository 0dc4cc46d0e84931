// Package frame recognises the four delimiter-framed message kinds used by
// the board firmware: <...>, {...}, #...! and $...!.
package frame

import "strings"

// Kind identifies a frame type. The zero value means no frame.
type Kind int

const (
	KindNone Kind = iota
	KindAngle
	KindBrace
	KindHash
	KindDollar
)

// MaxBuffer is the accumulation ceiling. Reaching it without a complete
// frame resets the decoder.
const MaxBuffer = 1024

type delimiters struct {
	start, end byte
}

// Order matters: in Rescan mode it is the priority used to pick a kind.
var kinds = [...]struct {
	kind Kind
	delimiters
}{
	{KindAngle, delimiters{'<', '>'}},
	{KindBrace, delimiters{'{', '}'}},
	{KindHash, delimiters{'#', '!'}},
	{KindDollar, delimiters{'$', '!'}},
}

func (k Kind) String() string {
	switch k {
	case KindAngle:
		return "<...>"
	case KindBrace:
		return "{...}"
	case KindHash:
		return "#...!"
	case KindDollar:
		return "$...!"
	default:
		return "none"
	}
}

// Mode selects how the decoder treats state between calls.
type Mode int

const (
	// Streaming carries the awaiting-end state across calls and consumes
	// each frame from the buffer, so back-to-back frames decode separately.
	Streaming Mode = iota

	// Rescan resets to idle on every call and re-derives the frame purely
	// from which delimiters are present anywhere in the buffer. This is how
	// the board firmware behaves; two same-kind frames in one buffer are
	// reported as a single frame.
	Rescan
)

// Frame is a complete delimiter-bounded message. Payload includes both
// delimiters.
type Frame struct {
	Kind    Kind
	Payload string
}

// Decoder accumulates text and reports complete frames. It is not safe for
// concurrent use.
type Decoder struct {
	mode    Mode
	buf     strings.Builder
	pending Kind
}

// NewDecoder returns an idle decoder.
func NewDecoder(mode Mode) *Decoder {
	return &Decoder{mode: mode}
}

// State returns the kind the decoder is waiting to complete, or KindNone when idle.
func (d *Decoder) State() Kind { return d.pending }

// Buffered returns the text accumulated so far.
func (d *Decoder) Buffered() string { return d.buf.String() }

// Reset drops buffered text and returns to idle.
func (d *Decoder) Reset() {
	d.buf.Reset()
	d.pending = KindNone
}

// Decode appends chunk and returns any frames completed by it.
//
// If sendInFlight is true the host was writing while this data arrived; the
// half-duplex bus may have garbled it, so the whole buffer is discarded and
// nothing is decoded this cycle.
func (d *Decoder) Decode(chunk string, sendInFlight bool) []Frame {
	d.buf.WriteString(chunk)

	if sendInFlight {
		d.Reset()
		return nil
	}
	if d.buf.Len() < 2 {
		return nil
	}

	var frames []Frame
	if d.mode == Rescan {
		if f, ok := d.rescan(); ok {
			frames = append(frames, f)
		}
	} else {
		frames = d.stream()
	}

	if d.buf.Len() >= MaxBuffer {
		d.Reset()
	}
	return frames
}

func (d *Decoder) rescan() (Frame, bool) {
	text := d.buf.String()
	d.pending = KindNone
	for _, k := range kinds {
		if strings.IndexByte(text, k.start) >= 0 {
			d.pending = k.kind
			break
		}
	}
	if d.pending == KindNone {
		return Frame{}, false
	}
	if strings.IndexByte(text, endOf(d.pending)) < 0 {
		return Frame{}, false
	}
	f := Frame{Kind: d.pending, Payload: text}
	d.Reset()
	return f, true
}

func (d *Decoder) stream() []Frame {
	text := d.buf.String()
	var frames []Frame
	for {
		if d.pending == KindNone {
			kind, at := earliestStart(text)
			if kind == KindNone {
				// Nothing here can start a frame.
				text = ""
				break
			}
			d.pending = kind
			text = text[at:]
		}
		end := strings.IndexByte(text[1:], endOf(d.pending))
		if end < 0 {
			break
		}
		end += 2
		frames = append(frames, Frame{Kind: d.pending, Payload: text[:end]})
		text = text[end:]
		d.pending = KindNone
	}
	d.buf.Reset()
	d.buf.WriteString(text)
	return frames
}

func earliestStart(text string) (Kind, int) {
	best, at := KindNone, -1
	for _, k := range kinds {
		i := strings.IndexByte(text, k.start)
		if i >= 0 && (at < 0 || i < at) {
			best, at = k.kind, i
		}
	}
	return best, at
}

func endOf(k Kind) byte {
	for _, d := range kinds {
		if d.kind == k {
			return d.end
		}
	}
	return 0
}
