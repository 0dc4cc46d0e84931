package monitor

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText turns raw device bytes into printable text. Invalid UTF-8 is
// kept visible as U+FFFD rather than dropped.
func decodeText(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// textStream decodes device output chunk by chunk. A rune split across two
// reads is held back until its remaining bytes arrive.
type textStream struct {
	t    transform.Transformer
	tail []byte
}

func newTextStream() *textStream {
	return &textStream{t: unicode.UTF8.NewDecoder()}
}

func (s *textStream) decode(b []byte) string {
	src := make([]byte, 0, len(s.tail)+len(b))
	src = append(append(src, s.tail...), b...)
	// Each invalid byte grows to a three-byte U+FFFD.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)

	nDst, nSrc, err := s.t.Transform(dst, src, false)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		s.reset()
		return strings.ToValidUTF8(string(src), "�")
	}
	s.tail = append(s.tail[:0], src[nSrc:]...)
	return string(dst[:nDst])
}

// reset drops a held-back partial rune.
func (s *textStream) reset() {
	s.t.Reset()
	s.tail = s.tail[:0]
}
