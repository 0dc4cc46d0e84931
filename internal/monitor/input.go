package monitor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

// ErrInterrupted is returned by a LineReader when the operator pressed Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// LineReader supplies operator input one line at a time. ReadLine blocks
// until a line is available, input ends (io.EOF), or ctx is done.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

const historyLimit = 500

type lineResult struct {
	line string
	err  error
}

// LineEditor reads operator input from stdin. On a terminal it uses readline
// with persistent history; otherwise it falls back to a plain scanner so
// piped input works.
type LineEditor struct {
	prompt  string
	rl      *readline.Instance
	scanner *bufio.Scanner

	// pending holds a read that outlived a cancelled ReadLine call.
	pending chan lineResult
}

// NewLineEditor returns an editor bound to stdin. historyFile may be empty.
func NewLineEditor(prompt, historyFile string) *LineEditor {
	le := &LineEditor{prompt: prompt}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		le.scanner = bufio.NewScanner(os.Stdin)
		return le
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            historyFile,
		HistoryLimit:           historyLimit,
		DisableAutoSaveHistory: true,
		Prompt:                 prompt,
	})
	if err != nil {
		le.scanner = bufio.NewScanner(os.Stdin)
		return le
	}
	le.rl = rl
	return le
}

// NewScannerReader reads lines from r without line editing.
func NewScannerReader(r io.Reader) *LineEditor {
	return &LineEditor{scanner: bufio.NewScanner(r)}
}

func (le *LineEditor) ReadLine(ctx context.Context) (string, error) {
	ch := le.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		go func() {
			line, err := le.read()
			ch <- lineResult{line, err}
		}()
	}

	select {
	case res := <-ch:
		le.pending = nil
		return res.line, res.err
	case <-ctx.Done():
		le.pending = ch
		return "", ctx.Err()
	}
}

func (le *LineEditor) read() (string, error) {
	if le.rl == nil {
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", ErrInterrupted
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

// Close releases the terminal. A read blocked in readline returns io.EOF.
func (le *LineEditor) Close() error {
	if le.rl != nil {
		return le.rl.Close()
	}
	return nil
}
