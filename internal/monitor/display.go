package monitor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/serialmon/internal/device"
	"github.com/buckleypaul/serialmon/internal/frame"
	"github.com/buckleypaul/serialmon/internal/ui"
)

// Display is where the session sends everything the operator sees. Status
// and error lines must stay visually distinct from device data.
type Display interface {
	device.Reporter
	Data(line string)
	Frame(f frame.Frame)
	Block(text string)
}

// Console writes to a terminal or any writer. It is safe for concurrent use.
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
	now        func() time.Time

	status lipgloss.Style
	err    lipgloss.Style
	data   lipgloss.Style
	frame  lipgloss.Style
}

// NewConsole returns a console display. Colours are chosen from w's
// capabilities, so a plain file or buffer gets no escape codes.
func NewConsole(w io.Writer, timestamps bool) *Console {
	r := lipgloss.NewRenderer(w)
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return &Console{
		w:          w,
		timestamps: timestamps,
		now:        time.Now,
		status:     base.Foreground(ui.StatusColor),
		err:        base.Foreground(ui.ErrorColor),
		data:       base.Foreground(ui.DataColor),
		frame:      base.Foreground(ui.FrameColor),
	}
}

func (c *Console) Status(msg string) { c.line(c.status, "[MONITOR] "+msg) }
func (c *Console) Error(msg string)  { c.line(c.err, "[ERROR] "+msg) }
func (c *Console) Data(line string)  { c.line(c.data, line) }

func (c *Console) Frame(f frame.Frame) {
	c.line(c.frame, fmt.Sprintf("[FRAME %s] %s", f.Kind, f.Payload))
}

// Block prints multi-line text such as help or statistics verbatim.
func (c *Console) Block(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, text)
}

func (c *Console) line(style lipgloss.Style, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, style.Render(timestampPrefix(c.timestamps, c.now())+msg))
}

func timestampPrefix(enabled bool, t time.Time) string {
	if !enabled {
		return ""
	}
	return "[" + t.Format("15:04:05") + "] "
}

// Capture mirrors device data and frames into a log file while forwarding
// everything to the wrapped display.
type Capture struct {
	Display
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewCapture wraps d so data lines are also appended to w.
func NewCapture(d Display, w io.Writer) *Capture {
	return &Capture{Display: d, w: w, now: time.Now}
}

func (c *Capture) Data(line string) {
	c.Display.Data(line)
	c.write(line)
}

func (c *Capture) Frame(f frame.Frame) {
	c.Display.Frame(f)
	c.write(fmt.Sprintf("[FRAME %s] %s", f.Kind, f.Payload))
}

func (c *Capture) write(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s\n", c.now().Format(time.RFC3339Nano), line)
}
