package pages

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/frame"
	"github.com/buckleypaul/serialmon/internal/monitor"
	"github.com/buckleypaul/serialmon/internal/ui"
)

const (
	maxScrollback  = 2000
	eventQueueSize = 256
)

// SessionFactory builds a session for device/baud that reports to disp.
type SessionFactory func(device string, baud int, disp monitor.Display) (*monitor.Session, error)

type monitorState int

const (
	monitorStateIdle monitorState = iota
	monitorStateConnecting
	monitorStateConnected
)

type eventKind int

const (
	eventStatus eventKind = iota
	eventError
	eventData
	eventFrame
	eventBlock
)

// monitorEventMsg carries one display event from the session goroutines.
type monitorEventMsg struct {
	src  *teaDisplay
	kind eventKind
	text string
	at   time.Time
}

type monitorConnectedMsg struct {
	session *monitor.Session
	err     error
}

type monitorStoppedMsg struct{}

// teaDisplay turns session output into messages for the bubbletea loop.
// Once closed it drops events, so a session never blocks on a UI that has
// stopped reading.
type teaDisplay struct {
	events    chan monitorEventMsg
	done      chan struct{}
	closeOnce sync.Once
}

func newTeaDisplay() *teaDisplay {
	return &teaDisplay{
		events: make(chan monitorEventMsg, eventQueueSize),
		done:   make(chan struct{}),
	}
}

func (d *teaDisplay) send(kind eventKind, text string) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.events <- monitorEventMsg{src: d, kind: kind, text: text, at: time.Now()}:
	case <-d.done:
	}
}

func (d *teaDisplay) Status(msg string) { d.send(eventStatus, msg) }
func (d *teaDisplay) Error(msg string)  { d.send(eventError, msg) }
func (d *teaDisplay) Data(line string)  { d.send(eventData, line) }
func (d *teaDisplay) Block(text string) { d.send(eventBlock, text) }

func (d *teaDisplay) Frame(f frame.Frame) {
	d.send(eventFrame, fmt.Sprintf("[FRAME %s] %s", f.Kind, f.Payload))
}

func (d *teaDisplay) close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// wait returns a command that delivers the next event.
func (d *teaDisplay) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-d.events:
			return ev
		case <-d.done:
			return nil
		}
	}
}

type MonitorPage struct {
	factory    SessionFactory
	device     string
	baudRate   int
	timestamps bool

	state   monitorState
	session *monitor.Session
	disp    *teaDisplay

	lines    []string
	viewport viewport.Model
	input    textinput.Model
	message  string

	width, height int
}

func NewMonitorPage(factory SessionFactory, device string, baudRate int, timestamps bool) *MonitorPage {
	ti := textinput.New()
	ti.Placeholder = "command, or help"
	ti.Prompt = "> "
	ti.CharLimit = 1024

	return &MonitorPage{
		factory:    factory,
		device:     device,
		baudRate:   baudRate,
		timestamps: timestamps,
		viewport:   viewport.New(0, 0),
		input:      ti,
	}
}

func (p *MonitorPage) Init() tea.Cmd { return nil }

func (p *MonitorPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortSelectedMsg:
		p.device = msg.Port
		if p.state == monitorStateIdle {
			p.message = fmt.Sprintf("Selected %s", msg.Port)
		}
		return p, nil

	case app.BaudChangedMsg:
		p.baudRate = msg.BaudRate
		return p, nil

	case monitorEventMsg:
		p.appendEvent(msg)
		if p.disp == nil || msg.src != p.disp {
			return p, nil
		}
		return p, p.disp.wait()

	case monitorConnectedMsg:
		if msg.err != nil {
			p.state = monitorStateIdle
			p.session = nil
			p.message = fmt.Sprintf("Failed to connect: %v", msg.err)
			return p, nil
		}
		p.state = monitorStateConnected
		p.session = msg.session
		p.message = fmt.Sprintf("Connected to %s @ %d", p.device, p.baudRate)
		return p, p.input.Focus()

	case monitorStoppedMsg:
		p.state = monitorStateIdle
		p.session = nil
		p.input.Blur()
		if p.disp != nil {
			p.disp.close()
			p.disp = nil
		}
		p.message = "Disconnected"
		return p, nil

	case tea.KeyMsg:
		return p.handleKey(msg)
	}
	return p, nil
}

func (p *MonitorPage) handleKey(msg tea.KeyMsg) (app.Page, tea.Cmd) {
	if p.input.Focused() {
		switch msg.String() {
		case "enter":
			line := p.input.Value()
			p.input.SetValue("")
			return p, p.execute(line)
		case "esc":
			p.input.Blur()
			return p, nil
		}
		var cmd tea.Cmd
		p.input, cmd = p.input.Update(msg)
		return p, cmd
	}

	switch msg.String() {
	case "c", "enter":
		if p.state == monitorStateConnected {
			return p, p.input.Focus()
		}
		if p.state == monitorStateIdle {
			return p, p.connect()
		}
	case "i":
		if p.state == monitorStateConnected {
			return p, p.input.Focus()
		}
	case "d":
		if p.state == monitorStateConnected {
			return p, p.stop()
		}
	case "x":
		p.lines = nil
		p.viewport.SetContent("")
	default:
		var cmd tea.Cmd
		p.viewport, cmd = p.viewport.Update(msg)
		return p, cmd
	}
	return p, nil
}

func (p *MonitorPage) connect() tea.Cmd {
	if p.factory == nil {
		p.message = "No session factory configured"
		return nil
	}
	if p.device == "" {
		p.message = "No device selected. Press p in the sidebar to pick a port."
		return nil
	}

	if p.disp != nil {
		p.disp.close()
	}
	disp := newTeaDisplay()
	session, err := p.factory(p.device, p.baudRate, disp)
	if err != nil {
		p.message = fmt.Sprintf("Failed to connect: %v", err)
		return nil
	}
	p.disp = disp
	p.state = monitorStateConnecting
	p.message = fmt.Sprintf("Connecting to %s...", p.device)

	open := func() tea.Msg {
		if err := session.Open(context.Background()); err != nil {
			return monitorConnectedMsg{err: err}
		}
		return monitorConnectedMsg{session: session}
	}
	return tea.Batch(open, disp.wait())
}

func (p *MonitorPage) execute(line string) tea.Cmd {
	s := p.session
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		if !s.Execute(context.Background(), line) {
			s.Stop()
			return monitorStoppedMsg{}
		}
		return nil
	}
}

func (p *MonitorPage) stop() tea.Cmd {
	s := p.session
	return func() tea.Msg {
		if s != nil {
			s.Stop()
		}
		return monitorStoppedMsg{}
	}
}

// Shutdown stops a live session. The program calls it on exit, after the
// event loop is gone, so the display is closed first to release any
// session goroutine waiting on a full event queue.
func (p *MonitorPage) Shutdown() {
	if p.disp != nil {
		p.disp.close()
	}
	if p.session != nil {
		p.session.Stop()
	}
}

func (p *MonitorPage) appendEvent(ev monitorEventMsg) {
	var style lipgloss.Style
	text := ev.text
	switch ev.kind {
	case eventStatus:
		style = ui.StatusLineStyle
		text = "[MONITOR] " + text
	case eventError:
		style = ui.ErrorLineStyle
		text = "[ERROR] " + text
	case eventFrame:
		style = ui.FrameLineStyle
	case eventBlock:
		p.addLines(strings.Split(strings.Trim(text, "\n"), "\n"))
		return
	default:
		style = ui.DataLineStyle
	}
	if p.timestamps {
		text = "[" + ev.at.Format("15:04:05") + "] " + text
	}
	p.addLines([]string{style.Render(text)})
}

func (p *MonitorPage) addLines(lines []string) {
	atBottom := p.viewport.AtBottom()
	p.lines = append(p.lines, lines...)
	if over := len(p.lines) - maxScrollback; over > 0 {
		p.lines = p.lines[over:]
	}
	p.viewport.SetContent(strings.Join(p.lines, "\n"))
	if atBottom {
		p.viewport.GotoBottom()
	}
}

func (p *MonitorPage) View() string {
	var raw bool
	var stats string
	if p.state == monitorStateConnected && p.session != nil {
		snap := p.session.Snapshot()
		raw = snap.RawMode
		stats = ui.DimStyle.Render(fmt.Sprintf("  rx %s  tx %s  reconnects %d",
			ui.FormatBytes(snap.BytesReceived), ui.FormatBytes(snap.BytesSent), snap.Reconnects))
	}
	header := ui.LinkBadge(p.state == monitorStateConnected, p.state == monitorStateConnecting, raw) + stats

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(p.viewport.View())
	b.WriteString("\n")
	if p.state == monitorStateConnected {
		b.WriteString(p.input.View())
	} else if p.device == "" {
		b.WriteString(ui.DimStyle.Render("No device selected"))
	} else {
		b.WriteString(ui.DimStyle.Render(fmt.Sprintf("Press c to connect to %s @ %d", p.device, p.baudRate)))
	}
	if p.message != "" {
		b.WriteString("\n" + ui.DimStyle.Render(p.message))
	}

	return ui.Panel("Monitor", b.String(), p.width, p.height, p.input.Focused())
}

func (p *MonitorPage) Name() string { return "Monitor" }

func (p *MonitorPage) ShortHelp() []key.Binding {
	if p.input.Focused() {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "scroll mode")),
		}
	}
	if p.state == monitorStateConnected {
		return []key.Binding{
			key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "type")),
			key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
			key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
	}
}

func (p *MonitorPage) InputCaptured() bool {
	return p.input.Focused()
}

func (p *MonitorPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	// Panel borders, header, input and message lines.
	p.viewport.Width = max(w-4, 0)
	p.viewport.Height = max(h-7, 1)
}
