package pages

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/store"
	"github.com/buckleypaul/serialmon/internal/ui"
)

type historyLoadedMsg struct {
	sessions []store.SessionRecord
	err      error
}

type HistoryPage struct {
	store    *store.Store
	sessions []store.SessionRecord
	cursor   int
	err      error

	width, height int
}

func NewHistoryPage(s *store.Store) *HistoryPage {
	return &HistoryPage{store: s}
}

func (p *HistoryPage) Init() tea.Cmd { return p.load() }

func (p *HistoryPage) load() tea.Cmd {
	s := p.store
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		sessions, err := s.Sessions()
		return historyLoadedMsg{sessions: sessions, err: err}
	}
}

func (p *HistoryPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		p.err = msg.err
		p.sessions = msg.sessions
		if p.cursor >= len(p.sessions) {
			p.cursor = max(len(p.sessions)-1, 0)
		}
	case monitorStoppedMsg:
		// A session just ended and has been recorded.
		return p, p.load()
	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down":
			if p.cursor < len(p.sessions)-1 {
				p.cursor++
			}
		case "r":
			return p, p.load()
		}
	}
	return p, nil
}

func (p *HistoryPage) View() string {
	var inner strings.Builder

	switch {
	case p.store == nil:
		inner.WriteString(ui.DimStyle.Render("History is disabled"))
	case p.err != nil:
		inner.WriteString(ui.ErrorBadge("ERROR") + " " + p.err.Error())
	case len(p.sessions) == 0:
		inner.WriteString(ui.DimStyle.Render("No sessions recorded yet"))
	}

	for i, r := range p.sessions {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}
		inner.WriteString(fmt.Sprintf("%s%s  %-20s %7d baud  %8s  rx %d  tx %d  reconnects %d\n",
			cursor,
			r.Started.Format("2006-01-02 15:04"),
			r.Device,
			r.BaudRate,
			r.Duration().Round(time.Second),
			r.BytesReceived,
			r.BytesSent,
			r.Reconnects,
		))
	}

	if p.cursor < len(p.sessions) {
		if log := p.sessions[p.cursor].LogFile; log != "" {
			inner.WriteString("\n" + ui.DimStyle.Render("Capture: "+log))
		}
	}

	return ui.Panel("History", inner.String(), p.width, 0, false)
}

func (p *HistoryPage) Name() string { return "History" }

func (p *HistoryPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

func (p *HistoryPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
