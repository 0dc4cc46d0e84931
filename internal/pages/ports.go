package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/serial"
	"github.com/buckleypaul/serialmon/internal/ui"
)

type PortsPage struct {
	ports    []serial.PortInfo
	cursor   int
	selected string
	loading  bool
	err      error

	width, height int
}

func NewPortsPage(selected string) *PortsPage {
	return &PortsPage{selected: selected}
}

func (p *PortsPage) Init() tea.Cmd {
	p.loading = true
	return app.ListPorts()
}

func (p *PortsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortsLoadedMsg:
		p.loading = false
		p.err = msg.Err
		if msg.Err == nil {
			p.ports = msg.Ports
		}
		if p.cursor >= len(p.ports) {
			p.cursor = max(len(p.ports)-1, 0)
		}
		return p, nil

	case app.PortSelectedMsg:
		p.selected = msg.Port
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down":
			if p.cursor < len(p.ports)-1 {
				p.cursor++
			}
		case "r":
			p.loading = true
			return p, app.ListPorts()
		case "enter":
			if p.cursor < len(p.ports) {
				return p, app.SelectPort(p.ports[p.cursor].Name)
			}
		}
	}
	return p, nil
}

func (p *PortsPage) View() string {
	var inner strings.Builder

	switch {
	case p.loading && len(p.ports) == 0:
		inner.WriteString(ui.DimStyle.Render("Scanning..."))
	case p.err != nil:
		inner.WriteString(ui.ErrorBadge("ERROR") + " " + p.err.Error())
	case len(p.ports) == 0:
		inner.WriteString(ui.DimStyle.Render("No serial ports found"))
	}

	for i, port := range p.ports {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}
		mark := " "
		if port.Name == p.selected {
			mark = ui.AccentStyle.Render("*")
		}
		inner.WriteString(fmt.Sprintf("%s%s %s\n", cursor, mark, port.Describe()))
	}

	return ui.Panel("Ports", inner.String(), p.width, 0, false)
}

func (p *PortsPage) Name() string { return "Ports" }

func (p *PortsPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rescan")),
	}
}

func (p *PortsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
