package pages

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/config"
	"github.com/buckleypaul/serialmon/internal/ui"
)

type settingField struct {
	label string
	key   string
}

var settingFields = []settingField{
	{"Device", "device"},
	{"Baud Rate", "baud_rate"},
	{"Timestamps", "timestamps"},
	{"Auto Reconnect", "auto_reconnect"},
	{"Raw REPL", "raw_repl"},
	{"Decode Frames", "frames"},
	{"Frame Mode", "frame_mode"},
	{"Reconnect Delay", "reconnect_delay"},
}

type SettingsPage struct {
	cfg           *config.Config
	workspaceRoot string
	cursor        int
	editing       bool
	input         textinput.Model
	width, height int
	message       string

	// edited holds the keys changed on this page; only those are saved.
	edited map[string]bool
}

func NewSettingsPage(cfg *config.Config, workspaceRoot string) *SettingsPage {
	ti := textinput.New()
	ti.CharLimit = 128
	return &SettingsPage{
		cfg:           cfg,
		workspaceRoot: workspaceRoot,
		input:         ti,
		edited:        map[string]bool{},
	}
}

func (p *SettingsPage) Init() tea.Cmd { return nil }

func (p *SettingsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if p.editing {
			switch msg.String() {
			case "enter":
				cmd := p.applyValue(p.input.Value())
				p.editing = false
				p.input.Blur()
				return p, cmd
			case "esc":
				p.editing = false
				p.input.Blur()
				return p, nil
			}
			var cmd tea.Cmd
			p.input, cmd = p.input.Update(msg)
			return p, cmd
		}

		switch msg.String() {
		case "down":
			if p.cursor < len(settingFields)-1 {
				p.cursor++
			}
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "enter", "e":
			p.editing = true
			p.input.SetValue(p.getValue(p.cursor))
			p.input.Focus()
			return p, p.input.Focus()
		case "s":
			p.save()
		}
	}
	return p, nil
}

func (p *SettingsPage) View() string {
	var inner strings.Builder

	for i, f := range settingFields {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}

		val := p.getValue(i)
		if val == "" {
			val = ui.DimStyle.Render("(not set)")
		}

		line := fmt.Sprintf("%s%-20s %s", cursor, f.label, val)
		inner.WriteString(line)
		inner.WriteString("\n")
	}

	if p.editing {
		inner.WriteString("\n")
		inner.WriteString(fmt.Sprintf("  Edit %s:\n", settingFields[p.cursor].label))
		inner.WriteString("  " + p.input.View())
		inner.WriteString("\n")
	}

	if p.message != "" {
		inner.WriteString("\n  " + p.message)
	}

	return ui.Panel("Settings", inner.String(), p.width, 0, false)
}

func (p *SettingsPage) Name() string { return "Settings" }

func (p *SettingsPage) ShortHelp() []key.Binding {
	if p.editing {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit")),
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save to disk")),
	}
}

func (p *SettingsPage) InputCaptured() bool {
	return p.editing
}

func (p *SettingsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *SettingsPage) getValue(idx int) string {
	switch settingFields[idx].key {
	case "device":
		return p.cfg.Device
	case "baud_rate":
		return strconv.Itoa(p.cfg.BaudRate)
	case "timestamps":
		return strconv.FormatBool(p.cfg.ShowTimestamps)
	case "auto_reconnect":
		return strconv.FormatBool(p.cfg.AutoReconnect)
	case "raw_repl":
		return strconv.FormatBool(p.cfg.RawREPL)
	case "frames":
		return strconv.FormatBool(p.cfg.DecodeFrames)
	case "frame_mode":
		return p.cfg.FrameMode
	case "reconnect_delay":
		return p.cfg.ReconnectDelay.String()
	}
	return ""
}

// applyValue stores val in the selected field and returns a command for
// changes other pages must hear about.
func (p *SettingsPage) applyValue(val string) tea.Cmd {
	label := settingFields[p.cursor].label
	val = strings.TrimSpace(val)

	var cmd tea.Cmd
	var err error
	switch settingFields[p.cursor].key {
	case "device":
		p.cfg.Device = val
		cmd = app.SelectPort(val)
	case "baud_rate":
		var n int
		if n, err = strconv.Atoi(val); err == nil && n > 0 {
			p.cfg.BaudRate = n
			cmd = func() tea.Msg { return app.BaudChangedMsg{BaudRate: n} }
		} else if err == nil {
			err = fmt.Errorf("must be positive")
		}
	case "timestamps":
		err = parseBool(val, &p.cfg.ShowTimestamps)
	case "auto_reconnect":
		err = parseBool(val, &p.cfg.AutoReconnect)
	case "raw_repl":
		err = parseBool(val, &p.cfg.RawREPL)
	case "frames":
		err = parseBool(val, &p.cfg.DecodeFrames)
	case "frame_mode":
		if _, err = config.ParseFrameMode(val); err == nil {
			p.cfg.FrameMode = strings.ToLower(val)
		}
	case "reconnect_delay":
		var d time.Duration
		if d, err = time.ParseDuration(val); err == nil {
			p.cfg.ReconnectDelay = d
		}
	}

	if err != nil {
		p.message = fmt.Sprintf("Invalid %s: %v", label, err)
		return nil
	}
	p.edited[settingFields[p.cursor].key] = true
	p.message = fmt.Sprintf("%s updated", label)
	return cmd
}

// save writes the edited settings to the workspace config. Values that came
// from flags or the environment stay out of the file.
func (p *SettingsPage) save() {
	if len(p.edited) == 0 {
		p.message = "No changes to save"
		return
	}
	values := make(map[string]any, len(p.edited))
	for key := range p.edited {
		values[key] = p.fieldValue(key)
	}
	if err := config.SaveWorkspace(p.workspaceRoot, values); err != nil {
		p.message = fmt.Sprintf("Error saving: %v", err)
		return
	}
	clear(p.edited)
	p.message = "Settings saved to workspace"
}

func (p *SettingsPage) fieldValue(key string) any {
	switch key {
	case "device":
		return p.cfg.Device
	case "baud_rate":
		return p.cfg.BaudRate
	case "timestamps":
		return p.cfg.ShowTimestamps
	case "auto_reconnect":
		return p.cfg.AutoReconnect
	case "raw_repl":
		return p.cfg.RawREPL
	case "frames":
		return p.cfg.DecodeFrames
	case "frame_mode":
		return p.cfg.FrameMode
	case "reconnect_delay":
		return p.cfg.ReconnectDelay
	}
	return nil
}

func parseBool(val string, dst *bool) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
