package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/serial"
)

// PortsLoadedMsg carries the result of a port scan.
type PortsLoadedMsg struct {
	Ports []serial.PortInfo
	Err   error
}

// listPorts is swapped out in tests.
var listPorts = serial.ListPorts

// ListPorts scans for serial ports in the background.
func ListPorts() tea.Cmd {
	return func() tea.Msg {
		ports, err := listPorts()
		return PortsLoadedMsg{Ports: ports, Err: err}
	}
}

// SelectPort returns a command that broadcasts a port selection.
func SelectPort(port string) tea.Cmd {
	return func() tea.Msg { return PortSelectedMsg{Port: port} }
}
