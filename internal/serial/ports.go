package serial

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Describe returns a one-line summary suitable for listings and pickers.
func (p PortInfo) Describe() string {
	if !p.IsUSB {
		return p.Name
	}
	desc := fmt.Sprintf("%s  USB %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		desc += "  " + p.Product
	}
	if p.SerialNumber != "" {
		desc += "  sn " + p.SerialNumber
	}
	return desc
}

// listDetailed is swapped in tests.
var listDetailed = enumerator.GetDetailedPortsList

// ListPorts returns available serial ports, USB devices first.
func ListPorts() ([]PortInfo, error) {
	ports, err := listDetailed()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].IsUSB != result[j].IsUSB {
			return result[i].IsUSB
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}
