// Package serialport selects and reads the serial-attached sensor device.
package serialport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoPort is returned when no serial port can be selected.
var ErrNoPort = errors.New("no serial port available")

// PortInfo describes one enumerated serial port.
type PortInfo struct {
	Name    string
	Product string
	VID     string
	PID     string
	IsUSB   bool
}

// Lister enumerates the ports present on the host.
type Lister func() ([]PortInfo, error)

// Vendors whose boards typically carry the sensor firmware.
var (
	knownProducts = []string{"arduino", "ftdi"}
	knownVIDs     = map[string]bool{
		"2341": true, // Arduino LLC
		"2a03": true, // Arduino SRL
		"0403": true, // FTDI
	}
)

// SystemPorts enumerates host ports with USB metadata.
func SystemPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			Product: d.Product,
			VID:     d.VID,
			PID:     d.PID,
			IsUSB:   d.IsUSB,
		})
	}
	return ports, nil
}

// Pick selects a port: preferred (exact name or suffix), then a known device
// vendor, then the first port listed.
func Pick(ports []PortInfo, preferred string) (PortInfo, bool) {
	if preferred != "" {
		for _, p := range ports {
			if p.Name == preferred || strings.HasSuffix(p.Name, preferred) {
				return p, true
			}
		}
	}
	for _, p := range ports {
		if p.knownVendor() {
			return p, true
		}
	}
	if len(ports) == 0 {
		return PortInfo{}, false
	}
	return ports[0], true
}

func (p PortInfo) knownVendor() bool {
	product := strings.ToLower(p.Product)
	for _, v := range knownProducts {
		if strings.Contains(product, v) {
			return true
		}
	}
	return knownVIDs[strings.ToLower(p.VID)]
}

// Discover enumerates with list and picks a port. Enumeration failures are
// logged and reported as ErrNoPort so the caller can run offline.
func Discover(list Lister, preferred string, log *slog.Logger) (PortInfo, error) {
	ports, err := list()
	if err != nil {
		log.Error("Error listing serial ports", "error", err)
		return PortInfo{}, fmt.Errorf("%w: %v", ErrNoPort, err)
	}
	p, ok := Pick(ports, preferred)
	if !ok {
		return PortInfo{}, ErrNoPort
	}
	if preferred != "" && p.Name != preferred && !strings.HasSuffix(p.Name, preferred) {
		log.Warn("Preferred serial port not found, using fallback", "preferred", preferred, "port", p.Name)
	}
	return p, nil
}
