package device

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// listDetailed is swapped out in tests.
var listDetailed = enumerator.GetDetailedPortsList

// SerialEnumerator lists serial devices, optionally followed by the demo
// source.
type SerialEnumerator struct {
	IncludeDemo bool
}

// Ports returns the attached devices sorted by name. When the platform
// enumerator reports nothing, common device node patterns are globbed.
func (e SerialEnumerator) Ports() ([]PortInfo, error) {
	var out []PortInfo
	ports, err := listDetailed()
	switch {
	case err == nil && len(ports) > 0:
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, PortInfo{Name: p.Name, Label: label(p)})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case err != nil && !e.IncludeDemo:
		return nil, fmt.Errorf("device: enumerate ports: %w", err)
	default:
		for _, name := range globFallback() {
			out = append(out, PortInfo{Name: name, Label: name})
		}
	}
	if e.IncludeDemo {
		out = append(out, PortInfo{Name: DemoPort, Label: DemoPort + "  simulated"})
	}
	return out, nil
}

// label renders "device  description" the way the port picker shows it.
func label(p *enumerator.PortDetails) string {
	desc := strings.TrimSpace(p.Product)
	if desc == "" && p.IsUSB {
		desc = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
	}
	if desc == "" {
		return p.Name
	}
	return p.Name + "  " + desc
}

func globFallback() []string {
	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		return listByGlob("/dev/cu.*", "/dev/tty.usb*")
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
	}
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
