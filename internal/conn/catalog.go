package conn

import (
	"sync"

	"github.com/shaunagostinho/serialdash/internal/device"
)

// Catalog is the last published list of selectable devices.
type Catalog struct {
	mu       sync.Mutex
	ports    []device.PortInfo
	selected string
}

// Update replaces the catalog when ports differs from it as a set and reports
// whether it did. The selection defaults to the first option when empty.
func (c *Catalog) Update(ports []device.PortInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sameSet(c.ports, ports) {
		return false
	}
	c.ports = append([]device.PortInfo(nil), ports...)
	if c.selected == "" && len(c.ports) > 0 {
		c.selected = c.ports[0].Name
	}
	return true
}

func (c *Catalog) Options() []device.PortInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.PortInfo(nil), c.ports...)
}

func (c *Catalog) Select(name string) {
	c.mu.Lock()
	c.selected = name
	c.mu.Unlock()
}

func (c *Catalog) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func sameSet(a, b []device.PortInfo) bool {
	as := make(map[device.PortInfo]struct{}, len(a))
	for _, p := range a {
		as[p] = struct{}{}
	}
	bs := make(map[device.PortInfo]struct{}, len(b))
	for _, p := range b {
		bs[p] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for p := range bs {
		if _, ok := as[p]; !ok {
			return false
		}
	}
	return true
}
