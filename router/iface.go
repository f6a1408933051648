package router

import (
	"sync"

	"github.com/KarpelesLab/rnat"
)

// Directory is an in-memory set of interfaces implementing rnat.Interfaces.
type Directory struct {
	mu     sync.RWMutex
	ifaces map[string]rnat.Interface
}

func NewDirectory(ifaces ...rnat.Interface) *Directory {
	d := &Directory{ifaces: make(map[string]rnat.Interface, len(ifaces))}
	for _, i := range ifaces {
		d.ifaces[i.Name] = i
	}
	return d
}

// Set adds or replaces an interface.
func (d *Directory) Set(i rnat.Interface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ifaces[i.Name] = i
}

func (d *Directory) Interface(name string) (rnat.Interface, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.ifaces[name]
	return i, ok
}

// ByIP returns the interface configured with ip.
func (d *Directory) ByIP(ip rnat.IPv4) (rnat.Interface, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, i := range d.ifaces {
		if i.IP == ip {
			return i, true
		}
	}
	return rnat.Interface{}, false
}
