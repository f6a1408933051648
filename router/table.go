// Package router provides the routing, interface and ICMP notification
// collaborators used by rnat.NAT.
package router

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KarpelesLab/rnat"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yl2chen/cidranger"
)

const (
	// DefaultCacheSize is the number of destinations whose route is cached.
	DefaultCacheSize = 4096
	// DefaultCacheTTL bounds how long a cached lookup is reused.
	DefaultCacheTTL = 30 * time.Second
)

var ErrNotIPv4 = errors.New("router: destination is not an IPv4 network")

// entry adapts a route to cidranger.RangerEntry.
type entry struct {
	route rnat.Route
}

func (e entry) Network() net.IPNet {
	return e.route.Destination
}

type lookup struct {
	route rnat.Route
	ok    bool
}

// Table is a longest-prefix-match IPv4 routing table backed by a path
// compressed trie, with a small per-destination cache in front of it.
type Table struct {
	mu     sync.RWMutex
	ranger cidranger.Ranger
	cache  *expirable.LRU[rnat.IPv4, lookup]
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{
		ranger: cidranger.NewPCTrieRanger(),
		cache:  expirable.NewLRU[rnat.IPv4, lookup](DefaultCacheSize, nil, DefaultCacheTTL),
	}
}

// Add inserts r, replacing any route for the same destination network.
func (t *Table) Add(r rnat.Route) error {
	dst, err := normalize(r.Destination)
	if err != nil {
		return err
	}
	r.Destination = dst

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ranger.Insert(entry{route: r}); err != nil {
		return fmt.Errorf("router: insert %s: %w", dst.String(), err)
	}
	t.cache.Purge()
	return nil
}

// Remove deletes the route for dst. It reports whether a route was present.
func (t *Table) Remove(dst net.IPNet) (bool, error) {
	dst, err := normalize(dst)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old, err := t.ranger.Remove(dst)
	if err != nil {
		return false, fmt.Errorf("router: remove %s: %w", dst.String(), err)
	}
	t.cache.Purge()
	return old != nil, nil
}

// FindRoute implements rnat.Router.
func (t *Table) FindRoute(dst rnat.IPv4) (rnat.Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if res, ok := t.cache.Get(dst); ok {
		return res.route, res.ok
	}

	var res lookup
	entries, err := t.ranger.ContainingNetworks(dst.NetIP())
	if err == nil {
		best := -1
		for _, e := range entries {
			r := e.(entry).route
			if ones, _ := r.Destination.Mask.Size(); ones > best {
				best = ones
				res = lookup{route: r, ok: true}
			}
		}
	}
	t.cache.Add(dst, res)
	return res.route, res.ok
}

// Routes returns every route in the table.
func (t *Table) Routes() []rnat.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}
	entries, err := t.ranger.CoveredNetworks(all)
	if err != nil {
		return nil
	}
	res := make([]rnat.Route, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.(entry).route)
	}
	return res
}

// Len returns the number of routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ranger.Len()
}

// ParseRoute builds a route from its textual form, e.g. "0.0.0.0/0",
// "172.64.3.254", "eth2". gateway may be empty for on-link routes.
func ParseRoute(destination, gateway, iface string) (rnat.Route, error) {
	_, dst, err := net.ParseCIDR(destination)
	if err != nil {
		return rnat.Route{}, fmt.Errorf("router: destination: %w", err)
	}
	r := rnat.Route{Destination: *dst, Interface: iface}
	if gateway != "" {
		if r.Gateway, err = rnat.ParseIPv4(gateway); err != nil {
			return rnat.Route{}, fmt.Errorf("router: gateway: %w", err)
		}
	}
	if iface == "" {
		return rnat.Route{}, errors.New("router: route has no interface")
	}
	return r, nil
}

// HostRoute returns the /32 route for ip through iface.
func HostRoute(ip rnat.IPv4, iface string) rnat.Route {
	return rnat.Route{
		Destination: net.IPNet{IP: ip.NetIP().To4(), Mask: net.CIDRMask(32, 32)},
		Interface:   iface,
	}
}

func normalize(n net.IPNet) (net.IPNet, error) {
	ip := n.IP.To4()
	if ip == nil {
		return net.IPNet{}, ErrNotIPv4
	}
	ones, bits := n.Mask.Size()
	switch bits {
	case 32:
	case 128:
		// IPv4 mask in 16-byte form
		if ones < 96 {
			return net.IPNet{}, ErrNotIPv4
		}
		ones -= 96
	default:
		return net.IPNet{}, ErrNotIPv4
	}
	mask := net.CIDRMask(ones, 32)
	return net.IPNet{IP: ip.Mask(mask), Mask: mask}, nil
}
