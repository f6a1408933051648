//go:build linux

package router

import (
	"fmt"
	"log/slog"
	"net"
	"slices"

	"github.com/KarpelesLab/rnat"
	"github.com/vishvananda/netlink"
)

// LoadInterface reads the first IPv4 address and the hardware address of
// the kernel interface name.
func LoadInterface(name string) (rnat.Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return rnat.Interface{}, fmt.Errorf("router: link %s: %w", name, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return rnat.Interface{}, fmt.Errorf("router: addresses of %s: %w", name, err)
	}
	if len(addrs) == 0 {
		return rnat.Interface{}, fmt.Errorf("router: %s has no IPv4 address", name)
	}
	ip, err := rnat.FromNetIP(addrs[0].IP)
	if err != nil {
		return rnat.Interface{}, err
	}
	return rnat.Interface{Name: name, IP: ip, MAC: link.Attrs().HardwareAddr}, nil
}

// ImportKernelRoutes copies the kernel's IPv4 main routing table into t.
// Routes through interfaces not listed in only are skipped; an empty only
// imports everything. Skipped routes are reported to logger. It returns the
// number of routes added.
func ImportKernelRoutes(t *Table, logger *slog.Logger, only ...string) (int, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return 0, fmt.Errorf("router: list kernel routes: %w", err)
	}
	return importRoutes(t, logger, routes, func(index int) (string, error) {
		link, err := netlink.LinkByIndex(index)
		if err != nil {
			return "", err
		}
		return link.Attrs().Name, nil
	}, only)
}

func importRoutes(t *Table, logger *slog.Logger, routes []netlink.Route, linkName func(int) (string, error), only []string) (int, error) {
	names := make(map[int]string)
	added := 0
	for _, kr := range routes {
		name, ok := names[kr.LinkIndex]
		if !ok {
			var err error
			if name, err = linkName(kr.LinkIndex); err != nil {
				logger.Debug("skipping route on unknown link", "index", kr.LinkIndex, "error", err)
				continue
			}
			names[kr.LinkIndex] = name
		}
		if len(only) > 0 && !slices.Contains(only, name) {
			continue
		}

		r := rnat.Route{Interface: name}
		if kr.Dst != nil {
			r.Destination = *kr.Dst
		} else {
			r.Destination = net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}
		}
		if kr.Gw != nil {
			gw, err := rnat.FromNetIP(kr.Gw)
			if err != nil {
				logger.Debug("skipping route with non-IPv4 gateway", "destination", r.Destination.String(), "gateway", kr.Gw, "error", err)
				continue
			}
			r.Gateway = gw
		}
		if err := t.Add(r); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
