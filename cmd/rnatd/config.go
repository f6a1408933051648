package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/KarpelesLab/rnat"
	"github.com/KarpelesLab/rnat/router"
	"gopkg.in/yaml.v3"
)

const defaultMTU = 1500

type interfaceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"` // CIDR, e.g. 10.0.1.1/24
}

type routeConfig struct {
	Destination string `yaml:"destination"`
	Gateway     string `yaml:"gateway"`
	Interface   string `yaml:"interface"`
}

type daemonConfig struct {
	EnableNAT          bool              `yaml:"enable_nat"`
	NAT                rnat.Config       `yaml:"nat"`
	MTU                int               `yaml:"mtu"`
	Interfaces         []interfaceConfig `yaml:"interfaces"`
	Routes             []routeConfig     `yaml:"routes"`
	ImportKernelRoutes bool              `yaml:"import_kernel_routes"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		NAT: rnat.DefaultConfig(),
		MTU: defaultMTU,
	}
}

func parseDaemonConfig(data []byte) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.validate()
}

// loadDaemonConfig reads path, or returns the defaults when path is empty.
func loadDaemonConfig(path string) (daemonConfig, error) {
	if path == "" {
		cfg := defaultDaemonConfig()
		return cfg, cfg.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return daemonConfig{}, err
	}
	return parseDaemonConfig(data)
}

// applyTimeouts overrides the NAT timeouts with the non-zero command line
// values, given in seconds.
func (c *daemonConfig) applyTimeouts(icmp, established, transitory int) error {
	if icmp > 0 {
		c.NAT.ICMPQueryTimeout = time.Duration(icmp) * time.Second
	}
	if established > 0 {
		c.NAT.TCPEstablishedTimeout = time.Duration(established) * time.Second
	}
	if transitory > 0 {
		c.NAT.TCPTransitoryTimeout = time.Duration(transitory) * time.Second
	}
	return c.validate()
}

func (c daemonConfig) validate() error {
	var errs []error
	if err := c.NAT.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MTU < 576 || c.MTU > 65535 {
		errs = append(errs, fmt.Errorf("mtu %d out of range", c.MTU))
	}
	if _, err := c.interfaces(); err != nil {
		errs = append(errs, err)
	}
	for _, r := range c.Routes {
		if _, err := router.ParseRoute(r.Destination, r.Gateway, r.Interface); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// interfaces returns the configured interfaces. When NAT is enabled, the
// inside and outside interfaces must be among them.
func (c daemonConfig) interfaces() ([]rnat.Interface, error) {
	res := make([]rnat.Interface, 0, len(c.Interfaces))
	seen := make(map[string]bool)
	for _, ic := range c.Interfaces {
		if ic.Name == "" {
			return nil, errors.New("interface without a name")
		}
		if seen[ic.Name] {
			return nil, fmt.Errorf("interface %s declared twice", ic.Name)
		}
		seen[ic.Name] = true

		ip, _, err := net.ParseCIDR(ic.Address)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		addr, err := rnat.FromNetIP(ip)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		res = append(res, rnat.Interface{Name: ic.Name, IP: addr})
	}
	if c.EnableNAT {
		for _, name := range []string{c.NAT.InsideInterface, c.NAT.OutsideInterface} {
			if !seen[name] {
				return nil, fmt.Errorf("nat interface %s is not configured", name)
			}
		}
	}
	return res, nil
}

// routeTable builds the routing table from the configured routes. With NAT
// enabled, the external address is routed to the inside interface so that
// replies arriving on the outside classify as inbound.
func (c daemonConfig) routeTable(ifaces rnat.Interfaces) (*router.Table, error) {
	tbl := router.NewTable()
	for _, rc := range c.Routes {
		r, err := router.ParseRoute(rc.Destination, rc.Gateway, rc.Interface)
		if err != nil {
			return nil, err
		}
		if err := tbl.Add(r); err != nil {
			return nil, err
		}
	}
	if c.EnableNAT {
		outside, ok := ifaces.Interface(c.NAT.OutsideInterface)
		if !ok {
			return nil, fmt.Errorf("unknown outside interface %s", c.NAT.OutsideInterface)
		}
		if err := tbl.Add(router.HostRoute(outside.IP, c.NAT.InsideInterface)); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}
