//go:build linux

// Command rnatd is a software IPv4 router with optional NAT between an
// inside and an outside TUN device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KarpelesLab/rnat"
	"github.com/KarpelesLab/rnat/router"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to the YAML configuration file")
		enableNAT    = flag.Bool("n", false, "enable NAT between the inside and outside interfaces")
		icmpTimeout  = flag.Int("I", 0, "ICMP query timeout in seconds")
		estTimeout   = flag.Int("E", 0, "TCP established idle timeout in seconds")
		transTimeout = flag.Int("R", 0, "TCP transitory idle timeout in seconds")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg.EnableNAT = cfg.EnableNAT || *enableNAT
	if err := cfg.applyTimeouts(*icmpTimeout, *estTimeout, *transTimeout); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rnatd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg daemonConfig, logger *slog.Logger) error {
	if _, err := cfg.interfaces(); err != nil {
		return err
	}

	devices := newDeviceSet()
	defer func() {
		if err := devices.close(); err != nil {
			logger.Warn("failed to close devices", "error", err)
		}
	}()

	dir := router.NewDirectory()
	for _, ic := range cfg.Interfaces {
		dev, err := openDevice(ic, cfg.MTU)
		if err != nil {
			return err
		}
		devices.add(ic.Name, dev)

		iface, err := router.LoadInterface(dev.Name())
		if err != nil {
			return err
		}
		iface.Name = ic.Name
		dir.Set(iface)
		logger.Info("device ready", "name", ic.Name, "address", iface.IP)
	}

	routes, err := cfg.routeTable(dir)
	if err != nil {
		return err
	}
	if cfg.ImportKernelRoutes {
		n, err := router.ImportKernelRoutes(routes, logger.With("component", "routes"))
		if err != nil {
			return err
		}
		logger.Info("imported kernel routes", "count", n)
	}

	notifier := router.NewNotifier(dir, devices, router.DefaultErrorRate, router.DefaultErrorBurst)
	notifier.Logger = logger.With("component", "icmp")

	fwd := &forwarder{
		routes: routes,
		notify: notifier,
		out:    devices,
		local:  dir,
		echo:   notifier,
		log:    logger.With("component", "forward"),
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.EnableNAT {
		nat, err := rnat.New(cfg.NAT, routes, dir, notifier)
		if err != nil {
			return err
		}
		nat.Logger = logger.With("component", "nat")
		fwd.nat = nat
		g.Go(func() error { return nat.Run(ctx) })
		logger.Info("nat enabled", "inside", cfg.NAT.InsideInterface, "outside", cfg.NAT.OutsideInterface)
	}

	for name, dev := range devices.devs {
		g.Go(func() error { return readLoop(ctx, dev, name, cfg.MTU, fwd) })
	}
	g.Go(func() error {
		<-ctx.Done()
		// unblocks the read loops; errors are logged by the deferred close
		devices.close()
		return nil
	})

	return g.Wait()
}

func openDevice(ic interfaceConfig, mtu int) (*water.Interface, error) {
	wc := water.Config{DeviceType: water.TUN}
	wc.Name = ic.Name
	dev, err := water.New(wc)
	if err != nil {
		return nil, fmt.Errorf("create tun device %s: %w", ic.Name, err)
	}

	link, err := netlink.LinkByName(dev.Name())
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("find link %s: %w", dev.Name(), err)
	}
	addr, err := netlink.ParseAddr(ic.Address)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("parse address %s: %w", ic.Address, err)
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		dev.Close()
		return nil, fmt.Errorf("set address on %s: %w", dev.Name(), err)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		dev.Close()
		return nil, fmt.Errorf("set mtu on %s: %w", dev.Name(), err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		dev.Close()
		return nil, fmt.Errorf("bring up %s: %w", dev.Name(), err)
	}
	return dev, nil
}

func readLoop(ctx context.Context, dev io.Reader, name string, mtu int, fwd *forwarder) error {
	buf := make([]byte, mtu)
	for {
		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := fwd.handle(buf[:n], name); err != nil {
			if errors.Is(err, rnat.ErrUnsolicited) {
				continue
			}
			fwd.log.Debug("dropped", "iface", name, "error", err)
		}
	}
}
