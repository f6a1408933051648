package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/KarpelesLab/rnat"
	"github.com/KarpelesLab/rnat/router"
)

var (
	errBadChecksum = errors.New("bad ip header checksum")
	errTruncated   = errors.New("datagram shorter than its total length")
	errTTLExpired  = errors.New("ttl expired in transit")
	errLocalPort   = errors.New("no service on router address")
	errLocalDrop   = errors.New("unhandled datagram for router address")
)

// localAddresses resolves the router's own addresses.
type localAddresses interface {
	ByIP(ip rnat.IPv4) (rnat.Interface, bool)
}

type echoResponder interface {
	EchoReply(packet []byte) ([]byte, error)
}

// forwarder moves datagrams between devices: sanity checks, TTL, local
// delivery, optional translation, route lookup and hand-off to the egress
// device.
type forwarder struct {
	nat    *rnat.NAT // nil when running as a plain router
	routes rnat.Router
	notify rnat.Notifier
	out    router.Sender
	local  localAddresses
	echo   echoResponder
	log    *slog.Logger
}

// handle processes one datagram received on iface. A nil return means the
// datagram, or the router's echo reply to it, was sent; any error means it
// was dropped.
func (f *forwarder) handle(packet []byte, iface string) error {
	h, err := rnat.ParseIPv4Header(packet)
	if err != nil {
		return fmt.Errorf("failed to parse IP header: %w", err)
	}
	if int(h.TotalLength) < h.HeaderLen() || int(h.TotalLength) > len(packet) {
		return errTruncated
	}
	packet = packet[:h.TotalLength]
	if rnat.Checksum(packet[:h.HeaderLen()]) != 0 {
		return errBadChecksum
	}
	if h.TTL <= 1 {
		f.icmpError(packet, iface, rnat.ICMPTypeTimeExceeded, 0)
		return errTTLExpired
	}

	if f.forRouter(packet, h, iface) {
		return f.deliverLocal(packet, h, iface)
	}

	if f.nat != nil {
		if err := f.nat.Translate(packet, iface); err != nil {
			if errors.Is(err, rnat.ErrNoRoute) {
				f.icmpError(packet, iface, rnat.ICMPTypeDestinationUnreachable, rnat.ICMPCodeNetUnreachable)
			}
			return err
		}
		// addresses may have been rewritten
		if h, err = rnat.ParseIPv4Header(packet); err != nil {
			return err
		}
	}

	route, ok := f.routes.FindRoute(h.DestinationIP)
	if !ok {
		f.icmpError(packet, iface, rnat.ICMPTypeDestinationUnreachable, rnat.ICMPCodeNetUnreachable)
		return rnat.ErrNoRoute
	}

	h.TTL--
	h.Marshal(packet)
	return f.out.Send(packet, route.Interface)
}

// forRouter reports whether the datagram is addressed to one of the
// router's interfaces. With NAT enabled, traffic arriving on the outside
// interface for the external address belongs to the translator, except for
// echo requests which the router answers itself.
func (f *forwarder) forRouter(packet []byte, h *rnat.IPv4Header, iface string) bool {
	if f.local == nil {
		return false
	}
	dst, ok := f.local.ByIP(h.DestinationIP)
	if !ok {
		return false
	}
	if f.nat == nil {
		return true
	}
	outside := f.nat.Config().OutsideInterface
	if iface != outside || dst.Name != outside {
		return true
	}
	return h.Protocol == rnat.ProtocolICMP && len(packet) > h.HeaderLen() &&
		packet[h.HeaderLen()] == rnat.ICMPTypeEchoRequest
}

// deliverLocal answers echo requests and refuses TCP and UDP with a port
// unreachable. Anything else addressed to the router is dropped.
func (f *forwarder) deliverLocal(packet []byte, h *rnat.IPv4Header, iface string) error {
	switch h.Protocol {
	case rnat.ProtocolICMP:
		if f.echo == nil {
			return errLocalDrop
		}
		reply, err := f.echo.EchoReply(packet)
		if err != nil {
			return err
		}
		if reply == nil {
			return errLocalDrop
		}
		egress := iface
		if route, ok := f.routes.FindRoute(h.SourceIP); ok {
			egress = route.Interface
		}
		return f.out.Send(reply, egress)
	case rnat.ProtocolTCP, rnat.ProtocolUDP:
		f.icmpError(packet, iface, rnat.ICMPTypeDestinationUnreachable, rnat.ICMPCodePortUnreachable)
		return errLocalPort
	default:
		return errLocalDrop
	}
}

func (f *forwarder) icmpError(packet []byte, iface string, typ, code uint8) {
	if f.notify == nil {
		return
	}
	if err := f.notify.SendICMPError(packet, iface, typ, code); err != nil {
		f.log.Warn("failed to send icmp error", "iface", iface, "type", typ, "code", code, "error", err)
	}
}
