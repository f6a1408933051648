package rnat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NAT translates ICMP echo and TCP traffic between the inside and the
// outside interface. All of its methods are safe for concurrent use.
type NAT struct {
	// Now returns the current time. Defaults to time.Now but can be
	// overridden, e.g. by tests.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	cfg    Config
	routes Router
	ifaces Interfaces
	notify Notifier

	mu    sync.Mutex
	table *table
	queue queue
}

// New creates a NAT instance. notify may be nil, in which case expired
// unsolicited segments are dropped silently.
func New(cfg Config, routes Router, ifaces Interfaces, notify Notifier) (*NAT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if routes == nil || ifaces == nil {
		return nil, errors.New("a router and an interface directory are required")
	}
	return &NAT{
		Now:    time.Now,
		Logger: slog.Default(),
		cfg:    cfg,
		routes: routes,
		ifaces: ifaces,
		notify: notify,
		table:  newTable(cfg.PortMin, cfg.ICMPIDMin),
	}, nil
}

// Config returns the configuration the instance was created with.
func (n *NAT) Config() Config {
	return n.cfg
}

// LookupExternal returns the mapping owning the external identifier aux,
// refreshing its activity time.
func (n *NAT) LookupExternal(aux uint16, kind Kind) (Mapping, bool) {
	now := n.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.lookupExternal(aux, kind, now)
}

// LookupInternal returns the mapping for (ip, aux). For TCP the segment
// described by d is applied to the matching connection, or starts a new
// one. d is ignored for ICMP.
func (n *NAT) LookupInternal(ip IPv4, aux uint16, kind Kind, d Descriptor) (Mapping, bool) {
	now := n.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.lookupInternal(ip, aux, kind, d, now)
}

// Insert creates the mapping for (ip, aux) with external address ext and
// the next free external identifier. If the mapping already exists it is
// returned unchanged.
func (n *NAT) Insert(ip IPv4, aux uint16, ext IPv4, kind Kind, d Descriptor) (Mapping, error) {
	now := n.Now()
	n.mu.Lock()
	m, created, err := n.table.insert(ip, aux, ext, kind, d, now)
	n.mu.Unlock()
	if err != nil {
		return Mapping{}, err
	}
	if created {
		n.logCreated(m)
	}
	return m, nil
}

// Enqueue holds an inbound TCP segment that matched no mapping.
func (n *NAT) Enqueue(packet []byte, iface string) error {
	ip, err := ParseIPv4Header(packet)
	if err != nil {
		return fmt.Errorf("failed to parse IP header: %w", err)
	}
	if ip.Protocol != ProtocolTCP {
		return fmt.Errorf("only TCP segments can be queued, got protocol %d", ip.Protocol)
	}
	end := ip.payloadEnd(packet)
	tcp, err := ParseTCPHeader(packet[:end], ip.HeaderLen())
	if err != nil {
		return fmt.Errorf("failed to parse TCP header: %w", err)
	}

	now := n.Now()
	n.mu.Lock()
	n.queue.enqueue(packet[:end], iface, tcp.DestinationPort, now)
	n.mu.Unlock()
	return nil
}

// Release discards the queued segments for external port and returns how
// many were dropped.
func (n *NAT) Release(port uint16) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue.release(port)
}

// Snapshot returns a copy of every live mapping, ordered by kind then
// external identifier.
func (n *NAT) Snapshot() []Mapping {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.snapshot()
}

// Pending returns the number of queued unsolicited segments.
func (n *NAT) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue.size()
}

type direction uint8

const (
	outbound direction = iota + 1
	inbound
)

// direction classifies a packet by the egress interface of the route to dst
// and the interface it arrived on.
func (n *NAT) direction(dst IPv4, iface string) (direction, error) {
	rt, ok := n.routes.FindRoute(dst)
	if !ok {
		return 0, ErrNoRoute
	}
	switch {
	case iface == n.cfg.InsideInterface && rt.Interface == n.cfg.OutsideInterface:
		return outbound, nil
	case iface == n.cfg.OutsideInterface && rt.Interface == n.cfg.InsideInterface:
		return inbound, nil
	}
	return 0, ErrDirectionIndeterminate
}

func (n *NAT) externalIP() (IPv4, error) {
	ifc, ok := n.ifaces.Interface(n.cfg.OutsideInterface)
	if !ok {
		return IPv4{}, fmt.Errorf("%w: outside interface %q not found", ErrDropPacket, n.cfg.OutsideInterface)
	}
	return ifc.IP, nil
}

// outboundMapping looks up the mapping for an outbound packet, creating it
// when missing. A SYN releases queued segments for the external port.
func (n *NAT) outboundMapping(ip IPv4, aux uint16, kind Kind, d Descriptor, now time.Time) (Mapping, error) {
	ext, err := n.externalIP()
	if err != nil {
		return Mapping{}, err
	}

	n.mu.Lock()
	m, ok := n.table.lookupInternal(ip, aux, kind, d, now)
	created := false
	if !ok {
		m, created, err = n.table.insert(ip, aux, ext, kind, d, now)
		if err != nil {
			n.mu.Unlock()
			return Mapping{}, fmt.Errorf("%w: %w", ErrDropPacket, err)
		}
	}
	released := 0
	if kind == KindTCP && d.has(TCPFlagSYN) {
		released = n.queue.release(m.ExternalAux)
	}
	n.mu.Unlock()

	if created {
		n.logCreated(m)
	}
	if released > 0 {
		n.Logger.Debug("released unsolicited segments", "port", m.ExternalAux, "count", released)
	}
	return m, nil
}

func (n *NAT) logCreated(m Mapping) {
	n.Logger.Debug("mapping created",
		"kind", m.Kind,
		"internal", fmt.Sprintf("%s:%d", m.InternalIP, m.InternalAux),
		"external", fmt.Sprintf("%s:%d", m.ExternalIP, m.ExternalAux))
}

// Translate rewrites packet, received on iface, in place. A nil error means
// the packet is to be forwarded; errors matching ErrDropPacket mean it must
// be dropped. Protocols other than ICMP and TCP, and ICMP messages other
// than echo request/reply, are left untouched. The packet is only modified
// once the forwarding decision is made.
func (n *NAT) Translate(packet []byte, iface string) error {
	ip, err := ParseIPv4Header(packet)
	if err != nil {
		return fmt.Errorf("failed to parse IP header: %w", err)
	}

	switch ip.Protocol {
	case ProtocolICMP:
		return n.translateICMP(packet, ip, iface)
	case ProtocolTCP:
		return n.translateTCP(packet, ip, iface)
	default:
		return nil
	}
}

func (n *NAT) translateICMP(packet []byte, ip *IPv4Header, iface string) error {
	hl := ip.HeaderLen()
	end := ip.payloadEnd(packet)
	icmp, err := ParseICMPHeader(packet[:end], hl)
	if err != nil {
		return fmt.Errorf("failed to parse ICMP header: %w", err)
	}
	if !icmp.IsEcho() {
		return nil
	}

	dir, err := n.direction(ip.DestinationIP, iface)
	if err != nil {
		n.Logger.Debug("icmp dropped", "src", ip.SourceIP, "dst", ip.DestinationIP, "iface", iface, "error", err)
		return err
	}

	now := n.Now()
	switch dir {
	case outbound:
		m, err := n.outboundMapping(ip.SourceIP, icmp.ID, KindICMP, Descriptor{}, now)
		if err != nil {
			return err
		}
		ip.SourceIP = m.ExternalIP
		icmp.ID = m.ExternalAux
	case inbound:
		m, ok := n.LookupExternal(icmp.ID, KindICMP)
		if !ok {
			n.Logger.Debug("icmp without mapping", "src", ip.SourceIP, "id", icmp.ID)
			return ErrNoMapping
		}
		ip.DestinationIP = m.InternalIP
		icmp.ID = m.InternalAux
	}

	ip.Marshal(packet)
	icmp.Checksum = 0
	icmp.Marshal(packet, hl)
	icmp.Checksum = Checksum(packet[hl:end])
	binary.BigEndian.PutUint16(packet[hl+2:hl+4], icmp.Checksum)
	return nil
}

func (n *NAT) translateTCP(packet []byte, ip *IPv4Header, iface string) error {
	hl := ip.HeaderLen()
	end := ip.payloadEnd(packet)
	tcp, err := ParseTCPHeader(packet[:end], hl)
	if err != nil {
		return fmt.Errorf("failed to parse TCP header: %w", err)
	}

	dir, err := n.direction(ip.DestinationIP, iface)
	if err != nil {
		n.Logger.Debug("tcp dropped", "src", ip.SourceIP, "dst", ip.DestinationIP, "iface", iface, "error", err)
		return err
	}

	now := n.Now()
	switch dir {
	case outbound:
		d := Descriptor{
			Tuple: FourTuple{
				SrcIP:   ip.SourceIP,
				DstIP:   ip.DestinationIP,
				SrcPort: tcp.SourcePort,
				DstPort: tcp.DestinationPort,
			},
			Flags: tcp.Flags,
			Seq:   tcp.Sequence,
			Ack:   tcp.Acknowledgment,
		}
		m, err := n.outboundMapping(ip.SourceIP, tcp.SourcePort, KindTCP, d, now)
		if err != nil {
			return err
		}
		ip.SourceIP = m.ExternalIP
		tcp.SourcePort = m.ExternalAux
	case inbound:
		n.mu.Lock()
		m, ok := n.table.lookupExternal(tcp.DestinationPort, KindTCP, now)
		if !ok {
			n.queue.enqueue(packet[:end], iface, tcp.DestinationPort, now)
			n.mu.Unlock()
			n.Logger.Debug("unsolicited tcp segment queued", "src", ip.SourceIP, "port", tcp.DestinationPort, "iface", iface)
			return ErrUnsolicited
		}
		// the segment is the reply direction of a connection opened from
		// the inside
		reply := Descriptor{
			Tuple: FourTuple{
				SrcIP:   m.InternalIP,
				DstIP:   ip.SourceIP,
				SrcPort: m.InternalAux,
				DstPort: tcp.SourcePort,
			},
			Flags: tcp.Flags,
			Seq:   tcp.Sequence,
			Ack:   tcp.Acknowledgment,
		}
		n.table.updateInbound(m.ExternalAux, reply, now)
		n.mu.Unlock()

		ip.DestinationIP = m.InternalIP
		tcp.DestinationPort = m.InternalAux
	}

	ip.Marshal(packet)
	tcp.Checksum = 0
	tcp.Marshal(packet, hl)
	tcp.Checksum = TCPChecksum(ip.SourceIP, ip.DestinationIP, packet[hl:end])
	binary.BigEndian.PutUint16(packet[hl+16:hl+18], tcp.Checksum)
	return nil
}
