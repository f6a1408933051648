package rnat

import (
	"net"
	"slices"
	"time"
)

// Kind selects the identifier space of a mapping.
type Kind uint8

const (
	KindICMP Kind = iota
	KindTCP
)

func (k Kind) String() string {
	switch k {
	case KindICMP:
		return "icmp"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// TCPState is the coarse lifecycle of one half of a tracked TCP connection.
type TCPState uint8

const (
	StateClosed TCPState = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
)

func (s TCPState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	default:
		return "UNKNOWN"
	}
}

type HalfState struct {
	Seq   uint32
	Ack   uint32
	State TCPState
}

type FourTuple struct {
	SrcIP, DstIP     IPv4
	SrcPort, DstPort uint16
}

// Swap returns the tuple as seen from the other end.
func (t FourTuple) Swap() FourTuple {
	return FourTuple{SrcIP: t.DstIP, DstIP: t.SrcIP, SrcPort: t.DstPort, DstPort: t.SrcPort}
}

// Descriptor carries what the tracker needs from one TCP segment.
type Descriptor struct {
	Tuple FourTuple
	Flags uint8
	Seq   uint32
	Ack   uint32
}

func (d Descriptor) has(flag uint8) bool {
	return d.Flags&flag == flag
}

// Connection is the tracked state of one TCP flow inside a mapping. Src is
// the half that opened the flow, Dst its peer.
type Connection struct {
	Tuple        FourTuple
	Flags        uint8
	Src          HalfState
	Dst          HalfState
	LastActivity time.Time
}

// Established reports whether either half reached StateEstablished.
func (c Connection) Established() bool {
	return c.Src.State == StateEstablished || c.Dst.State == StateEstablished
}

// Mapping is a value snapshot of one NAT binding. Connections is only set
// for KindTCP and is owned by the caller.
type Mapping struct {
	Kind         Kind
	InternalIP   IPv4
	InternalAux  uint16
	ExternalIP   IPv4
	ExternalAux  uint16
	LastActivity time.Time
	Connections  []Connection
}

func (m Mapping) clone() Mapping {
	m.Connections = slices.Clone(m.Connections)
	return m
}

// Route is a routing table entry.
type Route struct {
	Destination net.IPNet
	Gateway     IPv4
	Interface   string
}

// Interface describes a local network interface.
type Interface struct {
	Name string
	IP   IPv4
	MAC  net.HardwareAddr
}

// Router resolves the route for a destination using longest-prefix match.
type Router interface {
	FindRoute(dst IPv4) (Route, bool)
}

// Interfaces looks up local interfaces by name.
type Interfaces interface {
	Interface(name string) (Interface, bool)
}

// Notifier emits ICMP error messages about packet, back out of iface.
type Notifier interface {
	SendICMPError(packet []byte, iface string, typ, code uint8) error
}
