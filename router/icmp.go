package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/KarpelesLab/rnat"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"
)

const (
	// DefaultErrorRate is the sustained number of ICMP errors per second.
	DefaultErrorRate rate.Limit = 100
	// DefaultErrorBurst is the number of errors allowed in a burst.
	DefaultErrorBurst = 50

	errorTTL = 64
	// quoted bytes of the offending datagram past its IP header
	quoteLen = 8
	// MF bit of the IPv4 flags field
	moreFragments = 0x1
)

var ErrNoSender = errors.New("router: notifier has no sender")

// Sender writes a raw IPv4 datagram out of the named interface.
type Sender interface {
	Send(packet []byte, iface string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(packet []byte, iface string) error

func (f SenderFunc) Send(packet []byte, iface string) error {
	return f(packet, iface)
}

// Notifier builds ICMP error messages about offending datagrams and sends
// them back out of the interface the datagram arrived on. It implements
// rnat.Notifier.
type Notifier struct {
	Logger *slog.Logger

	ifaces  rnat.Interfaces
	out     Sender
	limiter *rate.Limiter
	ident   atomic.Uint32
}

// NewNotifier returns a Notifier sourcing errors from the interface
// addresses found in ifaces, rate limited to limit messages per second.
func NewNotifier(ifaces rnat.Interfaces, out Sender, limit rate.Limit, burst int) *Notifier {
	return &Notifier{
		Logger:  slog.Default(),
		ifaces:  ifaces,
		out:     out,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// SendICMPError implements rnat.Notifier. Errors are never generated about
// ICMP errors or non-initial fragments. Messages over the rate limit are
// dropped without error.
func (n *Notifier) SendICMPError(packet []byte, iface string, typ, code uint8) error {
	if n.out == nil {
		return ErrNoSender
	}
	msg, err := n.Build(packet, iface, typ, code)
	if err != nil || msg == nil {
		return err
	}
	if !n.limiter.Allow() {
		n.Logger.Debug("icmp error rate limited", "iface", iface, "type", typ, "code", code)
		return nil
	}
	return n.out.Send(msg, iface)
}

// Build returns the full IPv4 datagram carrying the ICMP error, or nil if
// no error must be generated for packet.
func (n *Notifier) Build(packet []byte, iface string, typ, code uint8) ([]byte, error) {
	orig, err := rnat.ParseIPv4Header(packet)
	if err != nil {
		return nil, fmt.Errorf("router: offending datagram: %w", err)
	}
	if orig.FragmentOffset != 0 {
		return nil, nil
	}
	if orig.Protocol == rnat.ProtocolICMP && len(packet) > orig.HeaderLen() {
		switch packet[orig.HeaderLen()] {
		case rnat.ICMPTypeEchoRequest, rnat.ICMPTypeEchoReply:
		default:
			return nil, nil
		}
	}

	src, ok := n.ifaces.Interface(iface)
	if !ok {
		return nil, fmt.Errorf("router: unknown interface %s", iface)
	}

	quote := packet[:min(len(packet), orig.HeaderLen()+quoteLen)]
	var body icmp.MessageBody
	switch typ {
	case rnat.ICMPTypeTimeExceeded:
		body = &icmp.TimeExceeded{Data: quote}
	case rnat.ICMPTypeDestinationUnreachable:
		body = &icmp.DstUnreach{Data: quote}
	default:
		return nil, fmt.Errorf("router: unsupported icmp error type %d", typ)
	}
	m := icmp.Message{Type: ipv4.ICMPType(typ), Code: int(code), Body: body}
	payload, err := m.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("router: marshal icmp: %w", err)
	}

	out := make([]byte, 20+len(payload))
	h := rnat.IPv4Header{
		Version:        4,
		IHL:            5,
		TotalLength:    uint16(len(out)),
		Identification: uint16(n.ident.Add(1)),
		TTL:            errorTTL,
		Protocol:       rnat.ProtocolICMP,
		SourceIP:       src.IP,
		DestinationIP:  orig.SourceIP,
	}
	h.Marshal(out)
	copy(out[20:], payload)
	return out, nil
}

// EchoReply returns the datagram answering an echo request addressed to
// one of the router's interfaces, or nil if packet is not an echo request.
// The reply is sourced from the address the request was sent to.
func (n *Notifier) EchoReply(packet []byte) ([]byte, error) {
	req, err := rnat.ParseIPv4Header(packet)
	if err != nil {
		return nil, fmt.Errorf("router: echo request: %w", err)
	}
	if req.Protocol != rnat.ProtocolICMP || req.FragmentOffset != 0 || req.Flags&moreFragments != 0 {
		return nil, nil
	}
	if int(req.TotalLength) > len(packet) || int(req.TotalLength) < req.HeaderLen() {
		return nil, fmt.Errorf("router: echo request: bad total length %d", req.TotalLength)
	}
	m, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), packet[req.HeaderLen():req.TotalLength])
	if err != nil {
		return nil, fmt.Errorf("router: echo request: %w", err)
	}
	echo, ok := m.Body.(*icmp.Echo)
	if m.Type != ipv4.ICMPTypeEcho || !ok {
		return nil, nil
	}

	reply := icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: echo.Data},
	}
	payload, err := reply.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("router: marshal icmp: %w", err)
	}

	out := make([]byte, 20+len(payload))
	h := rnat.IPv4Header{
		Version:        4,
		IHL:            5,
		TotalLength:    uint16(len(out)),
		Identification: uint16(n.ident.Add(1)),
		TTL:            errorTTL,
		Protocol:       rnat.ProtocolICMP,
		SourceIP:       req.DestinationIP,
		DestinationIP:  req.SourceIP,
	}
	h.Marshal(out)
	copy(out[20:], payload)
	return out, nil
}
