package rnat

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"
)

// Test helper functions for creating and manipulating packets

// CreateIPv4TCPPacket creates a test IPv4 packet with TCP header
func CreateIPv4TCPPacket(srcIP, dstIP IPv4, srcPort, dstPort uint16, flags uint8) []byte {
	return CreateIPv4TCPSegment(srcIP, dstIP, srcPort, dstPort, flags, 0, 0, nil)
}

// CreateIPv4TCPSegment creates a TCP segment with sequence numbers and payload
func CreateIPv4TCPSegment(srcIP, dstIP IPv4, srcPort, dstPort uint16, flags uint8, seq, ack uint32, data []byte) []byte {
	totalLen := 40 + len(data)
	packet := make([]byte, totalLen)

	// IPv4 header
	packet[0] = 0x45 // Version 4, IHL 5
	binary.BigEndian.PutUint16(packet[2:4], uint16(totalLen))
	packet[8] = 64 // TTL
	packet[9] = ProtocolTCP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	// TCP header
	binary.BigEndian.PutUint16(packet[20:22], srcPort)
	binary.BigEndian.PutUint16(packet[22:24], dstPort)
	binary.BigEndian.PutUint32(packet[24:28], seq)
	binary.BigEndian.PutUint32(packet[28:32], ack)
	packet[32] = 0x50 // Data offset (5 * 4 = 20 bytes)
	packet[33] = flags
	binary.BigEndian.PutUint16(packet[34:36], 65535)
	copy(packet[40:], data)

	binary.BigEndian.PutUint16(packet[10:12], Checksum(packet[:20]))
	binary.BigEndian.PutUint16(packet[36:38], TCPChecksum(srcIP, dstIP, packet[20:]))

	return packet
}

// CreateIPv4UDPPacket creates a test IPv4 packet with UDP header (checksum left at 0)
func CreateIPv4UDPPacket(srcIP, dstIP IPv4, srcPort, dstPort uint16, data []byte) []byte {
	totalLen := 28 + len(data)
	packet := make([]byte, totalLen)

	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:4], uint16(totalLen))
	packet[8] = 64
	packet[9] = ProtocolUDP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	binary.BigEndian.PutUint16(packet[20:22], srcPort)
	binary.BigEndian.PutUint16(packet[22:24], dstPort)
	binary.BigEndian.PutUint16(packet[24:26], uint16(8+len(data)))
	copy(packet[28:], data)

	binary.BigEndian.PutUint16(packet[10:12], Checksum(packet[:20]))
	return packet
}

// CreateIPv4ICMPPacket creates a test IPv4 packet with ICMP header
func CreateIPv4ICMPPacket(srcIP, dstIP IPv4, icmpType, code uint8, id, seq uint16) []byte {
	packet := make([]byte, 36) // 20 byte IP + 8 byte ICMP + 8 bytes data

	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:4], 36)
	packet[8] = 64
	packet[9] = ProtocolICMP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	packet[20] = icmpType
	packet[21] = code
	binary.BigEndian.PutUint16(packet[24:26], id)
	binary.BigEndian.PutUint16(packet[26:28], seq)
	copy(packet[28:], "pingdata")

	binary.BigEndian.PutUint16(packet[10:12], Checksum(packet[:20]))
	binary.BigEndian.PutUint16(packet[22:24], Checksum(packet[20:]))

	return packet
}

// Test helper to verify checksums
func VerifyIPv4Checksum(packet []byte) bool {
	if len(packet) < 20 {
		return false
	}
	return Checksum(packet[:int(packet[0]&0x0F)*4]) == 0
}

func VerifyTCPChecksum(packet []byte) bool {
	if len(packet) < 40 {
		return false
	}
	srcIP := IPv4{packet[12], packet[13], packet[14], packet[15]}
	dstIP := IPv4{packet[16], packet[17], packet[18], packet[19]}
	return TCPChecksum(srcIP, dstIP, packet[20:]) == 0
}

func VerifyICMPChecksum(packet []byte) bool {
	if len(packet) < 28 {
		return false
	}
	return Checksum(packet[20:]) == 0
}

// Test topology: hosts live in 10.0.1.0/24 behind eth1, everything else is
// reached through eth2 whose address is the NAT's external address.
var (
	InsideIP   = IPv4{10, 0, 1, 1}
	OutsideIP  = IPv4{172, 64, 3, 1}
	InsideHost = IPv4{10, 0, 1, 100}
	RemoteHost = IPv4{8, 8, 8, 8}
)

// FakeRouter does a linear longest-prefix match over its routes.
type FakeRouter struct {
	Routes []Route
}

func (r *FakeRouter) FindRoute(dst IPv4) (Route, bool) {
	best, found := Route{}, false
	bestLen := -1
	for _, rt := range r.Routes {
		if !rt.Destination.Contains(dst.NetIP()) {
			continue
		}
		if ones, _ := rt.Destination.Mask.Size(); ones > bestLen {
			best, bestLen, found = rt, ones, true
		}
	}
	return best, found
}

func mustCIDR(s string) net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return *n
}

// NewFakeRouter returns the routes of the test topology.
func NewFakeRouter() *FakeRouter {
	return &FakeRouter{Routes: []Route{
		{Destination: mustCIDR("10.0.1.0/24"), Interface: "eth1"},
		{Destination: mustCIDR("172.64.3.1/32"), Interface: "eth1"},
		{Destination: mustCIDR("0.0.0.0/0"), Gateway: IPv4{172, 64, 3, 254}, Interface: "eth2"},
	}}
}

type FakeInterfaces map[string]Interface

func (f FakeInterfaces) Interface(name string) (Interface, bool) {
	ifc, ok := f[name]
	return ifc, ok
}

func NewFakeInterfaces() FakeInterfaces {
	return FakeInterfaces{
		"eth1": {Name: "eth1", IP: InsideIP, MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}},
		"eth2": {Name: "eth2", IP: OutsideIP, MAC: net.HardwareAddr{2, 0, 0, 0, 0, 2}},
	}
}

type SentError struct {
	Packet    []byte
	Interface string
	Type      uint8
	Code      uint8
}

// RecordingNotifier records every ICMP error it is asked to send.
type RecordingNotifier struct {
	mu   sync.Mutex
	Sent []SentError
}

func (r *RecordingNotifier) SendICMPError(packet []byte, iface string, typ, code uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, SentError{Packet: packet, Interface: iface, Type: typ, Code: code})
	return nil
}

func (r *RecordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}

// FakeClock is a manually advanced time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewTestNAT returns a NAT on the test topology driven by a fake clock.
func NewTestNAT(tb testing.TB) (*NAT, *FakeClock, *RecordingNotifier) {
	tb.Helper()
	notifier := &RecordingNotifier{}
	n, err := New(DefaultConfig(), NewFakeRouter(), NewFakeInterfaces(), notifier)
	if err != nil {
		tb.Fatalf("New() failed: %v", err)
	}
	clock := NewFakeClock()
	n.Now = clock.Now
	return n, clock, notifier
}
