package rnat

import (
	"fmt"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// IPv4 is an IPv4 address in network byte order.
type IPv4 [4]byte

// String returns the dotted-quad form of the address
func (ip IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// Equal checks if two IPv4 addresses are equal
func (ip IPv4) Equal(other IPv4) bool {
	return ip == other
}

// IsZero checks if the IPv4 address is 0.0.0.0
func (ip IPv4) IsZero() bool {
	return ip == IPv4{}
}

// NetIP returns the address as a 4-byte net.IP.
func (ip IPv4) NetIP() net.IP {
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).To4()
}

func (ip IPv4) addr() tcpip.Address {
	return tcpip.AddrFrom4(ip)
}

// ParseIPv4 parses a string representation of an IPv4 address
func ParseIPv4(s string) (IPv4, error) {
	netIP := net.ParseIP(s)
	if netIP == nil {
		return IPv4{}, fmt.Errorf("invalid IP address: %s", s)
	}
	return FromNetIP(netIP)
}

// FromNetIP converts a net.IP holding an IPv4 (or IPv4-mapped) address.
func FromNetIP(netIP net.IP) (IPv4, error) {
	ipv4 := netIP.To4()
	if ipv4 == nil {
		return IPv4{}, fmt.Errorf("not an IPv4 address: %s", netIP)
	}

	var ip IPv4
	copy(ip[:], ipv4)
	return ip, nil
}
