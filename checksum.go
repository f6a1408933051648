package rnat

import (
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// Checksum returns the Internet checksum (RFC 1071) of b. Computing it over
// a span whose checksum field already holds the correct value yields 0.
func Checksum(b []byte) uint16 {
	return ^checksum.Checksum(b, 0)
}

// TCPChecksum returns the TCP checksum of segment (header and payload)
// including the pseudo-header built from src, dst, the TCP protocol number
// and the segment length.
func TCPChecksum(src, dst IPv4, segment []byte) uint16 {
	xsum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, src.addr(), dst.addr(), uint16(len(segment)))
	return ^checksum.Checksum(segment, xsum)
}
