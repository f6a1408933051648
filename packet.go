package rnat

import (
	"encoding/binary"
	"fmt"
)

const (
	ProtocolICMP = 1
	ProtocolTCP  = 6
	ProtocolUDP  = 17
)

const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
)

const (
	ICMPTypeEchoReply              = 0
	ICMPTypeDestinationUnreachable = 3
	ICMPTypeEchoRequest            = 8
	ICMPTypeTimeExceeded           = 11
)

// Destination unreachable codes.
const (
	ICMPCodeNetUnreachable  = 0
	ICMPCodeHostUnreachable = 1
	ICMPCodePortUnreachable = 3
)

const (
	ipv4MinHeaderLen = 20
	tcpMinHeaderLen  = 20
	icmpEchoLen      = 8
)

type IPv4Header struct {
	Version        uint8
	IHL            uint8
	TypeOfService  uint8
	TotalLength    uint16
	Identification uint16
	Flags          uint8
	FragmentOffset uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	SourceIP       IPv4
	DestinationIP  IPv4
}

func ParseIPv4Header(packet []byte) (*IPv4Header, error) {
	if len(packet) < ipv4MinHeaderLen {
		return nil, fmt.Errorf("packet too short for IPv4 header")
	}

	h := &IPv4Header{}
	h.Version = packet[0] >> 4
	h.IHL = packet[0] & 0x0F

	if h.Version != 4 {
		return nil, fmt.Errorf("not an IPv4 packet")
	}

	headerLen := int(h.IHL) * 4
	if headerLen < ipv4MinHeaderLen || len(packet) < headerLen {
		return nil, fmt.Errorf("invalid header length")
	}

	h.TypeOfService = packet[1]
	h.TotalLength = binary.BigEndian.Uint16(packet[2:4])
	h.Identification = binary.BigEndian.Uint16(packet[4:6])
	flagsAndOffset := binary.BigEndian.Uint16(packet[6:8])
	h.Flags = uint8(flagsAndOffset >> 13)
	h.FragmentOffset = flagsAndOffset & 0x1FFF
	h.TTL = packet[8]
	h.Protocol = packet[9]
	h.Checksum = binary.BigEndian.Uint16(packet[10:12])
	copy(h.SourceIP[:], packet[12:16])
	copy(h.DestinationIP[:], packet[16:20])

	return h, nil
}

// HeaderLen returns the header length in bytes, options included.
func (h *IPv4Header) HeaderLen() int {
	return int(h.IHL) * 4
}

// Marshal writes the fixed 20 bytes of the header into packet and stores a
// freshly computed checksum over the whole header (options are left as they
// are in packet).
func (h *IPv4Header) Marshal(packet []byte) {
	packet[0] = (h.Version << 4) | h.IHL
	packet[1] = h.TypeOfService
	binary.BigEndian.PutUint16(packet[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(packet[4:6], h.Identification)
	binary.BigEndian.PutUint16(packet[6:8], (uint16(h.Flags)<<13)|h.FragmentOffset)
	packet[8] = h.TTL
	packet[9] = h.Protocol
	binary.BigEndian.PutUint16(packet[10:12], 0)
	copy(packet[12:16], h.SourceIP[:])
	copy(packet[16:20], h.DestinationIP[:])

	h.Checksum = Checksum(packet[:h.HeaderLen()])
	binary.BigEndian.PutUint16(packet[10:12], h.Checksum)
}

// payloadEnd returns the end of the IP datagram inside packet: the declared
// total length when it fits, otherwise the buffer length.
func (h *IPv4Header) payloadEnd(packet []byte) int {
	if tl := int(h.TotalLength); tl >= h.HeaderLen() && tl <= len(packet) {
		return tl
	}
	return len(packet)
}

type TCPHeader struct {
	SourcePort      uint16
	DestinationPort uint16
	Sequence        uint32
	Acknowledgment  uint32
	DataOffset      uint8
	Flags           uint8
	Window          uint16
	Checksum        uint16
	Urgent          uint16
}

func ParseTCPHeader(packet []byte, offset int) (*TCPHeader, error) {
	if offset < 0 || len(packet) < offset+tcpMinHeaderLen {
		return nil, fmt.Errorf("packet too short for TCP header")
	}

	h := &TCPHeader{}
	h.SourcePort = binary.BigEndian.Uint16(packet[offset : offset+2])
	h.DestinationPort = binary.BigEndian.Uint16(packet[offset+2 : offset+4])
	h.Sequence = binary.BigEndian.Uint32(packet[offset+4 : offset+8])
	h.Acknowledgment = binary.BigEndian.Uint32(packet[offset+8 : offset+12])
	h.DataOffset = packet[offset+12] >> 4
	h.Flags = packet[offset+13]
	h.Window = binary.BigEndian.Uint16(packet[offset+14 : offset+16])
	h.Checksum = binary.BigEndian.Uint16(packet[offset+16 : offset+18])
	h.Urgent = binary.BigEndian.Uint16(packet[offset+18 : offset+20])

	return h, nil
}

func (h *TCPHeader) Marshal(packet []byte, offset int) {
	binary.BigEndian.PutUint16(packet[offset:offset+2], h.SourcePort)
	binary.BigEndian.PutUint16(packet[offset+2:offset+4], h.DestinationPort)
	binary.BigEndian.PutUint32(packet[offset+4:offset+8], h.Sequence)
	binary.BigEndian.PutUint32(packet[offset+8:offset+12], h.Acknowledgment)
	packet[offset+12] = h.DataOffset<<4 | packet[offset+12]&0x0F
	packet[offset+13] = h.Flags
	binary.BigEndian.PutUint16(packet[offset+14:offset+16], h.Window)
	binary.BigEndian.PutUint16(packet[offset+16:offset+18], h.Checksum)
	binary.BigEndian.PutUint16(packet[offset+18:offset+20], h.Urgent)
}

// Has reports whether every bit of flag is set.
func (h *TCPHeader) Has(flag uint8) bool {
	return h.Flags&flag == flag
}

// ICMPHeader is the echo request/reply layout: the ID and Sequence fields
// only carry meaning for types 0 and 8.
type ICMPHeader struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Sequence uint16
}

func ParseICMPHeader(packet []byte, offset int) (*ICMPHeader, error) {
	if offset < 0 || len(packet) < offset+icmpEchoLen {
		return nil, fmt.Errorf("packet too short for ICMP header")
	}

	h := &ICMPHeader{}
	h.Type = packet[offset]
	h.Code = packet[offset+1]
	h.Checksum = binary.BigEndian.Uint16(packet[offset+2 : offset+4])
	h.ID = binary.BigEndian.Uint16(packet[offset+4 : offset+6])
	h.Sequence = binary.BigEndian.Uint16(packet[offset+6 : offset+8])

	return h, nil
}

func (h *ICMPHeader) Marshal(packet []byte, offset int) {
	packet[offset] = h.Type
	packet[offset+1] = h.Code
	binary.BigEndian.PutUint16(packet[offset+2:offset+4], h.Checksum)
	binary.BigEndian.PutUint16(packet[offset+4:offset+6], h.ID)
	binary.BigEndian.PutUint16(packet[offset+6:offset+8], h.Sequence)
}

// IsEcho reports whether the message is an echo request or reply.
func (h *ICMPHeader) IsEcho() bool {
	return h.Type == ICMPTypeEchoRequest || h.Type == ICMPTypeEchoReply
}
