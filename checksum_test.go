package rnat

import (
	"encoding/binary"
	"testing"
)

func TestChecksumKnownHeader(t *testing.T) {
	header := []byte{
		0x45, 0x00, 0x00, 0x73,
		0x00, 0x00, 0x40, 0x00,
		0x40, 0x11, 0x00, 0x00, // checksum zeroed
		0xc0, 0xa8, 0x00, 0x01,
		0xc0, 0xa8, 0x00, 0xc7,
	}

	if got := Checksum(header); got != 0xb861 {
		t.Fatalf("Checksum() = %#04x, want 0xb861", got)
	}

	binary.BigEndian.PutUint16(header[10:12], 0xb861)
	if got := Checksum(header); got != 0 {
		t.Errorf("Checksum() over a valid header = %#04x, want 0", got)
	}
}

func TestChecksumOddLength(t *testing.T) {
	// trailing byte is padded with a zero low byte
	if got, want := Checksum([]byte{0x01, 0x02, 0x03}), ^uint16(0x0102+0x0300); got != want {
		t.Errorf("Checksum() = %#04x, want %#04x", got, want)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	packets := map[string][]byte{
		"tcp syn":      CreateIPv4TCPPacket(InsideHost, RemoteHost, 4000, 80, TCPFlagSYN),
		"tcp payload":  CreateIPv4TCPSegment(RemoteHost, OutsideIP, 80, 1024, TCPFlagACK|TCPFlagPSH, 77, 1001, []byte("odd")),
		"icmp request": CreateIPv4ICMPPacket(InsideHost, RemoteHost, ICMPTypeEchoRequest, 0, 9, 1),
	}

	for name, packet := range packets {
		t.Run(name, func(t *testing.T) {
			stored := binary.BigEndian.Uint16(packet[10:12])
			binary.BigEndian.PutUint16(packet[10:12], 0)
			if got := Checksum(packet[:20]); got != stored {
				t.Errorf("recomputed IP checksum %#04x, stored %#04x", got, stored)
			}
			binary.BigEndian.PutUint16(packet[10:12], stored)
			if !VerifyIPv4Checksum(packet) {
				t.Error("IP checksum does not verify")
			}
		})
	}
}

func TestTCPChecksumPseudoHeader(t *testing.T) {
	packet := CreateIPv4TCPSegment(InsideHost, RemoteHost, 4000, 80, TCPFlagSYN, 1000, 0, []byte("hello"))
	if !VerifyTCPChecksum(packet) {
		t.Fatal("freshly built segment does not verify")
	}

	// Same segment, different addresses: the pseudo-header must change the sum.
	stored := binary.BigEndian.Uint16(packet[36:38])
	binary.BigEndian.PutUint16(packet[36:38], 0)
	if got := TCPChecksum(OutsideIP, RemoteHost, packet[20:]); got == stored {
		t.Error("TCPChecksum() ignores the source address")
	}
	if got := TCPChecksum(InsideHost, RemoteHost, packet[20:]); got != stored {
		t.Errorf("TCPChecksum() = %#04x, want %#04x", got, stored)
	}
}

func TestTCPChecksumManual(t *testing.T) {
	segment := CreateIPv4TCPSegment(InsideHost, RemoteHost, 4000, 80, TCPFlagACK, 5, 6, []byte{0xab})[20:]
	binary.BigEndian.PutUint16(segment[16:18], 0)

	pseudo := make([]byte, 12, 12+len(segment))
	copy(pseudo[0:4], InsideHost[:])
	copy(pseudo[4:8], RemoteHost[:])
	pseudo[9] = ProtocolTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
	want := Checksum(append(pseudo, segment...))

	if got := TCPChecksum(InsideHost, RemoteHost, segment); got != want {
		t.Errorf("TCPChecksum() = %#04x, want %#04x", got, want)
	}
}
