package rnat

import (
	"fmt"
	"testing"
	"time"
)

func BenchmarkParseIPv4Header(b *testing.B) {
	packet := make([]byte, 60)
	packet[0] = 0x45 // Version 4, IHL 5
	packet[9] = 6    // TCP

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseIPv4Header(packet)
	}
}

func BenchmarkParseTCPHeader(b *testing.B) {
	packet := make([]byte, 40)
	packet[0] = 0x45 // Version 4, IHL 5

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseTCPHeader(packet, 20)
	}
}

func BenchmarkIPv4ToString(b *testing.B) {
	ip := IPv4{192, 168, 1, 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ip.String()
	}
}

func BenchmarkParseIPv4(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseIPv4("192.168.1.1")
	}
}

func BenchmarkTranslateOutbound(b *testing.B) {
	nat, _, _ := NewTestNAT(b)

	// Pre-create packets
	packets := make([][]byte, 100)
	for i := range packets {
		srcIP := IPv4{10, 0, 1, byte(i)}
		packets[i] = CreateIPv4TCPPacket(srcIP, RemoteHost, uint16(10000+i), 80, TCPFlagACK)
	}

	packet := make([]byte, 40)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(packet, packets[i%100])
		nat.Translate(packet, "eth1")
	}
}

func BenchmarkTranslateInbound(b *testing.B) {
	nat, _, _ := NewTestNAT(b)

	// Setup connections first
	responses := make([][]byte, 100)
	for i := range responses {
		srcIP := IPv4{10, 0, 1, byte(i)}
		packet := CreateIPv4TCPPacket(srcIP, RemoteHost, uint16(10000+i), 80, TCPFlagSYN)
		if err := nat.Translate(packet, "eth1"); err != nil {
			b.Fatal(err)
		}
		tcp, _ := ParseTCPHeader(packet, 20)
		responses[i] = CreateIPv4TCPPacket(RemoteHost, OutsideIP, 80, tcp.SourcePort, TCPFlagACK)
	}

	packet := make([]byte, 40)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(packet, responses[i%100])
		nat.Translate(packet, "eth2")
	}
}

func BenchmarkTranslateICMP(b *testing.B) {
	nat, _, _ := NewTestNAT(b)
	ping := CreateIPv4ICMPPacket(InsideHost, RemoteHost, ICMPTypeEchoRequest, 0, 1, 1)

	packet := make([]byte, len(ping))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(packet, ping)
		nat.Translate(packet, "eth1")
	}
}

func BenchmarkRunMaintenance(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("mappings=%d", size), func(b *testing.B) {
			nat, clock, _ := NewTestNAT(b)
			for i := range size {
				srcIP := IPv4{10, 0, byte(i >> 8), byte(i)}
				nat.Translate(CreateIPv4TCPPacket(srcIP, RemoteHost, 10000, 80, TCPFlagSYN), "eth1")
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				// nothing expires, every mapping is visited
				nat.RunMaintenance(clock.Now().Add(time.Second))
			}
		})
	}
}

func BenchmarkChecksum(b *testing.B) {
	packet := CreateIPv4TCPSegment(InsideHost, RemoteHost, 4000, 80, TCPFlagACK, 1, 1, make([]byte, 1400))

	b.Run("ip", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Checksum(packet[:20])
		}
	})
	b.Run("tcp", func(b *testing.B) {
		b.SetBytes(int64(len(packet) - 20))
		for i := 0; i < b.N; i++ {
			_ = TCPChecksum(InsideHost, RemoteHost, packet[20:])
		}
	})
}

func BenchmarkConcurrentTranslate(b *testing.B) {
	nat, _, _ := NewTestNAT(b)

	b.RunParallel(func(pb *testing.PB) {
		packet := make([]byte, 40)
		i := 0
		for pb.Next() {
			srcIP := IPv4{10, 0, 1, byte(i % 250)}
			copy(packet, CreateIPv4TCPPacket(srcIP, RemoteHost, uint16(20000+i%1000), 80, TCPFlagACK))
			nat.Translate(packet, "eth1")
			i++
		}
	})
}
