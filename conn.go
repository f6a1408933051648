package rnat

import "time"

// newConnection seeds a connection from the first segment seen for its
// 4-tuple.
func newConnection(d Descriptor, now time.Time) Connection {
	c := Connection{
		Tuple:        d.Tuple,
		Flags:        d.Flags,
		Src:          HalfState{Ack: d.Ack, State: StateClosed},
		Dst:          HalfState{State: StateClosed},
		LastActivity: now,
	}
	if d.has(TCPFlagSYN) {
		c.Src.Seq = d.Seq
		c.Src.State = StateSynSent
	}
	return c
}

// transition applies one segment to c. Flags are checked ACK, then FIN,
// then SYN; only the first one present is acted upon. Sequence and
// acknowledgment numbers are only adopted when numerically greater.
func transition(c Connection, d Descriptor) Connection {
	if d.Seq > c.Src.Seq {
		c.Src.Seq = d.Seq
	}

	switch {
	case d.has(TCPFlagACK):
		if c.Dst.State == StateSynReceived && d.Ack-c.Dst.Seq == 1 {
			c.Dst.State = StateEstablished
		}
		if c.Dst.State == StateFinWait1 && d.Ack-c.Dst.Seq >= 1 {
			c.Dst.State = StateFinWait2
		}
		if d.Ack > c.Src.Ack {
			c.Src.Ack = d.Ack
		}
	case d.has(TCPFlagFIN):
		if c.Dst.State == StateFinWait2 {
			c.Dst.State = StateClosed
		} else {
			c.Src.State = StateFinWait1
		}
	case d.has(TCPFlagSYN):
		if c.Dst.State == StateSynSent {
			c.Dst.State = StateSynReceived
		}
	}

	c.Flags = d.Flags
	return c
}

// track feeds d into the connection matching its 4-tuple. It returns false
// when there is none.
func track(conns []Connection, d Descriptor, now time.Time) bool {
	for i := range conns {
		if conns[i].Tuple != d.Tuple {
			continue
		}
		conns[i] = transition(conns[i], d)
		conns[i].LastActivity = now
		return true
	}
	return false
}
