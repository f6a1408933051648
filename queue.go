package rnat

import (
	"slices"
	"time"
)

// UnsolicitedEntry is an inbound TCP segment that arrived for an external
// port with no mapping.
type UnsolicitedEntry struct {
	Packet    []byte
	Interface string
	Arrived   time.Time
	Port      uint16
}

type queue struct {
	entries []UnsolicitedEntry
}

// enqueue keeps a private copy of packet.
func (q *queue) enqueue(packet []byte, iface string, port uint16, now time.Time) {
	q.entries = append(q.entries, UnsolicitedEntry{
		Packet:    slices.Clone(packet),
		Interface: iface,
		Arrived:   now,
		Port:      port,
	})
}

// release drops every entry addressed to port and returns how many there
// were.
func (q *queue) release(port uint16) int {
	n := len(q.entries)
	q.entries = slices.DeleteFunc(q.entries, func(e UnsolicitedEntry) bool {
		return e.Port == port
	})
	return n - len(q.entries)
}

// sweep removes and returns the entries held longer than hold.
func (q *queue) sweep(now time.Time, hold time.Duration) []UnsolicitedEntry {
	var expired []UnsolicitedEntry
	q.entries = slices.DeleteFunc(q.entries, func(e UnsolicitedEntry) bool {
		if now.Sub(e.Arrived) > hold {
			expired = append(expired, e)
			return true
		}
		return false
	})
	return expired
}

func (q *queue) size() int {
	return len(q.entries)
}
