package rnat

import (
	"slices"
	"time"
)

type internalKey struct {
	kind Kind
	ip   IPv4
	aux  uint16
}

type externalKey struct {
	kind Kind
	aux  uint16
}

// binding is the table's own record; Mapping is only ever a copy of it.
type binding struct {
	Mapping
}

func (b *binding) externalKey() externalKey {
	return externalKey{kind: b.Kind, aux: b.ExternalAux}
}

// table holds every mapping, indexed by its internal and external key. It
// does no locking of its own: the owning NAT serializes all access.
type table struct {
	in  map[internalKey]*binding
	out map[externalKey]*binding

	portMin, idMin uint16
	nextPort       uint16
	nextID         uint16
}

func newTable(portMin, idMin uint16) *table {
	return &table{
		in:       make(map[internalKey]*binding),
		out:      make(map[externalKey]*binding),
		portMin:  portMin,
		idMin:    idMin,
		nextPort: portMin,
		nextID:   idMin,
	}
}

func (t *table) size() int {
	return len(t.in)
}

func (t *table) lookupExternal(aux uint16, kind Kind, now time.Time) (Mapping, bool) {
	b, ok := t.out[externalKey{kind: kind, aux: aux}]
	if !ok {
		return Mapping{}, false
	}
	b.LastActivity = now
	return b.clone(), true
}

func (t *table) lookupInternal(ip IPv4, aux uint16, kind Kind, d Descriptor, now time.Time) (Mapping, bool) {
	b, ok := t.in[internalKey{kind: kind, ip: ip, aux: aux}]
	if !ok {
		return Mapping{}, false
	}
	if kind == KindTCP && !track(b.Connections, d, now) {
		b.Connections = slices.Insert(b.Connections, 0, newConnection(d, now))
	}
	b.LastActivity = now
	return b.clone(), true
}

func (t *table) insert(ip IPv4, aux uint16, ext IPv4, kind Kind, d Descriptor, now time.Time) (Mapping, bool, error) {
	key := internalKey{kind: kind, ip: ip, aux: aux}
	if b, ok := t.in[key]; ok {
		return b.clone(), false, nil
	}

	extAux, err := t.allocate(kind)
	if err != nil {
		return Mapping{}, false, err
	}

	b := &binding{Mapping{
		Kind:         kind,
		InternalIP:   ip,
		InternalAux:  aux,
		ExternalIP:   ext,
		ExternalAux:  extAux,
		LastActivity: now,
	}}
	if kind == KindTCP {
		b.Connections = []Connection{newConnection(d, now)}
	}
	t.in[key] = b
	t.out[b.externalKey()] = b
	return b.clone(), true, nil
}

// updateInbound feeds d to the connections of the mapping owning the
// external identifier aux. Unknown 4-tuples are ignored.
func (t *table) updateInbound(aux uint16, d Descriptor, now time.Time) bool {
	b, ok := t.out[externalKey{kind: KindTCP, aux: aux}]
	if !ok {
		return false
	}
	return track(b.Connections, d, now)
}

// allocate returns the next free identifier of the kind's counter. Past
// 0xffff the counter restarts at its configured minimum; identifiers still
// held by a live mapping are skipped.
func (t *table) allocate(kind Kind) (uint16, error) {
	next, lo := &t.nextPort, t.portMin
	if kind == KindICMP {
		next, lo = &t.nextID, t.idMin
	}

	for range 0x10000 - int(lo) {
		aux := *next
		if aux == 0xffff {
			*next = lo
		} else {
			*next++
		}
		if _, used := t.out[externalKey{kind: kind, aux: aux}]; !used {
			return aux, nil
		}
	}
	return 0, ErrCounterExhausted
}

// sweep evicts idle TCP connections and ICMP mappings, and TCP mappings left
// without connections. Connection age is measured from the mapping's last
// activity. It returns the number of mappings removed.
func (t *table) sweep(now time.Time, cfg Config) int {
	removed := 0
	for key, b := range t.in {
		age := now.Sub(b.LastActivity)
		switch b.Kind {
		case KindTCP:
			b.Connections = slices.DeleteFunc(b.Connections, func(c Connection) bool {
				return age > cfg.timeoutFor(c)
			})
			if len(b.Connections) > 0 {
				continue
			}
		case KindICMP:
			if age <= cfg.ICMPQueryTimeout {
				continue
			}
		}
		delete(t.in, key)
		delete(t.out, b.externalKey())
		removed++
	}
	return removed
}

func (t *table) snapshot() []Mapping {
	res := make([]Mapping, 0, len(t.in))
	for _, b := range t.in {
		res = append(res, b.clone())
	}
	slices.SortFunc(res, func(a, b Mapping) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return int(a.ExternalAux) - int(b.ExternalAux)
	})
	return res
}
