package rnat

import (
	"context"
	"time"
)

// SweepInterval is the period of the timeout daemon started by Run.
const SweepInterval = time.Second

// Run evicts expired state every SweepInterval until ctx is done. It
// always returns nil once ctx is cancelled.
func (n *NAT) Run(ctx context.Context) error {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	n.Logger.Debug("timeout daemon started", "interval", SweepInterval)
	for {
		select {
		case <-ctx.Done():
			n.Logger.Debug("timeout daemon stopped")
			return nil
		case <-ticker.C:
			n.RunMaintenance(n.Now())
		}
	}
}

// RunMaintenance performs one daemon tick: the unsolicited queue and the
// mapping table are swept in a single critical section, then a port
// unreachable is sent for every segment that timed out in the queue.
func (n *NAT) RunMaintenance(now time.Time) {
	n.mu.Lock()
	expired := n.queue.sweep(now, n.cfg.UnsolicitedTimeout)
	removed := n.table.sweep(now, n.cfg)
	live := n.table.size()
	n.mu.Unlock()

	if removed > 0 || len(expired) > 0 {
		n.Logger.Debug("sweep", "mappings_removed", removed, "mappings_live", live, "unsolicited_expired", len(expired))
	}
	if n.notify == nil {
		return
	}
	for _, e := range expired {
		err := n.notify.SendICMPError(e.Packet, e.Interface, ICMPTypeDestinationUnreachable, ICMPCodePortUnreachable)
		if err != nil {
			n.Logger.Warn("failed to send port unreachable", "iface", e.Interface, "port", e.Port, "error", err)
		}
	}
}
