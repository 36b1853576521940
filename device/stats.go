package device

import "sync/atomic"

// PeerStats is the snapshot of a peer's traffic counters exposed
// through the config/IPC surface (spec.md §4.O).
type PeerStats struct {
	RxBytes                uint64
	TxBytes                uint64
	LastHandshakeNano      int64
	HandshakeAdmitted      uint64
	HandshakeRejectedBusy  uint64
	HandshakeRejectedCookie uint64
	DataDroppedRouting     uint64
}

// peerStatCounters holds the live atomics a Peer updates on the hot
// path; PeerStats is the point-in-time copy taken from it.
type peerStatCounters struct {
	rxBytes                 uint64
	txBytes                 uint64
	lastHandshakeNano       int64
	handshakeAdmitted       uint64
	handshakeRejectedBusy   uint64
	handshakeRejectedCookie uint64
	dataDroppedRouting      uint64
}

func (c *peerStatCounters) addRx(n uint64)             { atomic.AddUint64(&c.rxBytes, n) }
func (c *peerStatCounters) addTx(n uint64)             { atomic.AddUint64(&c.txBytes, n) }
func (c *peerStatCounters) markHandshakeNow(nano int64) { atomic.StoreInt64(&c.lastHandshakeNano, nano) }
func (c *peerStatCounters) incAdmitted()               { atomic.AddUint64(&c.handshakeAdmitted, 1) }
func (c *peerStatCounters) incRejectedBusy()            { atomic.AddUint64(&c.handshakeRejectedBusy, 1) }
func (c *peerStatCounters) incRejectedCookie()          { atomic.AddUint64(&c.handshakeRejectedCookie, 1) }
func (c *peerStatCounters) incDroppedRouting()          { atomic.AddUint64(&c.dataDroppedRouting, 1) }

func (c *peerStatCounters) snapshot() PeerStats {
	return PeerStats{
		RxBytes:                 atomic.LoadUint64(&c.rxBytes),
		TxBytes:                 atomic.LoadUint64(&c.txBytes),
		LastHandshakeNano:       atomic.LoadInt64(&c.lastHandshakeNano),
		HandshakeAdmitted:       atomic.LoadUint64(&c.handshakeAdmitted),
		HandshakeRejectedBusy:   atomic.LoadUint64(&c.handshakeRejectedBusy),
		HandshakeRejectedCookie: atomic.LoadUint64(&c.handshakeRejectedCookie),
		DataDroppedRouting:      atomic.LoadUint64(&c.dataDroppedRouting),
	}
}
