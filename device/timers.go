package device

import (
	"sync"
	"time"
)

// Timer wraps a time.Timer with an explicit pending flag so Mod/Del
// are safe to call from multiple goroutines without racing the
// timer's own internal state (mirrors the teacher's Timer type).
type Timer struct {
	mu        sync.Mutex
	timer     *time.Timer
	isPending bool
}

func (peer *Peer) newTimer(expire func(*Peer)) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(time.Hour, func() {
		t.mu.Lock()
		if !t.isPending {
			t.mu.Unlock()
			return
		}
		t.isPending = false
		t.mu.Unlock()
		expire(peer)
	})
	t.timer.Stop()
	return t
}

func (t *Timer) Mod(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isPending = true
	t.timer.Reset(d)
}

func (t *Timer) Del() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isPending = false
	t.timer.Stop()
}

func (t *Timer) DelSync() {
	t.Del()
	t.timer.Stop()
}

func (t *Timer) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isPending
}

func (peer *Peer) timersInit() {
	peer.timers.retransmitHandshake = peer.newTimer((*Peer).expiredRetransmitHandshake)
	peer.timers.sendKeepalive = peer.newTimer((*Peer).expiredSendKeepalive)
	peer.timers.newHandshake = peer.newTimer((*Peer).expiredNewHandshake)
	peer.timers.zeroKeyMaterial = peer.newTimer((*Peer).expiredZeroKeyMaterial)
	peer.timers.persistentKeepalive = peer.newTimer((*Peer).expiredPersistentKeepalive)
}

func (peer *Peer) timersStop() {
	peer.timers.retransmitHandshake.DelSync()
	peer.timers.sendKeepalive.DelSync()
	peer.timers.newHandshake.DelSync()
	peer.timers.zeroKeyMaterial.DelSync()
	peer.timers.persistentKeepalive.DelSync()
}

func (peer *Peer) expiredRetransmitHandshake(_ *Peer) {
	attempts := peer.timers.handshakeAttempts.Add(1)
	if attempts > MaxTimerHandshakes {
		peer.device.log.Verbosef("%s: giving up on handshake, no response after %d attempts", peer, attempts)
		peer.timers.sendKeepalive.Del()
		peer.timers.zeroKeyMaterial.Mod(RejectAfterTime * 3)
		return
	}
	peer.device.log.Verbosef("%s: handshake attempt %d did not complete after %v, retrying", peer, attempts, RekeyTimeout)
	peer.device.SendHandshakeInitiation(peer, true)
}

func (peer *Peer) expiredSendKeepalive(_ *Peer) {
	peer.SendKeepalive()
	if peer.timers.persistentKeepalive.IsPending() {
		peer.timers.persistentKeepalive.Del()
	}
}

func (peer *Peer) expiredNewHandshake(_ *Peer) {
	peer.device.log.Verbosef("%s: retrying handshake because we stopped hearing back after %v", peer, KeepaliveTimeout+RekeyTimeout)
	peer.device.SendHandshakeInitiation(peer, false)
}

func (peer *Peer) expiredZeroKeyMaterial(_ *Peer) {
	peer.device.log.Verbosef("%s: zeroing key material, no handshake for too long", peer)
	peer.keypairs.ZeroAll()
}

func (peer *Peer) expiredPersistentKeepalive(_ *Peer) {
	if peer.persistentKeepaliveInterval.Load() == 0 {
		return
	}
	peer.SendKeepalive()
}

// SendKeepalive transmits a zero-length transport message, used both
// for explicit keepalives and to confirm a newly-derived keypair.
func (peer *Peer) SendKeepalive() {
	if peer.keypairs.Current() == nil {
		return
	}
	_ = peer.SendBuffer(nil)
}

// timersDataSent arms the keepalive timer when outbound traffic is
// actually sent and the timer is not already pending; a pending timer
// is left as it is.
func (peer *Peer) timersDataSent() {
	if !peer.timers.sendKeepalive.IsPending() {
		peer.timers.sendKeepalive.Mod(KeepaliveTimeout)
	}
}

// timersDataReceived arms the new-handshake timer if we haven't heard
// anything back in too long, same as the teacher's behavior.
func (peer *Peer) timersDataReceived() {
	if !peer.timers.newHandshake.IsPending() {
		peer.timers.newHandshake.Mod(KeepaliveTimeout + RekeyTimeout)
	}
}

// timersAnyAuthenticatedPacketReceived cancels the handshake-retry
// timer, since any authenticated packet proves the peer is alive.
func (peer *Peer) timersAnyAuthenticatedPacketReceived() {
	peer.timers.newHandshake.Del()
}

func (peer *Peer) timersAnyAuthenticatedPacketTraversal() {
	interval := peer.persistentKeepaliveInterval.Load()
	if interval > 0 {
		peer.timers.persistentKeepalive.Mod(time.Duration(interval) * time.Second)
	}
}

// timersHandshakeInitiated arms the retransmit timer for the initiation
// we just sent.
func (peer *Peer) timersHandshakeInitiated() {
	peer.timers.retransmitHandshake.Mod(RekeyTimeout)
}

// timersHandshakeComplete disarms retry/attempt bookkeeping once a
// session is live.
func (peer *Peer) timersHandshakeComplete() {
	peer.timers.retransmitHandshake.Del()
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.stats.markHandshakeNow(time.Now().UnixNano())
}

// timersSessionDerived re-arms the zero-key-material timer, which only
// fires if no further handshake happens before the session would need
// to be replaced anyway.
func (peer *Peer) timersSessionDerived() {
	peer.timers.zeroKeyMaterial.Mod(RejectAfterTime * 3)
}
