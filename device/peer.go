package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wireward/tunneld/conn"
)

// Peer is one remote tunnel endpoint: its static identity, the
// handshake state machine working toward (or holding) a session, the
// keypairs that session yields, and the counters/timers that track
// its liveness (spec.md §4.G-H, modeled on the teacher's Peer).
//
// Every reference returned by Device.LookupPeer must be released with
// Peer.DecRef exactly once (spec.md §8's reference-counting invariant).
type Peer struct {
	device *Device

	mu       sync.RWMutex
	endpoint conn.Endpoint
	isRunning atomic.Bool
	refs     int32

	handshake Handshake
	keypairs  Keypairs
	cookie    CookieGenerator

	stats peerStatCounters

	timers struct {
		retransmitHandshake    *Timer
		sendKeepalive          *Timer
		newHandshake           *Timer
		zeroKeyMaterial        *Timer
		persistentKeepalive    *Timer
		handshakeAttempts      atomic.Uint32
		sentLastMinuteHandshake atomic.Bool
		wantHandshakeSince     atomic.Int64
	}

	persistentKeepaliveInterval atomic.Uint32 // seconds; 0 disables
}

// NewPeer constructs a Peer bound to device with the given static
// public key. The handshake is initialized but no session exists yet.
func NewPeer(device *Device, publicKey NoisePublicKey) *Peer {
	peer := &Peer{device: device}
	peer.handshake.Init(device.staticIdentity.privateKey, publicKey)
	peer.cookie.Init(publicKey)
	peer.timersInit()
	return peer
}

func (peer *Peer) String() string {
	return fmt.Sprintf("peer(%s)", peer.handshake.remoteStatic.ToHex()[:16])
}

// IncRef takes a reference on peer; pair with DecRef.
func (peer *Peer) IncRef() { atomic.AddInt32(&peer.refs, 1) }

// DecRef releases a reference taken by IncRef or by Device.LookupPeer.
func (peer *Peer) DecRef() { atomic.AddInt32(&peer.refs, -1) }

func (peer *Peer) SetEndpoint(ep conn.Endpoint) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	peer.endpoint = ep
}

func (peer *Peer) Endpoint() conn.Endpoint {
	peer.mu.RLock()
	defer peer.mu.RUnlock()
	return peer.endpoint
}

// Start marks peer as running, spinning up its per-peer timers.
func (peer *Peer) Start() {
	if peer.isRunning.Swap(true) {
		return
	}
	peer.timersInit()
}

// Stop tears down peer's timers and zeroes its session key material.
func (peer *Peer) Stop() {
	if !peer.isRunning.Swap(false) {
		return
	}
	peer.timersStop()
	peer.keypairs.ZeroAll()
}

// SendBuffer encrypts and transmits one inner-packet buffer under
// peer's current keypair. Without a current keypair it returns an
// error; it does not start a handshake.
func (peer *Peer) SendBuffer(packet []byte) error {
	kp := peer.keypairs.Current()
	if kp == nil {
		return fmt.Errorf("device: %s has no current session", peer)
	}
	nonce, ok := kp.NextNonce()
	if !ok {
		return fmt.Errorf("device: %s session exhausted, rekey required", peer)
	}

	header := make([]byte, MessageTransportHeaderSize)
	header[0] = MessageTransportType
	putUint32(header[MessageTransportOffsetReceiver:], kp.remoteIndex)
	putUint64(header[MessageTransportOffsetCounter:], nonce)

	var nonceBytes [chacha20poly1305NonceSize]byte
	putUint64(nonceBytes[4:], nonce)

	out := kp.send.Seal(header, nonceBytes[:], packet, nil)

	ep := peer.Endpoint()
	if ep == nil {
		return fmt.Errorf("device: %s has no known endpoint", peer)
	}
	peer.stats.addTx(uint64(len(packet)))
	peer.timersDataSent()
	return peer.device.net.bind.Send(out, ep)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

const chacha20poly1305NonceSize = 12

// timeSinceLastHandshake is used by timer expiry logic to decide
// whether a rekey is overdue.
func (peer *Peer) timeSinceLastHandshake() time.Duration {
	nano := atomic.LoadInt64(&peer.stats.lastHandshakeNano)
	if nano == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, nano))
}
