package device

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Keypair holds one generation of transport (AEAD) session keys, plus
// the replay window for its receive direction (spec.md §4.E). A Peer
// keeps up to three: previous, current, and next.
type Keypair struct {
	sendKey  [chacha20poly1305.KeySize]byte
	recvKey  [chacha20poly1305.KeySize]byte
	send     aeadCipher
	recv     aeadCipher

	localIndex  uint32
	remoteIndex uint32

	isInitiator bool
	created     time.Time

	sendNonce uint64 // atomic

	replay replayFilter
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newKeypair(sendKey, recvKey [chacha20poly1305.KeySize]byte, localIndex, remoteIndex uint32, isInitiator bool) (*Keypair, error) {
	send, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, err
	}
	recv, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, err
	}
	return &Keypair{
		sendKey:     sendKey,
		recvKey:     recvKey,
		send:        send,
		recv:        recv,
		localIndex:  localIndex,
		remoteIndex: remoteIndex,
		isInitiator: isInitiator,
		created:     time.Now(),
	}, nil
}

// NextNonce allocates the next send counter, or reports ok=false once
// RejectAfterMessages has been exhausted and the keypair must be
// retired (spec.md's rekey-after-messages invariant).
func (kp *Keypair) NextNonce() (nonce uint64, ok bool) {
	n := atomic.AddUint64(&kp.sendNonce, 1) - 1
	if n >= RejectAfterMessages {
		return 0, false
	}
	return n, true
}

func (kp *Keypair) expired() bool {
	return time.Since(kp.created) >= RejectAfterTime
}

// Keypairs is the previous/current/next triple a Peer advances
// through as handshakes complete and sessions rotate.
type Keypairs struct {
	mu sync.RWMutex

	current  *Keypair
	previous *Keypair
	next     *Keypair
}

// Current returns the active send/receive keypair, if any.
func (kps *Keypairs) Current() *Keypair {
	kps.mu.RLock()
	defer kps.mu.RUnlock()
	return kps.current
}

// Insert places a freshly-derived keypair directly into current (for
// the initiator, whose consumed response already confirms the
// session), retiring the old current to previous, or into next (for
// the responder, who must wait for confirming transport traffic).
func (kps *Keypairs) Insert(kp *Keypair) {
	kps.mu.Lock()
	defer kps.mu.Unlock()

	if kp.isInitiator {
		kps.previous = kps.current
		kps.current = kp
		kps.next = nil
		return
	}

	kps.next = kp
}

// ReceivedWithCurrent promotes next to current on receipt of the
// first inbound transport packet under it, matching the WireGuard
// "received a packet under the next key" confirmation rule.
func (kps *Keypairs) ReceivedWithCurrent(kp *Keypair) {
	kps.mu.Lock()
	defer kps.mu.Unlock()
	if kps.next != kp {
		return
	}
	kps.previous = kps.current
	kps.current = kps.next
	kps.next = nil
}

// Lookup returns the keypair matching localIndex among all three
// generations, used to demultiplex an inbound transport message to
// the right AEAD state.
func (kps *Keypairs) Lookup(localIndex uint32) *Keypair {
	kps.mu.RLock()
	defer kps.mu.RUnlock()
	for _, kp := range [...]*Keypair{kps.current, kps.previous, kps.next} {
		if kp != nil && kp.localIndex == localIndex {
			return kp
		}
	}
	return nil
}

// ExpirePrevious drops the previous keypair, e.g. once a new session
// has been confirmed and the old one is no longer needed for
// in-flight reordered packets.
func (kps *Keypairs) ExpirePrevious() {
	kps.mu.Lock()
	defer kps.mu.Unlock()
	kps.previous = nil
}

// ZeroAll drops every generation, used on peer teardown or explicit
// rekey (spec.md's "zero key material" timer).
func (kps *Keypairs) ZeroAll() {
	kps.mu.Lock()
	defer kps.mu.Unlock()
	kps.current, kps.previous, kps.next = nil, nil, nil
}
