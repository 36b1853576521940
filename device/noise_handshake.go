package device

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// handshakeState tracks where a peer's Noise_IK exchange sits in the
// state machine named by spec.md §4.H.
type handshakeState int

const (
	handshakeZeroed handshakeState = iota
	handshakeInitiationCreated
	handshakeInitiationConsumed
	handshakeResponseCreated
	handshakeResponseConsumed
)

const (
	noiseConstruction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	wgIdentifier      = "WireGuard v1 zx2c4 Jason@zx2c4.com"
)

var (
	initialChainKey [blake2s.Size]byte
	initialHash     [blake2s.Size]byte
)

func init() {
	initialChainKey = blake2s.Sum256([]byte(noiseConstruction))
	mh := blake2s.Sum256(append(initialChainKey[:], []byte(wgIdentifier)...))
	initialHash = mh
}

var (
	errHandshakeInitiationWrongState = errors.New("device: out-of-order handshake initiation")
	errHandshakeResponseWrongState   = errors.New("device: out-of-order handshake response")
	errHandshakeDecryptStatic        = errors.New("device: failed to decrypt static key in initiation")
	errHandshakeDecryptTimestamp     = errors.New("device: failed to decrypt timestamp in initiation")
	errHandshakeReplay               = errors.New("device: initiation timestamp did not advance")
	errHandshakeMismatchedStatic     = errors.New("device: initiation claims an unexpected remote static key")
)

// Handshake holds the per-peer Noise_IK crypto state (component H). A
// Peer owns exactly one, guarded by its own mutex so the handshake
// worker and the data-plane rekey path never race.
type Handshake struct {
	mu sync.Mutex

	state handshakeState

	localEphemeralPrivate NoisePrivateKey
	localEphemeralPublic  NoisePublicKey
	localIndex            uint32
	remoteIndex           uint32

	remoteStatic    NoisePublicKey
	remoteEphemeral NoisePublicKey

	precomputedStaticStatic [NoisePublicKeySize]byte
	presharedKey            NoiseSymmetricKey

	chainKey [blake2s.Size]byte
	hash     [blake2s.Size]byte

	lastTimestamp [tai64nLen]byte
	lastInitiationConsumption time.Time

	localStatic    NoisePrivateKey
	localStaticPub NoisePublicKey
}

// Init resets h to the zeroed state bound to the given keys, ready to
// create or consume a fresh initiation.
func (h *Handshake) Init(localStatic NoisePrivateKey, remoteStatic NoisePublicKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.localStatic = localStatic
	h.localStaticPub = localStatic.publicKey()
	h.remoteStatic = remoteStatic
	h.precomputedStaticStatic = localStatic.sharedSecret(remoteStatic)
	h.state = handshakeZeroed
}

func mixKey(chainKey *[blake2s.Size]byte, input []byte) {
	*chainKey = kdf1(chainKey[:], input)
}

func mixKey2(chainKey *[blake2s.Size]byte, input []byte) (out [blake2s.Size]byte) {
	ck, out2 := kdf2(chainKey[:], input)
	*chainKey = ck
	return out2
}

func mixHash(hash *[blake2s.Size]byte, data []byte) {
	h := blake2s.Sum256(append(append([]byte{}, hash[:]...), data...))
	*hash = h
}

// CreateInitiation builds an InitHandshake message as the initiator
// (spec.md §4.H, "initiator role").
func (h *Handshake) CreateInitiation() (*MessageInitiation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ephPriv, err := newPrivateKey()
	if err != nil {
		return nil, err
	}
	h.localEphemeralPrivate = ephPriv
	h.localEphemeralPublic = ephPriv.publicKey()

	h.chainKey = initialChainKey
	h.hash = initialHash
	mixHash(&h.hash, h.remoteStatic[:])

	mixHash(&h.hash, h.localEphemeralPublic[:])
	mixKey(&h.chainKey, h.localEphemeralPublic[:])

	ess := ephPriv.sharedSecret(h.remoteStatic)
	mixKey(&h.chainKey, ess[:])

	key := mixKey2(&h.chainKey, nil)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	var static [NoisePublicKeySize + chacha20poly1305.Overhead]byte
	aead.Seal(static[:0], zeroNonce[:], h.localStaticPub[:], h.hash[:])
	mixHash(&h.hash, static[:])

	mixKey(&h.chainKey, h.precomputedStaticStatic[:])
	key2 := mixKey2(&h.chainKey, nil)
	aead2, err := chacha20poly1305.New(key2[:])
	if err != nil {
		return nil, err
	}

	ts := tai64n(time.Now())
	var timestamp [tai64nLen + chacha20poly1305.Overhead]byte
	aead2.Seal(timestamp[:0], zeroNonce[:], ts[:], h.hash[:])
	mixHash(&h.hash, timestamp[:])

	h.state = handshakeInitiationCreated

	// Sender is left zero here: the caller assigns the real index once
	// it inserts h into the IndexTable and stamps it back in, so the
	// wire value and the table key are the same number.
	return &MessageInitiation{
		Type:      MessageInitiationType,
		Ephemeral: h.localEphemeralPublic,
		Static:    static,
		Timestamp: timestamp,
	}, nil
}

// ConsumeInitiation processes an InitHandshake as the responder. h is
// only used to reach the device's own static identity while the
// remote static key is still encrypted; once lookupStatic resolves
// the sender to a known peer, the replay check and every state
// mutation land on that peer's own persistent Handshake (returned by
// lookupStatic) rather than on h, so a peer's last-seen timestamp
// survives across repeated initiations instead of being judged
// against a blank slate every time. On failure the target handshake
// is untouched so a replayed or forged initiation cannot disturb an
// in-flight exchange.
func (h *Handshake) ConsumeInitiation(msg *MessageInitiation, lookupStatic func(NoisePublicKey) (*Handshake, bool)) error {
	hash := initialHash
	chainKey := initialChainKey

	mixHash(&hash, h.localStaticPubUnlocked()[:])
	mixHash(&hash, msg.Ephemeral[:])
	mixKey(&chainKey, msg.Ephemeral[:])

	ess := h.localStatic.sharedSecret(msg.Ephemeral)
	mixKey(&chainKey, ess[:])

	key := mixKey2(&chainKey, nil)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return err
	}
	var remoteStatic NoisePublicKey
	if _, err := aead.Open(remoteStatic[:0], zeroNonce[:], msg.Static[:], hash[:]); err != nil {
		return errHandshakeDecryptStatic
	}
	mixHash(&hash, msg.Static[:])

	target := h
	if lookupStatic != nil {
		matched, ok := lookupStatic(remoteStatic)
		if !ok {
			return errHandshakeMismatchedStatic
		}
		target = matched
	}

	ss := target.localStatic.sharedSecret(remoteStatic)
	mixKey(&chainKey, ss[:])
	key2 := mixKey2(&chainKey, nil)
	aead2, err := chacha20poly1305.New(key2[:])
	if err != nil {
		return err
	}

	var timestamp [tai64nLen]byte
	if _, err := aead2.Open(timestamp[:0], zeroNonce[:], msg.Timestamp[:], hash[:]); err != nil {
		return errHandshakeDecryptTimestamp
	}
	mixHash(&hash, msg.Timestamp[:])

	target.mu.Lock()
	defer target.mu.Unlock()

	if target.state != handshakeZeroed {
		return errHandshakeInitiationWrongState
	}
	if !target.lastInitiationConsumption.IsZero() && timestampLessOrEqual(timestamp, target.lastTimestamp) {
		return errHandshakeReplay
	}

	target.hash = hash
	target.chainKey = chainKey
	target.remoteEphemeral = msg.Ephemeral
	target.remoteStatic = remoteStatic
	target.remoteIndex = msg.Sender
	target.lastTimestamp = timestamp
	target.lastInitiationConsumption = time.Now()
	target.state = handshakeInitiationConsumed
	return nil
}

// CreateResponse builds a RespHandshake message as the responder.
func (h *Handshake) CreateResponse() (*MessageResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != handshakeInitiationConsumed {
		return nil, errHandshakeResponseWrongState
	}

	ephPriv, err := newPrivateKey()
	if err != nil {
		return nil, err
	}
	h.localEphemeralPrivate = ephPriv
	h.localEphemeralPublic = ephPriv.publicKey()

	mixHash(&h.hash, h.localEphemeralPublic[:])
	mixKey(&h.chainKey, h.localEphemeralPublic[:])

	ee := ephPriv.sharedSecret(h.remoteEphemeral)
	mixKey(&h.chainKey, ee[:])

	se := ephPriv.sharedSecret(h.remoteStatic)
	mixKey(&h.chainKey, se[:])

	ck, tau, key := kdf3PSK(&h.chainKey, h.presharedKey[:])
	h.chainKey = ck
	mixHash(&h.hash, tau[:])

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	var empty [chacha20poly1305.Overhead]byte
	aead.Seal(empty[:0], zeroNonce[:], nil, h.hash[:])
	mixHash(&h.hash, empty[:])

	h.state = handshakeResponseCreated

	// Sender is left zero here for the same reason as in
	// CreateInitiation: the caller stamps in the real IndexTable key.
	return &MessageResponse{
		Type:      MessageResponseType,
		Receiver:  h.remoteIndex,
		Ephemeral: h.localEphemeralPublic,
		Empty:     empty,
	}, nil
}

// ConsumeResponse processes a RespHandshake as the initiator.
func (h *Handshake) ConsumeResponse(msg *MessageResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != handshakeInitiationCreated {
		return errHandshakeResponseWrongState
	}

	hash := h.hash
	chainKey := h.chainKey

	mixHash(&hash, msg.Ephemeral[:])
	mixKey(&chainKey, msg.Ephemeral[:])

	ee := h.localEphemeralPrivate.sharedSecret(msg.Ephemeral)
	mixKey(&chainKey, ee[:])

	se := h.localStatic.sharedSecret(msg.Ephemeral)
	mixKey(&chainKey, se[:])

	ck, tau, key := kdf3PSK(&chainKey, h.presharedKey[:])
	chainKey = ck
	mixHash(&hash, tau[:])

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return err
	}
	var empty [0]byte
	if _, err := aead.Open(empty[:0], zeroNonce[:], msg.Empty[:], hash[:]); err != nil {
		return errors.New("device: failed to authenticate handshake response")
	}
	mixHash(&hash, msg.Empty[:])

	h.hash = hash
	h.chainKey = chainKey
	h.remoteIndex = msg.Sender
	h.state = handshakeResponseConsumed
	return nil
}

// BeginSession derives the transport keypair from a completed
// handshake and resets h so it can start a fresh exchange later.
func (h *Handshake) BeginSession(isInitiator bool) (*Keypair, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != handshakeResponseConsumed && h.state != handshakeResponseCreated {
		return nil, errors.New("device: handshake not ready to derive a session")
	}

	sendKey, recvKey := kdf2(h.chainKey[:], nil)
	if !isInitiator {
		sendKey, recvKey = recvKey, sendKey
	}

	kp, err := newKeypair(sendKey, recvKey, h.localIndex, h.remoteIndex, isInitiator)
	if err != nil {
		return nil, err
	}

	h.chainKey = [blake2s.Size]byte{}
	h.hash = [blake2s.Size]byte{}
	h.state = handshakeZeroed
	return kp, nil
}

func (h *Handshake) localStaticPubUnlocked() NoisePublicKey {
	return h.localStaticPub
}

// SetPresharedKey installs the psk2 token mixed into every future
// handshake with this peer. A zero key (the default) degrades the
// construction to plain Noise_IK, which is a valid and supported
// configuration, not an error state.
func (h *Handshake) SetPresharedKey(psk NoiseSymmetricKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presharedKey = psk
}

// hasPresharedKey reports whether a non-zero psk2 token is configured.
func (h *Handshake) hasPresharedKey() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !isZero32(h.presharedKey)
}

var zeroNonce [chacha20poly1305.NonceSize]byte

// kdf3PSK mixes a (possibly all-zero) preshared key into the
// handshake per Noise's psk2 modifier, returning the updated chaining
// key, the hash-mixing tau value, and the AEAD key for the message
// that follows.
func kdf3PSK(chainKey *[blake2s.Size]byte, psk []byte) (ck, tau, key [blake2s.Size]byte) {
	return kdf3(chainKey[:], psk)
}

// tai64n encodes t as a 12-byte TAI64N timestamp.
func tai64n(t time.Time) (out [tai64nLen]byte) {
	const taiEpochOffset = 4611686018427387914
	secs := uint64(taiEpochOffset + t.Unix())
	nano := uint32(t.Nanosecond())
	out[0] = byte(secs >> 56)
	out[1] = byte(secs >> 48)
	out[2] = byte(secs >> 40)
	out[3] = byte(secs >> 32)
	out[4] = byte(secs >> 24)
	out[5] = byte(secs >> 16)
	out[6] = byte(secs >> 8)
	out[7] = byte(secs)
	out[8] = byte(nano >> 24)
	out[9] = byte(nano >> 16)
	out[10] = byte(nano >> 8)
	out[11] = byte(nano)
	return out
}

func timestampLessOrEqual(a, b [tai64nLen]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return true
}
