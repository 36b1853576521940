package device

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// MacState is the three-way verdict a cookie check yields for an
// inbound handshake message (spec.md §4.D step 4-5).
type MacState int

const (
	InvalidMac MacState = iota
	ValidMac1NoCookie
	ValidMac1WithCookie
)

const (
	cookieSize     = 16
	cookieNonceLen = chacha20poly1305.NonceSizeX
)

var (
	mac1Label   = []byte("mac1----")
	cookieLabel = []byte("cookie--")
)

// CookieChecker validates MAC1/MAC2 on inbound handshake and cookie
// messages and mints CookieReply payloads when a peer needs to prove
// it owns its claimed source address under load (spec.md §4.I).
type CookieChecker struct {
	mu sync.RWMutex

	mac1Key [blake2s.Size]byte // derived once from the local static public key

	secretSet  time.Time
	secret     [blake2s.Size]byte
	cookieKey  [blake2s.Size]byte // derived once from the local static public key
}

func (c *CookieChecker) Init(pk NoisePublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mac1Key = blake2s.Sum256(append(append([]byte{}, mac1Label...), pk[:]...))
	c.cookieKey = blake2s.Sum256(append(append([]byte{}, cookieLabel...), pk[:]...))
	c.secretSet = time.Time{}
}

// rotateSecretLocked regenerates the per-responder cookie secret if it
// has aged past CookieRefreshTime. Callers must hold c.mu for writing;
// cookieFor handles the upgrade from a read lock.
func (c *CookieChecker) rotateSecretLocked() {
	if time.Since(c.secretSet) < CookieRefreshTime {
		return
	}
	rand.Read(c.secret[:])
	c.secretSet = time.Now()
}

// cookieFor derives a per-source-IP cookie value from the current
// secret, approximating the seqlock WireGuard uses for this rotation
// with a plain RWMutex — no ecosystem seqlock exists in this stack.
func (c *CookieChecker) cookieFor(srcAddr []byte) [cookieSize]byte {
	c.mu.RLock()
	stale := time.Since(c.secretSet) >= CookieRefreshTime
	c.mu.RUnlock()

	if stale {
		c.mu.Lock()
		c.rotateSecretLocked()
		c.mu.Unlock()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	mac, _ := blake2s.New128(c.secret[:])
	mac.Write(srcAddr)
	var out [cookieSize]byte
	mac.Sum(out[:0])
	return out
}

// CheckMAC1 verifies MAC1, always present on InitHandshake and
// RespHandshake messages. msg is the full message with its trailing
// MAC1 (and, if present, MAC2) fields still attached.
func (c *CookieChecker) CheckMAC1(msg []byte) bool {
	if len(msg) < 32 {
		return false
	}
	smac2 := len(msg) - 16
	smac1 := smac2 - 16

	c.mu.RLock()
	key := c.mac1Key
	c.mu.RUnlock()

	mac, _ := blake2s.New128(key[:])
	mac.Write(msg[:smac1])
	var want [cookieSize]byte
	mac.Sum(want[:0])
	return subtle.ConstantTimeCompare(want[:], msg[smac1:smac2]) == 1
}

// CheckMAC2 verifies MAC2 against the cookie minted for srcAddr. It
// must only be called after CheckMAC1 has already passed.
func (c *CookieChecker) CheckMAC2(msg, srcAddr []byte) bool {
	if len(msg) < 16 {
		return false
	}
	smac2 := len(msg) - 16

	cookie := c.cookieFor(srcAddr)
	mac, _ := blake2s.New128(cookie[:])
	mac.Write(msg[:smac2])
	var want [cookieSize]byte
	mac.Sum(want[:0])
	return subtle.ConstantTimeCompare(want[:], msg[smac2:]) == 1
}

// Verdict runs the full MAC1/MAC2 decision matrix (spec.md §4.D):
// invalid MAC1 drops the message outright; a valid MAC1 with no (or
// a failing) MAC2 means the peer hasn't yet proven its source address
// under load; a valid MAC1 with a valid MAC2 clears it unconditionally.
func (c *CookieChecker) Verdict(msg, srcAddr []byte) MacState {
	if !c.CheckMAC1(msg) {
		return InvalidMac
	}
	if hasMac2(msg) && c.CheckMAC2(msg, srcAddr) {
		return ValidMac1WithCookie
	}
	return ValidMac1NoCookie
}

func hasMac2(msg []byte) bool {
	if len(msg) < 16 {
		return false
	}
	for _, b := range msg[len(msg)-16:] {
		if b != 0 {
			return true
		}
	}
	return false
}

// CreateReply encrypts a fresh cookie for srcAddr so the sender can
// replay it as MAC2 on its next attempt, per spec.md §6's CookieReply
// wire format: receiver_index || nonce || seal(cookie).
func (c *CookieChecker) CreateReply(msg []byte, receiverIndex uint32, srcAddr []byte) (*CookieReplyMessage, error) {
	cookie := c.cookieFor(srcAddr)

	c.mu.RLock()
	key := c.cookieKey
	c.mu.RUnlock()

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	var nonce [cookieNonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	smac1 := len(msg) - 32
	reply := &CookieReplyMessage{
		Type:           MessageCookieReplyType,
		ReceiverIndex:  receiverIndex,
		Nonce:          nonce,
	}
	aead.Seal(reply.EncryptedCookie[:0], nonce[:], cookie[:], msg[smac1:smac1+16])
	return reply, nil
}

// CookieGenerator is the initiator side: it remembers the last cookie
// a peer handed back in a CookieReply and stamps it onto subsequent
// handshake messages as MAC2 until it next hears otherwise.
type CookieGenerator struct {
	mu sync.RWMutex

	mac1Key   [blake2s.Size]byte
	cookieKey [blake2s.Size]byte

	haveCookie bool
	cookie     [cookieSize]byte
	lastMac1   [cookieSize]byte
}

func (g *CookieGenerator) Init(peerPublic NoisePublicKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mac1Key = blake2s.Sum256(append(append([]byte{}, mac1Label...), peerPublic[:]...))
	g.cookieKey = blake2s.Sum256(append(append([]byte{}, cookieLabel...), peerPublic[:]...))
	g.haveCookie = false
}

// AddMacs stamps MAC1 (always) and MAC2 (if a cookie is cached) onto
// an outbound handshake message, in place, at its trailing 32 bytes.
func (g *CookieGenerator) AddMacs(msg []byte) {
	smac2 := len(msg) - 16
	smac1 := smac2 - 16

	g.mu.RLock()
	key := g.mac1Key
	hasCookie := g.haveCookie
	cookie := g.cookie
	g.mu.RUnlock()

	mac, _ := blake2s.New128(key[:])
	mac.Write(msg[:smac1])
	mac.Sum(msg[smac1:smac1])

	g.mu.Lock()
	copy(g.lastMac1[:], msg[smac1:smac2])
	g.mu.Unlock()

	if !hasCookie {
		return
	}
	mac2, _ := blake2s.New128(cookie[:])
	mac2.Write(msg[:smac2])
	mac2.Sum(msg[smac2:smac2])
}

// ConsumeReply decrypts an inbound CookieReply and caches the cookie
// it carries for future AddMacs calls.
func (g *CookieGenerator) ConsumeReply(reply *CookieReplyMessage) bool {
	g.mu.Lock()
	key := g.cookieKey
	lastMac1 := g.lastMac1
	g.mu.Unlock()

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return false
	}

	var cookie [cookieSize]byte
	_, err = aead.Open(cookie[:0], reply.Nonce[:], reply.EncryptedCookie[:], lastMac1[:])
	if err != nil {
		return false
	}

	g.mu.Lock()
	g.cookie = cookie
	g.haveCookie = true
	g.mu.Unlock()
	return true
}
