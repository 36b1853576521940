package device

import (
	"crypto/hmac"
	"crypto/rand"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

// clamp applies the curve25519 clamping rule (cr.yp.to/ecdh.html) so
// every NoisePrivateKey is usable as a scalar directly.
func (k *NoisePrivateKey) clamp() {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func newPrivateKey() (NoisePrivateKey, error) {
	var sk NoisePrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return sk, err
	}
	sk.clamp()
	return sk, nil
}

func (sk *NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarBaseMult(apk, ask)
	return pk
}

// sharedSecret performs the X25519 Diffie-Hellman exchange used to
// mix key material into the handshake (spec.md §4.H).
func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult(&ss, ask, apk)
	return ss
}

// blakeHMAC computes an HMAC over in0||in1 keyed by key, using
// blake2s256 as the underlying hash — the Noise_IK HMAC primitive
// this protocol is built on.
func blakeHMAC(sum *[blake2s.Size]byte, key, in0 []byte, in1 ...[]byte) {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
	mac.Write(in0)
	for _, b := range in1 {
		mac.Write(b)
	}
	mac.Sum(sum[:0])
}

// kdf1 derives a single 32-byte output from key and input (Noise KDF
// with one output), used to mix key material in the handshake.
func kdf1(key, input []byte) (t0 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	blakeHMAC(&prk, key, input)
	blakeHMAC(&t0, prk[:], []byte{0x1})
	return t0
}

// kdf2 derives two chained 32-byte outputs from key and input.
func kdf2(key, input []byte) (t0, t1 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	blakeHMAC(&prk, key, input)
	blakeHMAC(&t0, prk[:], []byte{0x1})
	blakeHMAC(&t1, prk[:], t0[:], []byte{0x2})
	return t0, t1
}

// kdf3 derives three chained 32-byte outputs from key and input.
func kdf3(key, input []byte) (t0, t1, t2 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	blakeHMAC(&prk, key, input)
	blakeHMAC(&t0, prk[:], []byte{0x1})
	blakeHMAC(&t1, prk[:], t0[:], []byte{0x2})
	blakeHMAC(&t2, prk[:], t1[:], []byte{0x3})
	return t0, t1, t2
}

// isZero32 reports whether b is the all-zero 32-byte value, used to
// detect an unset preshared key.
func isZero32(b [blake2s.Size]byte) bool {
	var zero [blake2s.Size]byte
	return hmac.Equal(b[:], zero[:])
}
