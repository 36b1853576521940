package device

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	NoisePublicKeySize  = 32
	NoisePrivateKeySize = 32
)

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoiseSymmetricKey [chacha20poly1305.KeySize]byte
)

func loadExactHex(dst []byte, src string) error {
	b, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return errors.New("hex string does not fit the destination slice")
	}
	copy(dst, b)
	return nil
}

func (k NoisePrivateKey) IsZero() bool {
	var zero NoisePrivateKey
	return k.Equals(zero)
}

func (k NoisePrivateKey) Equals(other NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

func (k *NoisePrivateKey) FromHex(s string) error {
	if err := loadExactHex(k[:], s); err != nil {
		return err
	}
	k.clamp()
	return nil
}

func (k NoisePrivateKey) ToHex() string {
	return hex.EncodeToString(k[:])
}

func (k *NoisePublicKey) FromHex(s string) error {
	return loadExactHex(k[:], s)
}

func (k NoisePublicKey) ToHex() string {
	return hex.EncodeToString(k[:])
}

func (k NoisePublicKey) IsZero() bool {
	var zero NoisePublicKey
	return k.Equals(zero)
}

func (k NoisePublicKey) Equals(other NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

func (k *NoiseSymmetricKey) FromHex(s string) error {
	return loadExactHex(k[:], s)
}

func (k NoiseSymmetricKey) ToHex() string {
	return hex.EncodeToString(k[:])
}
