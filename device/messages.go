package device

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

var errMalformedMessage = errors.New("device: malformed handshake message")
var errTooManyPeers = errors.New("device: peer table is full")
var errNoEndpoint = errors.New("device: peer has no known endpoint")

// MessageInitiation is the wire layout of a type-1 InitHandshake
// message (spec.md §6), sized to MessageInitiationSize once marshaled.
type MessageInitiation struct {
	Type      uint32
	Sender    uint32
	Ephemeral NoisePublicKey
	Static    [NoisePublicKeySize + chacha20poly1305.Overhead]byte
	Timestamp [tai64nLen + chacha20poly1305.Overhead]byte
	MAC1      [cookieSize]byte
	MAC2      [cookieSize]byte
}

// MessageResponse is the wire layout of a type-2 RespHandshake message
// (spec.md §6), sized to MessageResponseSize once marshaled.
type MessageResponse struct {
	Type      uint32
	Sender    uint32
	Receiver  uint32
	Ephemeral NoisePublicKey
	Empty     [chacha20poly1305.Overhead]byte
	MAC1      [cookieSize]byte
	MAC2      [cookieSize]byte
}

// CookieReplyMessage is the wire layout of a type-3 CookieReply
// message (spec.md §6), sized to MessageCookieReplySize once marshaled.
type CookieReplyMessage struct {
	Type            uint32
	ReceiverIndex   uint32
	Nonce           [cookieNonceLen]byte
	EncryptedCookie [cookieSize + chacha20poly1305.Overhead]byte
}

// tai64nLen is the length of a TAI64N timestamp as used in the Noise-IK
// handshake's third encrypted payload.
const tai64nLen = 12

func marshalInitiation(m *MessageInitiation) []byte {
	b := make([]byte, MessageInitiationSize)
	binary.LittleEndian.PutUint32(b[0:4], m.Type)
	binary.LittleEndian.PutUint32(b[4:8], m.Sender)
	copy(b[8:40], m.Ephemeral[:])
	copy(b[40:88], m.Static[:])
	copy(b[88:116], m.Timestamp[:])
	// b[116:132] MAC1, b[132:148] MAC2 filled in by CookieGenerator.AddMacs.
	return b
}

func unmarshalInitiation(b []byte) (*MessageInitiation, error) {
	if len(b) != MessageInitiationSize {
		return nil, errMalformedMessage
	}
	m := &MessageInitiation{
		Type:   binary.LittleEndian.Uint32(b[0:4]),
		Sender: binary.LittleEndian.Uint32(b[4:8]),
	}
	copy(m.Ephemeral[:], b[8:40])
	copy(m.Static[:], b[40:88])
	copy(m.Timestamp[:], b[88:116])
	copy(m.MAC1[:], b[116:132])
	copy(m.MAC2[:], b[132:148])
	return m, nil
}

func marshalResponse(m *MessageResponse) []byte {
	b := make([]byte, MessageResponseSize)
	binary.LittleEndian.PutUint32(b[0:4], m.Type)
	binary.LittleEndian.PutUint32(b[4:8], m.Sender)
	binary.LittleEndian.PutUint32(b[8:12], m.Receiver)
	copy(b[12:44], m.Ephemeral[:])
	copy(b[44:60], m.Empty[:])
	// b[60:76] MAC1, b[76:92] MAC2 filled in by CookieGenerator.AddMacs.
	return b
}

func unmarshalResponse(b []byte) (*MessageResponse, error) {
	if len(b) != MessageResponseSize {
		return nil, errMalformedMessage
	}
	m := &MessageResponse{
		Type:     binary.LittleEndian.Uint32(b[0:4]),
		Sender:   binary.LittleEndian.Uint32(b[4:8]),
		Receiver: binary.LittleEndian.Uint32(b[8:12]),
	}
	copy(m.Ephemeral[:], b[12:44])
	copy(m.Empty[:], b[44:60])
	copy(m.MAC1[:], b[60:76])
	copy(m.MAC2[:], b[76:92])
	return m, nil
}

func marshalCookieReply(m *CookieReplyMessage) []byte {
	b := make([]byte, MessageCookieReplySize)
	binary.LittleEndian.PutUint32(b[0:4], m.Type)
	binary.LittleEndian.PutUint32(b[4:8], m.ReceiverIndex)
	copy(b[8:8+cookieNonceLen], m.Nonce[:])
	copy(b[8+cookieNonceLen:], m.EncryptedCookie[:])
	return b
}

func unmarshalCookieReply(b []byte) (*CookieReplyMessage, error) {
	if len(b) != MessageCookieReplySize {
		return nil, errMalformedMessage
	}
	m := &CookieReplyMessage{
		Type:          binary.LittleEndian.Uint32(b[0:4]),
		ReceiverIndex: binary.LittleEndian.Uint32(b[4:8]),
	}
	copy(m.Nonce[:], b[8:8+cookieNonceLen])
	copy(m.EncryptedCookie[:], b[8+cookieNonceLen:])
	return m, nil
}
