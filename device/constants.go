// Package device implements the tunnel's receive-path demultiplexer:
// outer-frame parsing, message classification, handshake admission
// control (bounded queue + cookie challenge), the handshake state
// machine, and post-decryption delivery of inner IP packets.
package device

import "time"

// Wire message types (spec.md §6). The first 4 bytes of every tunnel
// payload are {type, 0, 0, 0} little-endian.
const (
	MessageInitiationType = 1
	MessageResponseType   = 2
	MessageCookieReplyType = 3
	MessageTransportType  = 4
)

// Fixed wire sizes for the three handshake message kinds and the
// minimum size of a transport (data) message.
const (
	MessageInitiationSize  = 148 // sender_index(4) ephemeral(32) static+tag(48) timestamp+tag(28) mac1(16) mac2(16)
	MessageResponseSize    = 92  // sender_index(4) receiver_index(4) ephemeral(32) empty+tag(16) mac1(16) mac2(16)
	MessageCookieReplySize = 64  // receiver_index(4) nonce(24) encrypted_cookie(16+16)
	MessageTransportHeaderSize = 16 // type(4) receiver_index(4) counter(8)
	MinMessageSize         = MessageTransportHeaderSize + 16 // header + minimum AEAD tag, i.e. a keepalive
	MaxMessageSize         = (1 << 16) - 1
	MaxContentSize         = MaxMessageSize - MessageTransportHeaderSize
)

// Offsets within a transport (type-4) message.
const (
	MessageTransportOffsetReceiver = 4
	MessageTransportOffsetCounter  = 8
	MessageTransportOffsetContent  = 16
)

// Timing constants governing the handshake state machine and session
// lifetime (Noise-IK / WireGuard protocol constants).
const (
	RekeyAfterMessages  = 1 << 60
	RejectAfterMessages = (1 << 64) - (1 << 13) - 1
	RekeyAfterTime      = time.Second * 120
	RekeyAttemptTime    = time.Second * 90
	RekeyTimeout        = time.Second * 5
	MaxTimerHandshakes  = 90 / 5
	RejectAfterTime     = time.Second * 180
	KeepaliveTimeout    = time.Second * 10
	CookieRefreshTime   = time.Second * 120
)

// Admission-control constants (spec.md §3, §4.C, §4.D).
const (
	// MaxQueuedHandshakes bounds the handshake admission queue.
	MaxQueuedHandshakes = 4096
	// MaxBurstHandshakes bounds how many queued handshakes the worker
	// drains per invocation before yielding the scheduler.
	MaxBurstHandshakes = 8
	// UnderLoadAfterTime is how long the device is considered under
	// load after the admission queue is last observed at least half full.
	UnderLoadAfterTime = time.Second
)

// MaxPeers bounds the number of peers a device will accept.
const MaxPeers = 1 << 16

// FECReassemblyTimeout bounds how long an incomplete FEC shard group
// (component M) is held waiting for more shards before it is
// discarded, so a group missing its unrecoverable tail doesn't pin
// memory forever.
const FECReassemblyTimeout = 250 * time.Millisecond
