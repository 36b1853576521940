package device

import "encoding/binary"

// MessageKind is the result of classifying a tunnel payload's header.
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindInitHandshake
	KindRespHandshake
	KindCookieReply
	KindData
)

func (k MessageKind) String() string {
	switch k {
	case KindInitHandshake:
		return "InitHandshake"
	case KindRespHandshake:
		return "RespHandshake"
	case KindCookieReply:
		return "CookieReply"
	case KindData:
		return "Data"
	default:
		return "Invalid"
	}
}

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderMinLen = 40
	udpHeaderLen     = 8
)

// ParseOuterFrame validates the outer IP-over-UDP envelope of a raw
// inbound datagram and locates the tunnel payload within it (spec.md
// §4.A). raw is the datagram exactly as read off the wire, including
// the outer IP header.
//
// It returns the offset and length of the tunnel payload on success,
// or ok=false if any envelope check fails — callers must drop the
// datagram in that case without further inspection.
func ParseOuterFrame(raw []byte) (dataOffset, dataLen int, ok bool) {
	if len(raw) < ipv4HeaderMinLen {
		return 0, 0, false
	}

	version := raw[0] >> 4
	var ipHeaderLen int
	switch version {
	case 4:
		ipHeaderLen = int(raw[0]&0x0f) * 4
		if ipHeaderLen < ipv4HeaderMinLen {
			return 0, 0, false
		}
	case 6:
		if len(raw) < ipv6HeaderMinLen {
			return 0, 0, false
		}
		ipHeaderLen = ipv6HeaderMinLen
	default:
		return 0, 0, false
	}

	totalLen := len(raw)
	udpOffset := ipHeaderLen
	if udpOffset+udpHeaderLen > totalLen {
		return 0, 0, false
	}

	udpLength := int(binary.BigEndian.Uint16(raw[udpOffset+4 : udpOffset+6]))
	if udpLength < udpHeaderLen || udpLength > totalLen-udpOffset {
		return 0, 0, false
	}

	payloadOffset := udpOffset + udpHeaderLen
	if payloadOffset+4 > totalLen {
		return 0, 0, false
	}

	return payloadOffset, udpLength - udpHeaderLen, true
}

// ClassifyMessage reads the 4-byte tunnel message header at the front
// of payload and reports its kind (spec.md §4.B). Callers must have
// already established len(payload) >= 4 via ParseOuterFrame.
func ClassifyMessage(payload []byte) MessageKind {
	if len(payload) < 4 {
		return KindInvalid
	}
	switch binary.LittleEndian.Uint32(payload[:4]) {
	case MessageInitiationType:
		if len(payload) == MessageInitiationSize {
			return KindInitHandshake
		}
	case MessageResponseType:
		if len(payload) == MessageResponseSize {
			return KindRespHandshake
		}
	case MessageCookieReplyType:
		if len(payload) == MessageCookieReplySize {
			return KindCookieReply
		}
	case MessageTransportType:
		if len(payload) >= MinMessageSize {
			return KindData
		}
	}
	return KindInvalid
}
