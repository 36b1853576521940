package device

import (
	"encoding/binary"
	"testing"
)

func buildIPv4UDP(payload []byte) []byte {
	ipHeader := make([]byte, 20)
	ipHeader[0] = 0x45 // version 4, IHL 5
	udpHeader := make([]byte, 8)
	binary.BigEndian.PutUint16(udpHeader[4:6], uint16(8+len(payload)))
	out := append(append(ipHeader, udpHeader...), payload...)
	return out
}

func TestParseOuterFrameAcceptsWellFormedDatagram(t *testing.T) {
	payload := make([]byte, MessageInitiationSize)
	raw := buildIPv4UDP(payload)

	offset, length, ok := ParseOuterFrame(raw)
	if !ok {
		t.Fatal("expected valid envelope to parse")
	}
	if offset != 28 {
		t.Fatalf("expected payload offset 28, got %d", offset)
	}
	if length != len(payload) {
		t.Fatalf("expected payload length %d, got %d", len(payload), length)
	}
}

func TestParseOuterFrameRejectsTruncatedIPHeader(t *testing.T) {
	raw := []byte{0x45, 0, 0, 0}
	if _, _, ok := ParseOuterFrame(raw); ok {
		t.Fatal("expected truncated header to be rejected")
	}
}

func TestParseOuterFrameRejectsBadUDPLength(t *testing.T) {
	raw := buildIPv4UDP(make([]byte, 10))
	binary.BigEndian.PutUint16(raw[24:26], 9000) // claims far more than is present
	if _, _, ok := ParseOuterFrame(raw); ok {
		t.Fatal("expected oversized UDP length field to be rejected")
	}
}

func TestParseOuterFrameRejectsUnknownIPVersion(t *testing.T) {
	raw := buildIPv4UDP(make([]byte, 10))
	raw[0] = 0x05 << 4
	if _, _, ok := ParseOuterFrame(raw); ok {
		t.Fatal("expected unknown IP version to be rejected")
	}
}

func TestClassifyMessageInitiation(t *testing.T) {
	b := make([]byte, MessageInitiationSize)
	binary.LittleEndian.PutUint32(b[:4], MessageInitiationType)
	if kind := ClassifyMessage(b); kind != KindInitHandshake {
		t.Fatalf("expected KindInitHandshake, got %v", kind)
	}
}

func TestClassifyMessageWrongSizeIsInvalid(t *testing.T) {
	b := make([]byte, MessageInitiationSize-1)
	binary.LittleEndian.PutUint32(b[:4], MessageInitiationType)
	if kind := ClassifyMessage(b); kind != KindInvalid {
		t.Fatalf("expected KindInvalid for undersized initiation, got %v", kind)
	}
}

func TestClassifyMessageData(t *testing.T) {
	b := make([]byte, MinMessageSize)
	binary.LittleEndian.PutUint32(b[:4], MessageTransportType)
	if kind := ClassifyMessage(b); kind != KindData {
		t.Fatalf("expected KindData, got %v", kind)
	}
}

func TestMarshalUnmarshalInitiationRoundTrips(t *testing.T) {
	msg := &MessageInitiation{Type: MessageInitiationType, Sender: 42}
	msg.Ephemeral[0] = 7
	raw := marshalInitiation(msg)
	if len(raw) != MessageInitiationSize {
		t.Fatalf("expected marshaled size %d, got %d", MessageInitiationSize, len(raw))
	}

	got, err := unmarshalInitiation(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sender != msg.Sender || got.Ephemeral != msg.Ephemeral {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, msg)
	}
}
