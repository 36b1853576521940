package netstack

import (
	"net"
	"testing"
)

func TestNewBuildsStackWithV4AndV6Addresses(t *testing.T) {
	s, err := New([]net.IP{net.IPv4(10, 0, 0, 1), net.ParseIP("fd00::1")}, 1420)
	if err != nil {
		t.Fatal(err)
	}
	if s.stack == nil || s.link == nil {
		t.Fatal("expected New to populate the underlying gvisor stack and link endpoint")
	}
}

func TestDeliverRejectsEmptyPacket(t *testing.T) {
	s, err := New([]net.IP{net.IPv4(10, 0, 0, 1)}, 1420)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(nil); err == nil {
		t.Fatal("expected an error delivering an empty packet")
	}
}

func TestDeliverAcceptsIPv4Packet(t *testing.T) {
	s, err := New([]net.IP{net.IPv4(10, 0, 0, 1)}, 1420)
	if err != nil {
		t.Fatal(err)
	}
	packet := make([]byte, 20)
	packet[0] = 0x45
	if err := s.Deliver(packet); err != nil {
		t.Fatalf("expected a minimal IPv4 header to be accepted, got %v", err)
	}
}
