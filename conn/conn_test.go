package conn

import (
	"net"
	"testing"
)

func TestParseEndpointResolvesHostPort(t *testing.T) {
	ep, err := ParseEndpoint("192.0.2.1:51820")
	if err != nil {
		t.Fatal(err)
	}
	if got := ep.DstToString(); got != "192.0.2.1:51820" {
		t.Fatalf("unexpected endpoint string: %q", got)
	}
}

func TestParseEndpointRejectsMissingPort(t *testing.T) {
	if _, err := ParseEndpoint("192.0.2.1"); err == nil {
		t.Fatal("expected an error for a host with no port")
	}
}

func TestParseEndpointRejectsGarbageHost(t *testing.T) {
	if _, err := ParseEndpoint("not-an-ip:51820"); err == nil {
		t.Fatal("expected an error for a non-IP host")
	}
}

func TestStdNetBindOpenRejectsDoubleOpen(t *testing.T) {
	bind := NewStdNetBind()
	if _, err := bind.Open(0); err != nil {
		t.Fatalf("first open should succeed: %v", err)
	}
	defer bind.Close()

	if _, err := bind.Open(0); err != ErrBindAlreadyOpen {
		t.Fatalf("expected ErrBindAlreadyOpen on a second open, got %v", err)
	}
}

func TestStdNetBindSendRejectsWrongEndpointType(t *testing.T) {
	bind := NewStdNetBind()
	if _, err := bind.Open(0); err != nil {
		t.Fatal(err)
	}
	defer bind.Close()

	if err := bind.Send([]byte("x"), fakeEndpoint{}); err != ErrWrongEndpointType {
		t.Fatalf("expected ErrWrongEndpointType, got %v", err)
	}
}

type fakeEndpoint struct{}

func (fakeEndpoint) ClearSrc()           {}
func (fakeEndpoint) SrcToString() string { return "" }
func (fakeEndpoint) DstToString() string { return "" }
func (fakeEndpoint) DstToBytes() []byte  { return nil }
func (fakeEndpoint) DstIP() net.IP       { return nil }
func (fakeEndpoint) SrcIP() net.IP       { return nil }
