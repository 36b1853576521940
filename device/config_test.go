package device

import (
	"bytes"
	"net"
	"strings"
	"testing"
)

type noopDeliverer struct{}

func (noopDeliverer) Deliver(packet []byte) error { return nil }

func TestIpcSetOperationAppliesFullTransaction(t *testing.T) {
	bind := &pipeBind{}
	d := NewDevice(bind, noopDeliverer{}, nil)
	defer d.Close()

	sk, _ := newPrivateKey()
	peerSK, _ := newPrivateKey()
	peerPK := peerSK.publicKey()

	tx := "private_key=" + sk.ToHex() + "\n" +
		"listen_port=51820\n" +
		"public_key=" + peerPK.ToHex() + "\n" +
		"preshared_key=" + strings.Repeat("ab", 32) + "\n" +
		"allowed_ip=10.0.0.2/32\n" +
		"\n"

	if err := d.IpcSetOperation(strings.NewReader(tx)); err != nil {
		t.Fatal(err)
	}

	peer := d.LookupPeer(peerPK)
	if peer == nil {
		t.Fatal("expected the public_key line to register a peer")
	}
	defer peer.DecRef()

	if !peer.handshake.hasPresharedKey() {
		t.Fatal("expected the preshared_key line to be applied")
	}
	if routed := d.allowedIPs.LookupIPv4(mustParseIPv4(t, "10.0.0.2")); routed != peer {
		t.Fatal("expected the allowed_ip line to route to the new peer")
	}
}

func TestIpcSetOperationRejectsUnknownKey(t *testing.T) {
	bind := &pipeBind{}
	d := NewDevice(bind, noopDeliverer{}, nil)
	defer d.Close()

	err := d.IpcSetOperation(strings.NewReader("not_a_real_key=1\n\n"))
	if err == nil {
		t.Fatal("expected an error for an unrecognized config key")
	}
	if _, ok := err.(*IpcError); !ok {
		t.Fatalf("expected an *IpcError, got %T", err)
	}
}

func TestIpcGetOperationDumpsPeerState(t *testing.T) {
	bind := &pipeBind{}
	d := NewDevice(bind, noopDeliverer{}, nil)
	defer d.Close()

	sk, _ := newPrivateKey()
	d.SetPrivateKey(sk)

	peerSK, _ := newPrivateKey()
	peerPK := peerSK.publicKey()
	if _, err := d.NewPeer(peerPK); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := d.IpcGetOperation(&buf); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "private_key="+sk.ToHex()) {
		t.Fatalf("expected private_key in dump, got %q", out)
	}
	if !strings.Contains(out, "public_key="+peerPK.ToHex()) {
		t.Fatalf("expected public_key in dump, got %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatal("expected the dump to be terminated by a blank line")
	}
}

func mustParseIPv4(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("bad test IP literal %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		t.Fatalf("%q is not an IPv4 literal", s)
	}
	return v4
}
