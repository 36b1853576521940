package device

import (
	"net"
	"testing"
	"time"

	"github.com/wireward/tunneld/conn"
)

// pipeBind is a Bind whose Send wraps the payload in a synthetic
// IPv4+UDP envelope and hands it directly to a paired Device's
// ReceiveIPv4, so a handshake and a data exchange can be driven
// end-to-end without a real socket.
type pipeBind struct {
	peer *Device
	self net.IP
}

func (b *pipeBind) Open(port uint16) (uint16, error) { return port, nil }
func (b *pipeBind) ReceiveIPv4(p []byte) (int, conn.Endpoint, error) {
	<-make(chan struct{}) // never called in this test: data is pushed via Send instead
	return 0, nil, nil
}
func (b *pipeBind) ReceiveIPv6(p []byte) (int, conn.Endpoint, error) {
	return b.ReceiveIPv4(p)
}
func (b *pipeBind) Close() error { return nil }

func (b *pipeBind) Send(payload []byte, ep conn.Endpoint) error {
	raw := buildIPv4UDP(payload)
	src := &conn.StdNetEndpoint{IP: b.self, Port: 51820}
	b.peer.ReceiveIPv4(raw, src)
	return nil
}

type recordingDeliverer struct {
	delivered [][]byte
}

func (r *recordingDeliverer) Deliver(packet []byte) error {
	r.delivered = append(r.delivered, append([]byte(nil), packet...))
	return nil
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", desc)
}

func buildIPv4Packet(src, dst net.IP, payload []byte) []byte {
	out := make([]byte, 20+len(payload))
	out[0] = 0x45
	copy(out[12:16], src.To4())
	copy(out[16:20], dst.To4())
	copy(out[20:], payload)
	return out
}

func TestReceivePathFullHandshakeAndDataDelivery(t *testing.T) {
	aliceSK, _ := newPrivateKey()
	bobSK, _ := newPrivateKey()
	alicePub := aliceSK.publicKey()
	bobPub := bobSK.publicKey()

	aliceDeliverer := &recordingDeliverer{}
	bobDeliverer := &recordingDeliverer{}

	aliceBind := &pipeBind{self: net.IPv4(10, 0, 0, 1)}
	bobBind := &pipeBind{self: net.IPv4(10, 0, 0, 2)}

	alice := NewDevice(aliceBind, aliceDeliverer, nil)
	bob := NewDevice(bobBind, bobDeliverer, nil)
	defer alice.Close()
	defer bob.Close()

	aliceBind.peer = bob
	bobBind.peer = alice

	alice.SetPrivateKey(aliceSK)
	bob.SetPrivateKey(bobSK)

	alicePeerOnAlice, err := alice.NewPeer(bobPub)
	if err != nil {
		t.Fatal(err)
	}
	bobPeerOnBob, err := bob.NewPeer(alicePub)
	if err != nil {
		t.Fatal(err)
	}

	if err := bob.allowedIPs.Insert(net.IPv4(10, 1, 0, 1), 32, bobPeerOnBob); err != nil {
		t.Fatal(err)
	}
	if err := alice.allowedIPs.Insert(net.IPv4(10, 1, 0, 2), 32, alicePeerOnAlice); err != nil {
		t.Fatal(err)
	}

	if err := alice.SendHandshakeInitiation(alicePeerOnAlice, false); err != nil {
		t.Fatalf("alice failed to send initiation: %v", err)
	}

	waitUntil(t, "alice derives a current keypair", func() bool {
		return alicePeerOnAlice.keypairs.Current() != nil
	})
	waitUntil(t, "bob derives a current keypair", func() bool {
		return bobPeerOnBob.keypairs.Current() != nil
	})

	inner := buildIPv4Packet(net.IPv4(10, 1, 0, 1), net.IPv4(10, 1, 0, 2), []byte("hello bob"))
	if err := alicePeerOnAlice.SendBuffer(inner); err != nil {
		t.Fatalf("alice failed to send data: %v", err)
	}

	waitUntil(t, "bob's deliverer receives the inner packet", func() bool {
		return len(bobDeliverer.delivered) == 1
	})
	if string(bobDeliverer.delivered[0][20:]) != "hello bob" {
		t.Fatalf("unexpected delivered payload: %q", bobDeliverer.delivered[0][20:])
	}
}

func TestReceivePathDropsPacketOutsideAllowedIPs(t *testing.T) {
	aliceSK, _ := newPrivateKey()
	bobSK, _ := newPrivateKey()
	alicePub := aliceSK.publicKey()
	bobPub := bobSK.publicKey()

	bobDeliverer := &recordingDeliverer{}
	aliceBind := &pipeBind{self: net.IPv4(10, 0, 0, 1)}
	bobBind := &pipeBind{self: net.IPv4(10, 0, 0, 2)}

	alice := NewDevice(aliceBind, &recordingDeliverer{}, nil)
	bob := NewDevice(bobBind, bobDeliverer, nil)
	defer alice.Close()
	defer bob.Close()

	aliceBind.peer = bob
	bobBind.peer = alice

	alice.SetPrivateKey(aliceSK)
	bob.SetPrivateKey(bobSK)

	alicePeerOnAlice, _ := alice.NewPeer(bobPub)
	bobPeerOnBob, _ := bob.NewPeer(alicePub)

	// bob deliberately has no allowed-ips entry for alice's peer.
	_ = bobPeerOnBob

	if err := alice.SendHandshakeInitiation(alicePeerOnAlice, false); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "alice derives a current keypair", func() bool {
		return alicePeerOnAlice.keypairs.Current() != nil
	})

	inner := buildIPv4Packet(net.IPv4(10, 1, 0, 1), net.IPv4(10, 1, 0, 2), []byte("should not arrive"))
	if err := alicePeerOnAlice.SendBuffer(inner); err != nil {
		t.Fatal(err)
	}

	// give the path a moment to (not) deliver, then assert it didn't.
	time.Sleep(20 * time.Millisecond)
	if len(bobDeliverer.delivered) != 0 {
		t.Fatalf("expected routing to drop the packet, but it was delivered: %v", bobDeliverer.delivered)
	}
	if got := bobPeerOnBob.stats.snapshot().DataDroppedRouting; got != 1 {
		t.Fatalf("expected exactly one routing drop recorded, got %d", got)
	}
}
