package device

import (
	"net"
	"testing"

	"github.com/wireward/tunneld/conn"
	"github.com/wireward/tunneld/fec"
)

// fecShardBind behaves like pipeBind except it wraps every datagram it
// relays in a single-shard XOR envelope before delivering it, so a
// full handshake run end-to-end through it only succeeds if the
// receive path's FEC pre-stage actually unwraps and resubmits each
// datagram (spec.md's component M, wired in front of component F).
type fecShardBind struct {
	peer  *Device
	self  net.IP
	group fec.GroupID
}

func (b *fecShardBind) Open(port uint16) (uint16, error) { return port, nil }
func (b *fecShardBind) ReceiveIPv4(p []byte) (int, conn.Endpoint, error) {
	<-make(chan struct{})
	return 0, nil, nil
}
func (b *fecShardBind) ReceiveIPv6(p []byte) (int, conn.Endpoint, error) {
	return b.ReceiveIPv4(p)
}
func (b *fecShardBind) Close() error { return nil }

func (b *fecShardBind) Send(payload []byte, ep conn.Endpoint) error {
	b.group++
	hdr := fec.Header{
		Algorithm:   fec.AlgorithmXOR,
		GroupID:     b.group,
		ShardIndex:  0,
		TotalShards: 2,
		OrigLen:     uint16(len(payload)),
	}
	shard := hdr.Marshal(payload, true)
	raw := buildIPv4UDP(shard)
	src := &conn.StdNetEndpoint{IP: b.self, Port: 51820}
	b.peer.ReceiveIPv4(raw, src)
	return nil
}

// TestFECPreStageUnwrapsShardsForFullHandshake exercises spec.md's
// component M pre-stage end to end: every datagram exchanged between
// alice and bob is shard-wrapped in transit, and the handshake and
// subsequent data delivery only succeed if Device.receive unwraps and
// resubmits the recovered datagram through the ordinary dispatch path.
func TestFECPreStageUnwrapsShardsForFullHandshake(t *testing.T) {
	aliceSK, _ := newPrivateKey()
	bobSK, _ := newPrivateKey()
	alicePub := aliceSK.publicKey()
	bobPub := bobSK.publicKey()

	bobDeliverer := &recordingDeliverer{}

	aliceBind := &fecShardBind{self: net.IPv4(10, 0, 0, 1)}
	bobBind := &fecShardBind{self: net.IPv4(10, 0, 0, 2)}

	alice := NewDevice(aliceBind, &recordingDeliverer{}, nil)
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

	waitUntil(t, "alice derives a current keypair through shard-wrapped messages", func() bool {
		return alicePeerOnAlice.keypairs.Current() != nil
	})
	waitUntil(t, "bob derives a current keypair through shard-wrapped messages", func() bool {
		return bobPeerOnBob.keypairs.Current() != nil
	})

	inner := buildIPv4Packet(net.IPv4(10, 1, 0, 1), net.IPv4(10, 1, 0, 2), []byte("hello via fec"))
	if err := alicePeerOnAlice.SendBuffer(inner); err != nil {
		t.Fatalf("alice failed to send data: %v", err)
	}

	waitUntil(t, "bob's deliverer receives the shard-reconstructed inner packet", func() bool {
		return len(bobDeliverer.delivered) == 1
	})
	if string(bobDeliverer.delivered[0][20:]) != "hello via fec" {
		t.Fatalf("unexpected delivered payload: %q", bobDeliverer.delivered[0][20:])
	}
}
