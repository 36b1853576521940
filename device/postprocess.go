package device

import (
	"encoding/binary"
	"net"

	"github.com/wireward/tunneld/conn"
	"github.com/wireward/tunneld/fec"
)

// receiveData runs the decryption and cryptokey-routing enforcement
// path for a type-4 transport message (component E, spec.md §4.E). It
// demultiplexes by the receiver index carried in the header, decrypts
// under the matching keypair, checks the replay window, then verifies
// the inner packet's source address is one this peer is authorized to
// speak for before handing it to the deliverer.
func (d *Device) receiveData(payload []byte, src conn.Endpoint) {
	if len(payload) < MessageTransportHeaderSize+chacha20poly1305Overhead {
		return
	}

	receiverIndex := binary.LittleEndian.Uint32(payload[MessageTransportOffsetReceiver:MessageTransportOffsetCounter])
	counter := binary.LittleEndian.Uint64(payload[MessageTransportOffsetCounter:MessageTransportOffsetContent])
	ciphertext := payload[MessageTransportOffsetContent:]

	peer, _, kp, ok := d.indexTable.Lookup(receiverIndex)
	if !ok || kp == nil {
		return
	}

	var nonce [chacha20poly1305NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)

	plaintext, err := kp.recv.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return
	}

	if !kp.replay.ValidateCounter(counter) {
		return
	}

	peer.keypairs.ReceivedWithCurrent(kp)
	peer.SetEndpoint(src)
	peer.timersAnyAuthenticatedPacketReceived()
	peer.timersAnyAuthenticatedPacketTraversal()
	peer.timersDataReceived()
	peer.stats.addRx(uint64(len(plaintext)))

	if len(plaintext) == 0 {
		// keepalive: authenticates liveness, carries no payload to route.
		return
	}

	d.routeAndDeliver(plaintext, peer)
}

// routeAndDeliver enforces cryptokey routing on a decrypted inner
// packet before handing it off: the packet's source address must be
// within the sending peer's allowed-IPs, or it is dropped (spec.md
// §4.E's core security invariant).
func (d *Device) routeAndDeliver(packet []byte, peer *Peer) {
	src, ok := innerSourceAddr(packet)
	if !ok {
		peer.stats.incDroppedRouting()
		return
	}

	var routed *Peer
	if v4 := src.To4(); v4 != nil {
		routed = d.allowedIPs.LookupIPv4(v4)
	} else {
		routed = d.allowedIPs.LookupIPv6(src)
	}
	if routed != peer {
		peer.stats.incDroppedRouting()
		return
	}

	if d.deliverer != nil {
		_ = d.deliverer.Deliver(packet)
	}
}

func innerSourceAddr(packet []byte) (net.IP, bool) {
	if len(packet) < 1 {
		return nil, false
	}
	switch packet[0] >> 4 {
	case 4:
		if len(packet) < 20 {
			return nil, false
		}
		return net.IP(packet[12:16]), true
	case 6:
		if len(packet) < 40 {
			return nil, false
		}
		return net.IP(packet[8:24]), true
	default:
		return nil, false
	}
}

const chacha20poly1305Overhead = 16

// receiveFECShard feeds an inbound FEC-wrapped shard (spec.md's
// supplemental forward-error-correction component M) into the
// reassembler; recovered tunnel payloads are handed to the ordinary
// payload dispatch as if they had arrived directly.
func (d *Device) receiveFECShard(raw []byte, src conn.Endpoint) {
	hdr, shard, ok := fec.ParseHeader(raw)
	if !ok {
		return
	}
	recovered, err := d.fecReassembler.Add(hdr, shard)
	if err != nil {
		return
	}
	for _, datagram := range recovered {
		d.receivePayload(datagram, src)
	}
}
