package device

import (
	"encoding/binary"
	"net"

	"github.com/wireward/tunneld/conn"
	"github.com/wireward/tunneld/fec"
)

// ReceiveIPv4 and ReceiveIPv6 are the non-blocking receive entry point
// (component F, spec.md §4.F): they run on the I/O goroutine, must
// never block on peer locks or the handshake worker, and dispatch
// each datagram to exactly one of the handshake queue or the inline
// data-message path.
func (d *Device) ReceiveIPv4(b []byte, src conn.Endpoint) {
	d.receive(b, src)
}

func (d *Device) ReceiveIPv6(b []byte, src conn.Endpoint) {
	d.receive(b, src)
}

func (d *Device) receive(raw []byte, src conn.Endpoint) {
	offset, length, ok := ParseOuterFrame(raw)
	if !ok {
		return
	}
	d.receivePayload(raw[offset:offset+length], src)
}

// receivePayload dispatches a tunnel payload whose outer IP/UDP
// envelope has already been stripped.
func (d *Device) receivePayload(payload []byte, src conn.Endpoint) {
	// FEC is an optional pre-stage in front of the ordinary dispatch
	// (spec.md's component M): a shard-wrapped payload is buffered
	// and, once its group is reconstructable, each recovered payload
	// is passed back here as if it had arrived directly. Payloads
	// without the magic skip it.
	if isFECShard(payload) {
		d.receiveFECShard(payload, src)
		return
	}

	switch kind := ClassifyMessage(payload); kind {
	case KindData:
		d.receiveData(payload, src)
	case KindInitHandshake, KindRespHandshake:
		if srcAddr := endpointAddrBytes(src); srcAddr != nil && !d.rate.Allow(srcAddr) {
			return
		}
		d.admitHandshake(kind, payload, src)
	case KindCookieReply:
		d.receiveCookieReply(payload)
	default:
		return
	}
}

func isFECShard(payload []byte) bool {
	return len(payload) >= 2 && binary.BigEndian.Uint16(payload[:2]) == fec.Magic
}

func endpointAddrBytes(ep conn.Endpoint) net.IP {
	if ep == nil {
		return nil
	}
	return ep.DstIP()
}

// admitHandshake pushes an InitHandshake/RespHandshake datagram onto
// the bounded admission queue (component C). Overflow drops the
// datagram silently — the sender's own retransmit timer will try
// again (spec.md §4.C).
func (d *Device) admitHandshake(kind MessageKind, payload []byte, src conn.Endpoint) {
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	elem := HandshakeElement{Kind: kind, Payload: payloadCopy, Source: src}
	if !d.handshakeQueue.Enqueue(elem) {
		d.log.Verbosef("device: handshake admission queue full, dropping %s from %s", kind, endpointString(src))
	}
}

func endpointString(ep conn.Endpoint) string {
	if ep == nil {
		return "<nil>"
	}
	return ep.SrcToString()
}

// receiveCookieReply is handled inline rather than via the admission
// queue: it never creates new state and completes in O(1), so it
// can't be used to build a backlog (spec.md §4.B).
func (d *Device) receiveCookieReply(payload []byte) {
	msg, err := unmarshalCookieReply(payload)
	if err != nil {
		return
	}
	peer, _, _, ok := d.indexTable.Lookup(msg.ReceiverIndex)
	if !ok {
		return
	}
	peer.cookie.ConsumeReply(msg)
}

// RoutineHandshake is the single-consumer handshake worker (component
// D). It blocks on the admission queue's poke channel, then drains and
// processes a bounded burst before yielding, so one noisy peer cannot
// starve the others (spec.md §4.D).
func (d *Device) RoutineHandshake() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-d.handshakeQueue.Wait():
		}

		for _, elem := range d.handshakeQueue.DrainBurst(MaxBurstHandshakes) {
			d.processHandshakeElement(elem)
		}
	}
}

// processHandshakeElement runs the cookie verdict decision matrix and
// dispatches to the Noise consumption routine that matches the
// message kind (spec.md §4.D steps 3-6).
func (d *Device) processHandshakeElement(elem HandshakeElement) {
	srcAddr := endpointAddrBytes(elem.Source)

	underLoad := d.IsUnderLoad()
	verdict := d.cookieCheck.Verdict(elem.Payload, srcAddr)

	switch verdict {
	case InvalidMac:
		return
	case ValidMac1NoCookie:
		if underLoad {
			d.replyWithCookie(elem)
			return
		}
	case ValidMac1WithCookie:
		// proceeds unconditionally regardless of load.
	}

	switch elem.Kind {
	case KindInitHandshake:
		d.consumeInitiation(elem)
	case KindRespHandshake:
		d.consumeResponse(elem)
	}
}

// replyWithCookie mints a CookieReply so a legitimate peer can prove
// it owns its source address before the worker spends any crypto on
// it (spec.md §4.D, DoS mitigation path).
func (d *Device) replyWithCookie(elem HandshakeElement) {
	var receiverIndex uint32
	switch elem.Kind {
	case KindInitHandshake:
		msg, err := unmarshalInitiation(elem.Payload)
		if err != nil {
			return
		}
		receiverIndex = msg.Sender
	case KindRespHandshake:
		msg, err := unmarshalResponse(elem.Payload)
		if err != nil {
			return
		}
		receiverIndex = msg.Sender
	default:
		return
	}

	srcAddr := endpointAddrBytes(elem.Source)
	reply, err := d.cookieCheck.CreateReply(elem.Payload, receiverIndex, srcAddr)
	if err != nil {
		return
	}
	if elem.Source == nil {
		return
	}
	_ = d.net.bind.Send(marshalCookieReply(reply), elem.Source)
}

func (d *Device) consumeInitiation(elem HandshakeElement) {
	msg, err := unmarshalInitiation(elem.Payload)
	if err != nil {
		return
	}

	d.staticIdentity.mu.RLock()
	sk := d.staticIdentity.privateKey
	d.staticIdentity.mu.RUnlock()

	var probe Handshake
	probe.localStatic = sk
	probe.localStaticPub = sk.publicKey()

	var matched *Peer
	lookup := func(remote NoisePublicKey) (*Handshake, bool) {
		d.peers.mu.RLock()
		defer d.peers.mu.RUnlock()
		peer, ok := d.peers.all[remote]
		if !ok {
			return nil, false
		}
		matched = peer
		return &peer.handshake, true
	}

	if err := probe.ConsumeInitiation(msg, lookup); err != nil {
		return
	}
	if matched == nil {
		return
	}

	matched.mu.Lock()
	matched.handshake.precomputedStaticStatic = sk.sharedSecret(matched.handshake.remoteStatic)
	matched.mu.Unlock()

	matched.SetEndpoint(elem.Source)
	matched.timersAnyAuthenticatedPacketReceived()
	matched.timersAnyAuthenticatedPacketTraversal()

	resp, err := matched.handshake.CreateResponse()
	if err != nil {
		return
	}
	index := d.indexTable.Insert(matched, &matched.handshake)
	matched.handshake.mu.Lock()
	matched.handshake.localIndex = index
	matched.handshake.mu.Unlock()
	resp.Sender = index

	raw := marshalResponse(resp)
	matched.cookie.AddMacs(raw)

	kp, err := matched.handshake.BeginSession(false)
	if err == nil {
		matched.keypairs.Insert(kp)
		d.indexTable.SwapToKeypair(kp.localIndex, matched, kp)
		matched.timersSessionDerived()
		matched.timersHandshakeComplete()
	}
	matched.stats.incAdmitted()
	_ = d.net.bind.Send(raw, elem.Source)
}

func (d *Device) consumeResponse(elem HandshakeElement) {
	msg, err := unmarshalResponse(elem.Payload)
	if err != nil {
		return
	}

	peer, handshake, _, ok := d.indexTable.Lookup(msg.Receiver)
	if !ok || handshake == nil {
		return
	}

	if err := handshake.ConsumeResponse(msg); err != nil {
		return
	}

	peer.SetEndpoint(elem.Source)
	peer.timersAnyAuthenticatedPacketReceived()
	peer.timersAnyAuthenticatedPacketTraversal()

	kp, err := handshake.BeginSession(true)
	if err != nil {
		return
	}
	peer.keypairs.Insert(kp)
	d.indexTable.SwapToKeypair(kp.localIndex, peer, kp)
	peer.timersSessionDerived()
	peer.timersHandshakeComplete()
	peer.stats.incAdmitted()
	peer.SendKeepalive()
}
