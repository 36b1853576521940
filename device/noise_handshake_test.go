package device

import "testing"

func TestHandshakeFullExchangeDerivesMatchingKeys(t *testing.T) {
	initSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	respSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	initPK := initSK.publicKey()
	respPK := respSK.publicKey()

	var initiator, responder Handshake
	initiator.Init(initSK, respPK)
	responder.Init(respSK, initPK)

	initiation, err := initiator.CreateInitiation()
	if err != nil {
		t.Fatal(err)
	}

	var probe Handshake
	probe.localStatic = respSK
	probe.localStaticPub = respPK
	if err := probe.ConsumeInitiation(initiation, func(remote NoisePublicKey) (*Handshake, bool) {
		if !remote.Equals(initPK) {
			return nil, false
		}
		return &responder, true
	}); err != nil {
		t.Fatalf("responder failed to consume initiation: %v", err)
	}

	response, err := responder.CreateResponse()
	if err != nil {
		t.Fatal(err)
	}

	if err := initiator.ConsumeResponse(response); err != nil {
		t.Fatalf("initiator failed to consume response: %v", err)
	}

	initiatorKP, err := initiator.BeginSession(true)
	if err != nil {
		t.Fatal(err)
	}
	responderKP, err := responder.BeginSession(false)
	if err != nil {
		t.Fatal(err)
	}

	if initiatorKP.sendKey != responderKP.recvKey {
		t.Fatal("initiator's send key should equal responder's receive key")
	}
	if initiatorKP.recvKey != responderKP.sendKey {
		t.Fatal("initiator's receive key should equal responder's send key")
	}

	plaintext := []byte("hello across the tunnel")
	var nonce [chacha20poly1305NonceSize]byte
	ciphertext := initiatorKP.send.Seal(nil, nonce[:], plaintext, nil)
	decrypted, err := responderKP.recv.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		t.Fatalf("responder failed to decrypt initiator's message: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("decrypted plaintext mismatch: got %q", decrypted)
	}
}

func TestHandshakeRejectsReplayedInitiation(t *testing.T) {
	initSK, _ := newPrivateKey()
	respSK, _ := newPrivateKey()
	initPK := initSK.publicKey()
	respPK := respSK.publicKey()

	var initiator, responder Handshake
	initiator.Init(initSK, respPK)
	responder.Init(respSK, initPK)

	initiation, err := initiator.CreateInitiation()
	if err != nil {
		t.Fatal(err)
	}

	lookup := func(remote NoisePublicKey) (*Handshake, bool) {
		if !remote.Equals(initPK) {
			return nil, false
		}
		return &responder, true
	}

	var probe Handshake
	probe.localStatic = respSK
	probe.localStaticPub = respPK
	if err := probe.ConsumeInitiation(initiation, lookup); err != nil {
		t.Fatalf("first consumption should succeed: %v", err)
	}

	responder.state = handshakeZeroed // simulate a fresh exchange slot reused by the same peer
	if err := probe.ConsumeInitiation(initiation, lookup); err == nil {
		t.Fatal("expected a replayed initiation (same timestamp) to be rejected")
	}
}
