package device

import "testing"

func TestCookieCheckerVerdictMatrix(t *testing.T) {
	respSK, _ := newPrivateKey()
	respPK := respSK.publicKey()

	var checker CookieChecker
	checker.Init(respPK)

	var gen CookieGenerator
	gen.Init(respPK)

	msg := make([]byte, MessageInitiationSize)
	gen.AddMacs(msg)

	if got := checker.Verdict(msg, []byte{1, 2, 3, 4}); got != ValidMac1NoCookie {
		t.Fatalf("expected ValidMac1NoCookie before any cookie exchange, got %v", got)
	}

	msg[20] ^= 0xff // corrupt the message body covered by MAC1
	if got := checker.Verdict(msg, []byte{1, 2, 3, 4}); got != InvalidMac {
		t.Fatalf("expected InvalidMac for a tampered message, got %v", got)
	}
}

func TestCookieReplyRoundTrip(t *testing.T) {
	respSK, _ := newPrivateKey()
	respPK := respSK.publicKey()

	var checker CookieChecker
	checker.Init(respPK)

	var gen CookieGenerator
	gen.Init(respPK)

	msg := make([]byte, MessageInitiationSize)
	gen.AddMacs(msg)

	reply, err := checker.CreateReply(msg, 99, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	if !gen.ConsumeReply(reply) {
		t.Fatal("expected generator to accept its own cookie reply")
	}

	msg2 := make([]byte, MessageInitiationSize)
	gen.AddMacs(msg2)
	if got := checker.Verdict(msg2, []byte{1, 2, 3, 4}); got != ValidMac1WithCookie {
		t.Fatalf("expected ValidMac1WithCookie once a cookie has been learned, got %v", got)
	}
}

func TestCookieReplyRejectsWrongSource(t *testing.T) {
	respSK, _ := newPrivateKey()
	respPK := respSK.publicKey()

	var checker CookieChecker
	checker.Init(respPK)

	var gen CookieGenerator
	gen.Init(respPK)

	msg := make([]byte, MessageInitiationSize)
	gen.AddMacs(msg)

	reply, err := checker.CreateReply(msg, 99, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if !gen.ConsumeReply(reply) {
		t.Fatal("expected generator to accept its own cookie reply")
	}

	msg2 := make([]byte, MessageInitiationSize)
	gen.AddMacs(msg2)
	if got := checker.Verdict(msg2, []byte{9, 9, 9, 9}); got == ValidMac1WithCookie {
		t.Fatal("cookie minted for one source address should not validate from another")
	}
}
