package ratelimiter

import (
	"net"
	"testing"
	"time"
)

func TestRatelimiterBurstThenThrottle(t *testing.T) {
	var r Ratelimiter
	r.Init()
	defer r.Close()

	ip := net.ParseIP("192.168.1.1")

	for i := 0; i < packetsBurstable; i++ {
		if !r.Allow(ip) {
			t.Fatalf("packet %d within initial burst should be allowed", i)
		}
	}

	if r.Allow(ip) {
		t.Fatal("packet beyond initial burst should be throttled")
	}

	time.Sleep(2 * time.Second / packetsPerSecond)
	if !r.Allow(ip) {
		t.Fatal("packet should be allowed after refill")
	}
}

func TestRatelimiterPerSourceIndependence(t *testing.T) {
	var r Ratelimiter
	r.Init()
	defer r.Close()

	a := net.ParseIP("10.0.0.1")
	b := net.ParseIP("10.0.0.2")

	for i := 0; i < packetsBurstable; i++ {
		if !r.Allow(a) {
			t.Fatalf("ip a packet %d should be allowed", i)
		}
	}
	if r.Allow(a) {
		t.Fatal("ip a should be throttled after its own burst")
	}
	if !r.Allow(b) {
		t.Fatal("ip b should have its own independent budget")
	}
}

func TestRatelimiterIPv6(t *testing.T) {
	var r Ratelimiter
	r.Init()
	defer r.Close()

	ip := net.ParseIP("2001:0db8:0a0b:12f0:0000:0000:0000:0001")
	for i := 0; i < packetsBurstable; i++ {
		if !r.Allow(ip) {
			t.Fatalf("ipv6 packet %d within burst should be allowed", i)
		}
	}
	if r.Allow(ip) {
		t.Fatal("ipv6 packet beyond burst should be throttled")
	}
}
