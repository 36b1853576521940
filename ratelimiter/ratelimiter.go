// Package ratelimiter throttles handshake responses per source IP, as
// defense-in-depth behind the cookie-challenge mitigation.
package ratelimiter

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	packetsPerSecond   = 20
	packetsBurstable   = 5
	garbageCollectTime = time.Minute
)

// Ratelimiter tracks a golang.org/x/time/rate.Limiter per source IP
// address and garbage-collects entries that have gone idle.
type Ratelimiter struct {
	mu        sync.RWMutex
	stop      chan struct{}
	tableIPv4 map[[net.IPv4len]byte]*entry
	tableIPv6 map[[net.IPv6len]byte]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen atomicTime
}

type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// Init (re)initializes the rate limiter and starts its garbage
// collection goroutine. Safe to call again after Close.
func (r *Ratelimiter) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		close(r.stop)
	}
	r.stop = make(chan struct{})
	r.tableIPv4 = make(map[[net.IPv4len]byte]*entry)
	r.tableIPv6 = make(map[[net.IPv6len]byte]*entry)

	stop := r.stop
	go func() {
		ticker := time.NewTicker(garbageCollectTime)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.collectGarbage()
			}
		}
	}()
}

func (r *Ratelimiter) collectGarbage() {
	cutoff := time.Now().Add(-garbageCollectTime)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.tableIPv4 {
		if e.lastSeen.load().Before(cutoff) {
			delete(r.tableIPv4, key)
		}
	}
	for key, e := range r.tableIPv6 {
		if e.lastSeen.load().Before(cutoff) {
			delete(r.tableIPv6, key)
		}
	}
}

// Close stops garbage collection. The Ratelimiter may be reused after
// a subsequent Init.
func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// Allow reports whether a packet from ip may proceed, consuming one
// token from that source's bucket if so.
func (r *Ratelimiter) Allow(ip net.IP) bool {
	var e *entry

	if ip4 := ip.To4(); ip4 != nil {
		var key [net.IPv4len]byte
		copy(key[:], ip4)

		r.mu.RLock()
		e = r.tableIPv4[key]
		r.mu.RUnlock()

		if e == nil {
			r.mu.Lock()
			e = r.tableIPv4[key]
			if e == nil {
				e = newEntry()
				r.tableIPv4[key] = e
			}
			r.mu.Unlock()
		}
	} else {
		var key [net.IPv6len]byte
		copy(key[:], ip.To16())

		r.mu.RLock()
		e = r.tableIPv6[key]
		r.mu.RUnlock()

		if e == nil {
			r.mu.Lock()
			e = r.tableIPv6[key]
			if e == nil {
				e = newEntry()
				r.tableIPv6[key] = e
			}
			r.mu.Unlock()
		}
	}

	e.lastSeen.store(time.Now())
	return e.limiter.Allow()
}

func newEntry() *entry {
	return &entry{
		limiter: rate.NewLimiter(rate.Limit(packetsPerSecond), packetsBurstable),
	}
}
