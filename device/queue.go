package device

import (
	"sync"

	"github.com/wireward/tunneld/conn"
)

// HandshakeElement is one admitted handshake datagram awaiting the
// worker (spec.md §3, "Handshake admission queue").
type HandshakeElement struct {
	Kind     MessageKind
	Payload  []byte
	Source   conn.Endpoint
	datagram *Datagram
}

// handshakeQueue is a bounded FIFO of handshake datagrams plus an
// idempotent "poke" signal for the worker, matching the canonical
// work-queue shape from spec.md §9: a capacity-1 poke channel guards
// against redundant wakeups, and a capacity-MaxQueuedHandshakes slice
// holds the backlog.
type handshakeQueue struct {
	mu    sync.Mutex
	items []HandshakeElement
	cap   int

	poke chan struct{}
}

func newHandshakeQueue(capacity int) *handshakeQueue {
	return &handshakeQueue{
		items: make([]HandshakeElement, 0, capacity),
		cap:   capacity,
		poke:  make(chan struct{}, 1),
	}
}

// Len reports the queue's current depth.
func (q *handshakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends elem if the queue has room, signals the worker, and
// reports whether it was admitted. On overflow the caller retains
// ownership of elem and must drop it (spec.md §4.C).
func (q *handshakeQueue) Enqueue(elem HandshakeElement) bool {
	q.mu.Lock()
	if len(q.items) >= q.cap {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, elem)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *handshakeQueue) signal() {
	select {
	case q.poke <- struct{}{}:
	default:
		// a run is already pending; signals coalesce
	}
}

// DrainBurst removes up to k items in FIFO order. If items remain
// after the burst, it re-signals so the worker runs again.
func (q *handshakeQueue) DrainBurst(k int) []HandshakeElement {
	q.mu.Lock()
	if k > len(q.items) {
		k = len(q.items)
	}
	batch := make([]HandshakeElement, k)
	copy(batch, q.items[:k])
	q.items = q.items[k:]
	remaining := len(q.items)
	q.mu.Unlock()

	if remaining > 0 {
		q.signal()
	}
	return batch
}

// Wait blocks until the worker has been signalled to run.
func (q *handshakeQueue) Wait() <-chan struct{} {
	return q.poke
}
