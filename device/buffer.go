package device

import (
	"sync"

	"github.com/wireward/tunneld/conn"
)

// Datagram is a pooled inbound buffer, carrying its source endpoint,
// from the moment it is read off the wire until it is freed, queued,
// or handed to the decryption pipeline / upper network stack
// (spec.md §3, "Datagram buffer"). It has no reference count: a single
// owner frees it once.
//
// Unlike a scatter-gather network buffer, an inbound UDP read always
// lands in one contiguous slice, so Pull here is a pure bounds check
// rather than a real linearization step — the method exists so the
// call sites read the same way the spec describes them.
type Datagram struct {
	raw      *[MaxMessageSize]byte
	data     []byte // the tunnel payload currently in view
	Source   conn.Endpoint
}

var datagramPool = sync.Pool{
	New: func() interface{} { return new([MaxMessageSize]byte) },
}

// NewDatagram borrows a backing array from the pool sized to receive
// one datagram.
func NewDatagram() *Datagram {
	raw := datagramPool.Get().(*[MaxMessageSize]byte)
	return &Datagram{raw: raw}
}

// SetLen points data at the first n bytes of the backing array, as
// after a successful socket read of n bytes.
func (d *Datagram) SetLen(n int) {
	d.data = d.raw[:n]
}

// Bytes returns the datagram's current payload view.
func (d *Datagram) Bytes() []byte { return d.data }

// Len reports the current payload length.
func (d *Datagram) Len() int { return len(d.data) }

// Pull ensures n bytes are contiguously available from the current
// view, returning them or false if the datagram is too short.
func (d *Datagram) Pull(n int) ([]byte, bool) {
	if n > len(d.data) {
		return nil, false
	}
	return d.data[:n], true
}

// Advance drops the first n bytes from the view, as when stripping an
// outer header.
func (d *Datagram) Advance(n int) {
	d.data = d.data[n:]
}

// Free returns the backing array to the pool. Must be called exactly
// once per Datagram, on whichever code path stops needing it (spec.md
// §8 invariant 1: freed, delivered, or queued-then-later-freed).
func (d *Datagram) Free() {
	if d.raw != nil {
		datagramPool.Put(d.raw)
		d.raw = nil
	}
	d.data = nil
}
