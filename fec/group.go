package fec

import (
	"encoding/binary"
	"sync"
	"time"
)

// Magic marks a datagram as carrying the FEC shard envelope rather
// than a bare tunnel message; the receive path checks for it before
// anything else touches the datagram.
const Magic uint16 = 0xFEEC

// HeaderSize is the length of the envelope prefixed to every shard:
// Magic(2) Algorithm(1) Flags(1) GroupID(4) ShardIndex(1) TotalShards(1) OrigLen(2).
const HeaderSize = 12

const flagLastSourceShard byte = 0x02

// GroupID identifies one shard group. The sender assigns these
// monotonically per protected batch.
type GroupID uint32

// Header is the parsed form of a shard envelope.
type Header struct {
	Algorithm   Algorithm
	GroupID     GroupID
	ShardIndex  uint8
	TotalShards uint8
	OrigLen     uint16
}

// ParseHeader reads a Header from the front of b, reporting whether b
// began with the FEC magic and was long enough to hold one.
func ParseHeader(b []byte) (Header, []byte, bool) {
	if len(b) < HeaderSize {
		return Header{}, nil, false
	}
	if binary.BigEndian.Uint16(b[0:2]) != Magic {
		return Header{}, nil, false
	}
	h := Header{
		Algorithm:   Algorithm(b[2]),
		GroupID:     GroupID(binary.BigEndian.Uint32(b[4:8])),
		ShardIndex:  b[8],
		TotalShards: b[9],
		OrigLen:     binary.BigEndian.Uint16(b[10:12]),
	}
	return h, b[HeaderSize:], true
}

// Marshal serializes h followed by shard into a wire-ready envelope.
func (h Header) Marshal(shard []byte, last bool) []byte {
	out := make([]byte, HeaderSize+len(shard))
	binary.BigEndian.PutUint16(out[0:2], Magic)
	out[2] = byte(h.Algorithm)
	if last {
		out[3] = flagLastSourceShard
	}
	binary.BigEndian.PutUint32(out[4:8], uint32(h.GroupID))
	out[8] = h.ShardIndex
	out[9] = h.TotalShards
	binary.BigEndian.PutUint16(out[10:12], h.OrigLen)
	copy(out[HeaderSize:], shard)
	return out
}

type pendingGroup struct {
	algorithm Algorithm
	shards    []Shard
	origLens  []uint16
	received  int
	deadline  time.Time
}

// Reassembler buffers arriving shards by group and reconstructs the
// original datagrams once a group becomes decodable; a group that times
// out first is discarded.
type Reassembler struct {
	mu      sync.Mutex
	groups  map[GroupID]*pendingGroup
	timeout time.Duration

	protectorFor func(Algorithm, int) (Protector, error)
}

// NewReassembler builds a Reassembler. protectorFor constructs the
// Protector matching a group's advertised algorithm and total shard
// count; timeout bounds how long an incomplete group is held before
// being discarded.
func NewReassembler(timeout time.Duration, protectorFor func(Algorithm, int) (Protector, error)) *Reassembler {
	return &Reassembler{
		groups:       make(map[GroupID]*pendingGroup),
		timeout:      timeout,
		protectorFor: protectorFor,
	}
}

// Add ingests one shard. When the group it belongs to becomes
// decodable, it returns the recovered source datagrams and removes the
// group. Datagrams whose shard arrived are trimmed to their original
// lengths; one rebuilt from parity keeps the padded length of its
// group, since its own length is not carried by any shard that
// arrived. Otherwise it returns (nil, nil) and the shard is held
// pending more arrivals.
func (r *Reassembler) Add(h Header, shard Shard) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	total := int(h.TotalShards)

	g, ok := r.groups[h.GroupID]
	if !ok {
		g = &pendingGroup{
			algorithm: h.Algorithm,
			shards:    make([]Shard, total),
			origLens:  make([]uint16, total),
			deadline:  time.Now().Add(r.timeout),
		}
		r.groups[h.GroupID] = g
	}

	if int(h.ShardIndex) >= len(g.shards) {
		return nil, nil
	}
	if g.shards[h.ShardIndex] == nil {
		g.shards[h.ShardIndex] = shard
		g.origLens[h.ShardIndex] = h.OrigLen
		g.received++
	}

	protector, err := r.protectorFor(g.algorithm, total)
	if err != nil {
		return nil, err
	}
	if protector == nil || g.received < protector.NumDataShards() {
		return nil, nil
	}

	recovered, err := protector.Decode(g.shards)
	if err != nil {
		if err == ErrUnrecoverable {
			return nil, nil
		}
		return nil, err
	}

	delete(r.groups, h.GroupID)

	out := make([][]byte, len(recovered))
	for i, s := range recovered {
		n := int(g.origLens[i])
		if n > len(s) || g.shards[i] == nil {
			n = len(s)
		}
		out[i] = []byte(s[:n])
	}
	return out, nil
}

func (r *Reassembler) expireLocked() {
	now := time.Now()
	for id, g := range r.groups {
		if now.After(g.deadline) {
			delete(r.groups, id)
		}
	}
}
