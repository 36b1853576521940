package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// indexTableEntry is what a locally-assigned index number resolves
// to: either an in-progress handshake or a live peer/keypair pair
// (spec.md §4.F, "index demultiplex").
type indexTableEntry struct {
	peer      *Peer
	handshake *Handshake
	keypair   *Keypair
}

// IndexTable maps the 32-bit sender index a peer stamps on every
// handshake and transport message back to local peer/handshake state,
// so the receive path never has to scan the peer set.
type IndexTable struct {
	mu      sync.RWMutex
	entries map[uint32]indexTableEntry
}

func NewIndexTable() *IndexTable {
	return &IndexTable{entries: make(map[uint32]indexTableEntry)}
}

func randomIndex() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Insert reserves a fresh, collision-free index for a handshake in
// progress and returns it.
func (t *IndexTable) Insert(peer *Peer, handshake *Handshake) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		index := randomIndex()
		if _, taken := t.entries[index]; taken {
			continue
		}
		t.entries[index] = indexTableEntry{peer: peer, handshake: handshake}
		return index
	}
}

// SwapToKeypair replaces a handshake's reservation with its derived
// keypair once the session has been established, keeping the same
// index so in-flight lookups don't need to change.
func (t *IndexTable) SwapToKeypair(index uint32, peer *Peer, kp *Keypair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[index] = indexTableEntry{peer: peer, keypair: kp}
}

// Lookup resolves a locally-assigned index to its owning peer, if
// any index is still registered under it.
func (t *IndexTable) Lookup(index uint32) (peer *Peer, handshake *Handshake, keypair *Keypair, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[index]
	if !ok {
		return nil, nil, nil, false
	}
	return e.peer, e.handshake, e.keypair, true
}

// Delete removes index, e.g. when a peer is torn down or a handshake
// attempt is abandoned.
func (t *IndexTable) Delete(index uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, index)
}
