package device

import "testing"

func TestIndexTableInsertLookupDelete(t *testing.T) {
	table := NewIndexTable()
	peer := &Peer{}
	hs := &Handshake{}

	idx := table.Insert(peer, hs)

	gotPeer, gotHS, gotKP, ok := table.Lookup(idx)
	if !ok {
		t.Fatal("expected a lookup hit right after insert")
	}
	if gotPeer != peer || gotHS != hs || gotKP != nil {
		t.Fatal("expected the lookup to return exactly what was inserted")
	}

	table.Delete(idx)
	if _, _, _, ok := table.Lookup(idx); ok {
		t.Fatal("expected no entry after delete")
	}
}

func TestIndexTableSwapToKeypairPreservesIndex(t *testing.T) {
	table := NewIndexTable()
	peer := &Peer{}
	hs := &Handshake{}
	idx := table.Insert(peer, hs)

	kp := &Keypair{}
	table.SwapToKeypair(idx, peer, kp)

	gotPeer, gotHS, gotKP, ok := table.Lookup(idx)
	if !ok {
		t.Fatal("expected the swapped entry to still resolve under the same index")
	}
	if gotHS != nil {
		t.Fatal("expected the handshake reservation to be cleared after swapping to a keypair")
	}
	if gotKP != kp || gotPeer != peer {
		t.Fatal("expected the keypair and peer to match what was swapped in")
	}
}

func TestIndexTableInsertIsCollisionFree(t *testing.T) {
	table := NewIndexTable()
	peer := &Peer{}
	hs := &Handshake{}

	seen := make(map[uint32]bool)
	for i := 0; i < 256; i++ {
		idx := table.Insert(peer, hs)
		if seen[idx] {
			t.Fatalf("got a duplicate index %d after %d inserts", idx, i)
		}
		seen[idx] = true
	}
}
