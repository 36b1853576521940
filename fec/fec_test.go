package fec

import (
	"testing"
	"time"
)

func TestXORRoundTripNoLoss(t *testing.T) {
	p, err := NewXOR(3)
	if err != nil {
		t.Fatal(err)
	}
	source := []Shard{{1, 2, 3}, {4, 5}, {6, 7, 8, 9}}
	encoded, err := p.Encode(source)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := p.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	for i := range source {
		if len(decoded[i]) < len(source[i]) {
			t.Fatalf("shard %d too short", i)
		}
		for j, b := range source[i] {
			if decoded[i][j] != b {
				t.Fatalf("shard %d byte %d mismatch", i, j)
			}
		}
	}
}

func TestXORRecoversOneLoss(t *testing.T) {
	p, err := NewXOR(3)
	if err != nil {
		t.Fatal(err)
	}
	source := []Shard{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	encoded, err := p.Encode(source)
	if err != nil {
		t.Fatal(err)
	}

	encoded[1] = nil
	decoded, err := p.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	for j, b := range source[1] {
		if decoded[1][j] != b {
			t.Fatalf("byte %d mismatch after recovery", j)
		}
	}
}

func TestXORUnrecoverableWithTwoLosses(t *testing.T) {
	p, _ := NewXOR(3)
	source := []Shard{{1}, {2}, {3}}
	encoded, _ := p.Encode(source)
	encoded[0] = nil
	encoded[1] = nil

	if _, err := p.Decode(encoded); err != ErrUnrecoverable {
		t.Fatalf("expected ErrUnrecoverable, got %v", err)
	}
}

func TestReedSolomonRecoversWithinParity(t *testing.T) {
	p, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	source := []Shard{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	encoded, err := p.Encode(source)
	if err != nil {
		t.Fatal(err)
	}

	encoded[0] = nil
	encoded[3] = nil

	decoded, err := p.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	for i := range source {
		for j, b := range source[i] {
			if decoded[i][j] != b {
				t.Fatalf("shard %d byte %d mismatch", i, j)
			}
		}
	}
}

func TestReassemblerReconstructsGroup(t *testing.T) {
	r := NewReassembler(time.Minute, ProtectorForAlgorithm)
	p, err := NewXOR(2)
	if err != nil {
		t.Fatal(err)
	}

	source := []Shard{{10, 20}, {30, 40}}
	encoded, err := p.Encode(source)
	if err != nil {
		t.Fatal(err)
	}

	var got [][]byte
	for i, shard := range encoded {
		if i == 0 {
			continue // drop one data shard, force reconstruction via parity
		}
		h := Header{Algorithm: AlgorithmXOR, GroupID: 1, ShardIndex: uint8(i), TotalShards: uint8(len(encoded)), OrigLen: uint16(len(shard))}
		out, err := r.Add(h, shard)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			got = out
		}
	}

	if got == nil {
		t.Fatal("expected group to become decodable")
	}
	if got[0][0] != 10 || got[0][1] != 20 {
		t.Fatalf("unexpected recovered shard 0: %v", got[0])
	}
}
