package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// rsProtector covers the mid-range loss band with a Reed-Solomon
// erasure code, tolerating the loss of up to parityShards shards.
type rsProtector struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewReedSolomon builds a Protector tolerating the loss of up to
// parityShards out of dataShards+parityShards.
func NewReedSolomon(dataShards, parityShards int) (Protector, error) {
	enc, err := reedsolomon.New(dataShards, parityShards, reedsolomon.WithAutoGoroutines(1500))
	if err != nil {
		return nil, fmt.Errorf("fec: reed-solomon setup: %w", err)
	}
	return &rsProtector{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (rs *rsProtector) Algorithm() Algorithm { return AlgorithmReedSolomon }
func (rs *rsProtector) NumDataShards() int   { return rs.dataShards }
func (rs *rsProtector) NumParityShards() int { return rs.parityShards }
func (rs *rsProtector) TotalShards() int     { return rs.dataShards + rs.parityShards }

func (rs *rsProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != rs.dataShards {
		return nil, fmt.Errorf("fec: rs encode wants %d shards, got %d", rs.dataShards, len(source))
	}

	shards := make([][]byte, rs.dataShards+rs.parityShards)
	maxLen := 0
	for i, s := range source {
		if s == nil {
			return nil, fmt.Errorf("fec: rs encode given a nil source shard at %d", i)
		}
		shards[i] = s
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for i := 0; i < rs.dataShards; i++ {
		if len(shards[i]) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, shards[i])
			shards[i] = padded
		}
	}
	for i := rs.dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, maxLen)
	}

	if err := rs.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon encode: %w", err)
	}

	out := make([]Shard, len(shards))
	for i, s := range shards {
		out[i] = Shard(s)
	}
	return out, nil
}

func (rs *rsProtector) Decode(received []Shard) ([]Shard, error) {
	if len(received) != rs.dataShards+rs.parityShards {
		return nil, fmt.Errorf("fec: rs decode wants %d shards, got %d", rs.dataShards+rs.parityShards, len(received))
	}

	shards := make([][]byte, len(received))
	missing := 0
	maxLen := 0
	for i, s := range received {
		shards[i] = s
		if s == nil {
			missing++
		} else if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	if missing > rs.parityShards {
		return nil, ErrUnrecoverable
	}
	if missing == 0 {
		out := make([]Shard, rs.dataShards)
		for i := 0; i < rs.dataShards; i++ {
			out[i] = Shard(shards[i])
		}
		return out, nil
	}

	for i, s := range shards {
		if s != nil && len(s) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, s)
			shards[i] = padded
		}
	}

	if err := rs.enc.ReconstructData(shards); err != nil {
		ok, _ := rs.enc.Verify(shards)
		if !ok {
			if err := rs.enc.Reconstruct(shards); err != nil {
				return nil, fmt.Errorf("fec: reed-solomon reconstruct: %w", err)
			}
		}
	}

	out := make([]Shard, rs.dataShards)
	for i := 0; i < rs.dataShards; i++ {
		if shards[i] == nil {
			return nil, ErrUnrecoverable
		}
		out[i] = Shard(shards[i])
	}
	return out, nil
}
