package fec

import (
	"errors"
	"fmt"
)

// xorProtector is a single-parity-shard scheme: cheapest possible
// recovery, good for the lowest observed loss rates.
type xorProtector struct {
	dataShards int
}

// NewXOR builds a Protector that tolerates the loss of exactly one
// shard out of dataShards+1.
func NewXOR(dataShards int) (Protector, error) {
	if dataShards <= 0 {
		return nil, errors.New("fec: xor data shard count must be positive")
	}
	return &xorProtector{dataShards: dataShards}, nil
}

func (x *xorProtector) Algorithm() Algorithm    { return AlgorithmXOR }
func (x *xorProtector) NumDataShards() int      { return x.dataShards }
func (x *xorProtector) NumParityShards() int    { return 1 }
func (x *xorProtector) TotalShards() int        { return x.dataShards + 1 }

func (x *xorProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != x.dataShards {
		return nil, fmt.Errorf("fec: xor encode wants %d shards, got %d", x.dataShards, len(source))
	}

	maxLen := 0
	for _, s := range source {
		if s == nil {
			return nil, errors.New("fec: xor encode given a nil source shard")
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	parity := make(Shard, maxLen)
	padded := make(Shard, maxLen)
	for _, s := range source {
		copy(padded, s)
		for i := len(s); i < maxLen; i++ {
			padded[i] = 0
		}
		for i := 0; i < maxLen; i++ {
			parity[i] ^= padded[i]
		}
	}

	out := make([]Shard, x.dataShards+1)
	copy(out, source)
	out[x.dataShards] = parity
	return out, nil
}

func (x *xorProtector) Decode(received []Shard) ([]Shard, error) {
	if len(received) != x.dataShards+1 {
		return nil, fmt.Errorf("fec: xor decode wants %d shards, got %d", x.dataShards+1, len(received))
	}

	var missing []int
	maxLen := 0
	for i, s := range received {
		if s == nil {
			missing = append(missing, i)
			continue
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	if len(missing) == 0 {
		return received[:x.dataShards], nil
	}
	if len(missing) > 1 {
		return nil, ErrUnrecoverable
	}

	missingIndex := missing[0]
	recovered := make(Shard, maxLen)
	padded := make(Shard, maxLen)
	for i, s := range received {
		if i == missingIndex {
			continue
		}
		copy(padded, s)
		for j := len(s); j < maxLen; j++ {
			padded[j] = 0
		}
		for j := 0; j < maxLen; j++ {
			recovered[j] ^= padded[j]
		}
	}

	out := make([]Shard, x.dataShards)
	for i := 0; i < x.dataShards; i++ {
		if i == missingIndex {
			out[i] = recovered
		} else {
			out[i] = received[i]
		}
	}
	return out, nil
}
