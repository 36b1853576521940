package fec

import (
	"fmt"

	"github.com/xssnick/raptorq"
)

// rqProtector covers the highest observed loss rates with RaptorQ
// fountain coding: repair symbols are generated on demand and decode
// succeeds as soon as any numSourceSymbols of them (in any mix of
// source/repair) have arrived.
type rqProtector struct {
	rq               raptorq.RaptorQ
	numSourceSymbols uint
	symbolSize       uint16
}

// NewRaptorQ builds a Protector over dataShards source symbols, each
// padded/chunked to symbolSize bytes.
func NewRaptorQ(dataShards int, symbolSize uint16) (Protector, error) {
	if dataShards <= 0 {
		return nil, fmt.Errorf("fec: raptorq source symbol count must be positive")
	}
	if symbolSize == 0 {
		return nil, fmt.Errorf("fec: raptorq symbol size must be positive")
	}
	return &rqProtector{
		rq:               raptorq.NewRaptorQ(symbolSize),
		numSourceSymbols: uint(dataShards),
		symbolSize:       symbolSize,
	}, nil
}

func (r *rqProtector) Algorithm() Algorithm    { return AlgorithmRaptorQ }
func (r *rqProtector) NumDataShards() int      { return int(r.numSourceSymbols) }
func (r *rqProtector) NumParityShards() int    { return int(r.numSourceSymbols) }
func (r *rqProtector) TotalShards() int        { return int(r.numSourceSymbols) * 2 }

// Encode returns numSourceSymbols source symbols followed by an equal
// number of repair symbols.
func (r *rqProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != int(r.numSourceSymbols) {
		return nil, fmt.Errorf("fec: raptorq encode wants %d shards, got %d", r.numSourceSymbols, len(source))
	}

	payload := make([]byte, 0, int(r.numSourceSymbols)*int(r.symbolSize))
	for i, s := range source {
		if s == nil {
			return nil, fmt.Errorf("fec: raptorq encode given a nil source shard at %d", i)
		}
		if len(s) > int(r.symbolSize) {
			return nil, fmt.Errorf("fec: raptorq source shard %d exceeds symbol size %d", i, r.symbolSize)
		}
		padded := make([]byte, r.symbolSize)
		copy(padded, s)
		payload = append(payload, padded...)
	}

	enc, err := r.rq.CreateEncoder(payload)
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq encoder setup: %w", err)
	}

	out := make([]Shard, 0, int(r.numSourceSymbols)*2)
	for i := uint32(0); i < uint32(r.numSourceSymbols); i++ {
		out = append(out, Shard(enc.GenSymbol(i)))
	}
	for i := uint32(0); i < uint32(r.numSourceSymbols); i++ {
		out = append(out, Shard(enc.GenSymbol(uint32(r.numSourceSymbols)+i)))
	}
	return out, nil
}

// Decode feeds every non-nil received symbol (indexed by its position,
// which doubles as its encoding symbol ID per Encode above) to the
// decoder until it reports a successful reconstruction.
func (r *rqProtector) Decode(received []Shard) ([]Shard, error) {
	payloadLen := uint64(r.numSourceSymbols) * uint64(r.symbolSize)
	dec, err := r.rq.CreateDecoder(payloadLen)
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq decoder setup: %w", err)
	}

	for i, s := range received {
		if s == nil {
			continue
		}
		canTry, err := dec.AddSymbol(uint32(i), s)
		if err != nil {
			continue
		}
		if !canTry {
			continue
		}
		ok, result, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("fec: raptorq decode attempt: %w", err)
		}
		if !ok {
			continue
		}
		out := make([]Shard, r.numSourceSymbols)
		for j := 0; j < int(r.numSourceSymbols); j++ {
			start := j * int(r.symbolSize)
			end := start + int(r.symbolSize)
			if end > len(result) {
				return nil, fmt.Errorf("fec: raptorq decoded payload too short")
			}
			out[j] = Shard(result[start:end])
		}
		return out, nil
	}
	return nil, ErrUnrecoverable
}
