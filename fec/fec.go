// Package fec reconstructs inbound tunnel datagrams lost to a lossy
// transport before they reach the receive demultiplexer. It is a
// supplemental feature: datagrams that do not carry the FEC envelope
// skip this package entirely.
package fec

import "errors"

// Shard is one data or repair fragment of a protected datagram group.
// A nil Shard denotes an erasure (the fragment never arrived).
type Shard []byte

// Algorithm identifies which FEC scheme produced a group's shards.
type Algorithm byte

const (
	AlgorithmNone Algorithm = iota
	AlgorithmXOR
	AlgorithmReedSolomon
	AlgorithmRaptorQ
)

// Protector encodes a batch of source datagrams into a shard group and
// reconstructs missing shards from whatever arrives.
type Protector interface {
	Algorithm() Algorithm
	NumDataShards() int
	NumParityShards() int
	TotalShards() int

	// Encode takes exactly NumDataShards() source datagrams and returns
	// TotalShards() shards (data shards followed by parity/repair shards).
	Encode(source []Shard) ([]Shard, error)

	// Decode takes TotalShards() slots, some possibly nil, and returns
	// the NumDataShards() recovered source datagrams.
	Decode(received []Shard) ([]Shard, error)
}

// ErrUnrecoverable is returned when too many shards in a group are
// missing for the scheme to reconstruct the originals.
var ErrUnrecoverable = errors.New("fec: group unrecoverable, too many missing shards")

// ForLossRate picks a protection scheme sized for an observed recent
// loss rate on a link, per the thresholds the tunnel configuration
// carries for this purpose.
func ForLossRate(lossRate float64, dataShards int) (Protector, error) {
	switch {
	case lossRate < NoFECMaxLossRate:
		return nil, nil
	case lossRate < XORFECMaxLossRate:
		return NewXOR(dataShards)
	case lossRate < RSFECMaxLossRate:
		parity := parityForLossRate(lossRate, dataShards)
		return NewReedSolomon(dataShards, parity)
	default:
		return NewRaptorQ(dataShards, 1400)
	}
}

// ProtectorForAlgorithm rebuilds the Protector matching an algorithm
// tag and total shard count observed on the wire, as used by a
// Reassembler to decode a group without needing to have chosen that
// scheme itself.
func ProtectorForAlgorithm(alg Algorithm, total int) (Protector, error) {
	switch alg {
	case AlgorithmNone:
		return nil, nil
	case AlgorithmXOR:
		return NewXOR(total - 1)
	case AlgorithmReedSolomon:
		// total is data+parity; the original split is not on the wire,
		// so this assumes one parity shard per five shards (at least
		// one). A group encoded with a different split does not decode.
		parity := total / 5
		if parity < 1 {
			parity = 1
		}
		return NewReedSolomon(total-parity, parity)
	case AlgorithmRaptorQ:
		return NewRaptorQ(total/2, 1400)
	default:
		return nil, nil
	}
}

func parityForLossRate(lossRate float64, dataShards int) int {
	parity := int(float64(dataShards)*lossRate) + 1
	if parity < 1 {
		parity = 1
	}
	if parity > dataShards {
		parity = dataShards
	}
	return parity
}

// Loss-rate thresholds a caller uses to pick a Protector via ForLossRate.
const (
	NoFECMaxLossRate  float64 = 0.01 // up to 1% loss: no FEC
	XORFECMaxLossRate float64 = 0.05 // up to 5% loss: single-parity XOR
	RSFECMaxLossRate  float64 = 0.20 // up to 20% loss: Reed-Solomon
	// above RSFECMaxLossRate: RaptorQ fountain coding
)
