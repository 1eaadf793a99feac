package store

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// ChromaDigest hashes the exact bit patterns of a chroma vector. Vectors
// that differ only by rounding hash differently.
func ChromaDigest(values []float64) uint64 {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return xxh3.Hash(buf)
}
