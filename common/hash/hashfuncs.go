// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hash

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// HashB using blake2b calculates 256 bits hash and returns the resulting bytes.
func HashB(b []byte) []byte {
	hash := blake2b.Sum256(b)
	return hash[:]
}

// HashH calculates hash(b) and returns the resulting bytes as a Hash.
func HashH(b []byte) Hash {
	return Hash(blake2b.Sum256(b))
}

// DoubleHashB calculates hash(hash(b)) and returns the resulting bytes.
func DoubleHashB(b []byte) []byte {
	first := blake2b.Sum256(b)
	second := blake2b.Sum256(first[:])
	return second[:]
}

// DoubleHashH calculates hash(hash(b)) and returns the resulting bytes as a
// Hash.
func DoubleHashH(b []byte) Hash {
	first := blake2b.Sum256(b)
	return Hash(blake2b.Sum256(first[:]))
}

// HashPair calculates hash(left || right).  It is the node-combining
// function for every merkle structure in the consensus engine.
func HashPair(left, right Hash) Hash {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return HashH(buf[:])
}

// HashWithIndex calculates hash(le64(index) || b).  It is used where a
// digest must be bound to a position, such as the bagging of mountain
// range peaks with their leaf count.
func HashWithIndex(index uint64, b []byte) Hash {
	buf := make([]byte, 8+len(b))
	binary.LittleEndian.PutUint64(buf[:8], index)
	copy(buf[8:], b)
	return HashH(buf)
}

// SampleIndices derives count pseudo-random values in [0, bound) from the
// given seed material.  The derivation is deterministic: the same inputs
// always produce the same indices on every node.  It is used to pick the
// sliding-window filter positions for a removal record.
func SampleIndices(seed []byte, count int, bound uint64) []uint64 {
	indices := make([]uint64, 0, count)
	var counter uint64
	for len(indices) < count {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], counter)
		digest := HashH(append(seed, buf[:]...))
		// Each digest yields four 64-bit samples.
		for i := 0; i < HashSize/8 && len(indices) < count; i++ {
			v := binary.LittleEndian.Uint64(digest[i*8 : (i+1)*8])
			indices = append(indices, v%bound)
		}
		counter++
	}
	return indices
}
