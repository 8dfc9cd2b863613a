// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/seraphnet/seraph/common/hash"
)

// Chunk holds the filter counters for one ChunkSize-wide span of
// positions.  Counters rather than bits make removal exactly
// invertible: a removal increments and its revert decrements, so two
// records colliding on a position do not corrupt each other.  A
// position counts as set while its counter is above zero.
//
// The representation is sparse; most positions are never touched.
type Chunk struct {
	counters map[uint32]uint32
}

// NewChunk returns an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{counters: make(map[uint32]uint32)}
}

// Copy returns a deep copy of the chunk.
func (c *Chunk) Copy() *Chunk {
	counters := make(map[uint32]uint32, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	return &Chunk{counters: counters}
}

// IsSet reports whether the counter at the given offset is above zero.
func (c *Chunk) IsSet(offset uint32) bool {
	return c.counters[offset] > 0
}

// Increment bumps the counter at the given offset.
func (c *Chunk) Increment(offset uint32) {
	c.counters[offset]++
}

// Decrement lowers the counter at the given offset.  Decrementing a
// zero counter indicates a revert that was never applied and is an
// internal consistency failure.
func (c *Chunk) Decrement(offset uint32) error {
	if c.counters[offset] == 0 {
		return fmt.Errorf("decrement of zero counter at offset %d", offset)
	}
	c.counters[offset]--
	if c.counters[offset] == 0 {
		delete(c.counters, offset)
	}
	return nil
}

// sortedOffsets returns the touched offsets in ascending order.
func (c *Chunk) sortedOffsets() []uint32 {
	offsets := make([]uint32, 0, len(c.counters))
	for offset := range c.counters {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// Serialize encodes the chunk as sorted (offset, counter) pairs.  The
// ordering makes the encoding, and therefore the chunk digest, a pure
// function of the counter contents.
func (c *Chunk) Serialize() []byte {
	offsets := c.sortedOffsets()
	buf := make([]byte, 0, 8*len(offsets))
	var scratch [8]byte
	for _, offset := range offsets {
		binary.LittleEndian.PutUint32(scratch[:4], offset)
		binary.LittleEndian.PutUint32(scratch[4:], c.counters[offset])
		buf = append(buf, scratch[:]...)
	}
	return buf
}

// DeserializeChunk decodes a chunk from its serialized form.
func DeserializeChunk(data []byte) (*Chunk, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("chunk encoding has invalid size %d", len(data))
	}
	c := NewChunk()
	for i := 0; i < len(data); i += 8 {
		offset := binary.LittleEndian.Uint32(data[i : i+4])
		count := binary.LittleEndian.Uint32(data[i+4 : i+8])
		if offset >= ChunkSize {
			return nil, fmt.Errorf("chunk offset %d out of range", offset)
		}
		if count == 0 {
			return nil, fmt.Errorf("chunk encoding holds zero counter")
		}
		c.counters[offset] = count
	}
	return c, nil
}

// Hash returns the chunk digest used as an inactive-SWBF leaf.
func (c *Chunk) Hash() hash.Hash {
	return hash.HashH(c.Serialize())
}

// Equal reports whether two chunks hold identical counters.
func (c *Chunk) Equal(other *Chunk) bool {
	if len(c.counters) != len(other.counters) {
		return false
	}
	for k, v := range c.counters {
		if other.counters[k] != v {
			return false
		}
	}
	return true
}
