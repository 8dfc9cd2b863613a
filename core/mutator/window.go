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

// ActiveWindow is the live portion of the sliding-window bloom filter.
// It covers WindowSize absolute filter positions starting at Start;
// positions below Start live in sealed chunks committed by the inactive
// SWBF mountain range.
type ActiveWindow struct {
	// Start is the lowest absolute position covered by the window.
	// Always a multiple of ChunkSize.
	Start uint64

	// counters maps absolute positions to their counter values.
	counters map[uint64]uint32
}

// NewActiveWindow returns an empty window anchored at position zero.
func NewActiveWindow() *ActiveWindow {
	return &ActiveWindow{counters: make(map[uint64]uint32)}
}

// Copy returns a deep copy of the window.
func (w *ActiveWindow) Copy() *ActiveWindow {
	counters := make(map[uint64]uint32, len(w.counters))
	for k, v := range w.counters {
		counters[k] = v
	}
	return &ActiveWindow{Start: w.Start, counters: counters}
}

// Contains reports whether the absolute position falls inside the
// window's current span.
func (w *ActiveWindow) Contains(absolute uint64) bool {
	return absolute >= w.Start && absolute < w.Start+WindowSize
}

// IsSet reports whether the counter at the absolute position is above
// zero.
func (w *ActiveWindow) IsSet(absolute uint64) bool {
	return w.counters[absolute] > 0
}

// Increment bumps the counter at the absolute position.
func (w *ActiveWindow) Increment(absolute uint64) error {
	if !w.Contains(absolute) {
		return fmt.Errorf("position %d outside active window [%d, %d)",
			absolute, w.Start, w.Start+WindowSize)
	}
	w.counters[absolute]++
	return nil
}

// Decrement lowers the counter at the absolute position.
func (w *ActiveWindow) Decrement(absolute uint64) error {
	if !w.Contains(absolute) {
		return fmt.Errorf("position %d outside active window [%d, %d)",
			absolute, w.Start, w.Start+WindowSize)
	}
	if w.counters[absolute] == 0 {
		return fmt.Errorf("decrement of zero counter at position %d", absolute)
	}
	w.counters[absolute]--
	if w.counters[absolute] == 0 {
		delete(w.counters, absolute)
	}
	return nil
}

// SlideOut seals the oldest chunk of the window and advances Start by
// one chunk.  The sealed chunk's counters are removed from the window;
// the caller appends the chunk to the inactive SWBF.
func (w *ActiveWindow) SlideOut() *Chunk {
	sealed := NewChunk()
	end := w.Start + ChunkSize
	for absolute, count := range w.counters {
		if absolute < end {
			sealed.counters[uint32(absolute-w.Start)] = count
			delete(w.counters, absolute)
		}
	}
	w.Start = end
	return sealed
}

// SlideIn is the inverse of SlideOut: it moves Start back one chunk and
// restores the previously sealed chunk's counters into the window.
// Counters in the span the window retreats from must already be clear;
// a violation means slide-in was attempted out of order.
func (w *ActiveWindow) SlideIn(sealed *Chunk) error {
	if w.Start < ChunkSize {
		return fmt.Errorf("cannot slide window below position zero")
	}
	retreatFrom := w.Start + WindowSize - ChunkSize
	for absolute := range w.counters {
		if absolute >= retreatFrom {
			return fmt.Errorf("window retains counter at %d past the "+
				"retreat boundary %d", absolute, retreatFrom)
		}
	}
	w.Start -= ChunkSize
	for offset, count := range sealed.counters {
		w.counters[w.Start+uint64(offset)] = count
	}
	return nil
}

// Serialize encodes the window as its start followed by sorted
// (position, counter) pairs.
func (w *ActiveWindow) Serialize() []byte {
	positions := make([]uint64, 0, len(w.counters))
	for pos := range w.counters {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	buf := make([]byte, 8, 8+12*len(positions))
	binary.LittleEndian.PutUint64(buf[:8], w.Start)
	var scratch [12]byte
	for _, pos := range positions {
		binary.LittleEndian.PutUint64(scratch[:8], pos)
		binary.LittleEndian.PutUint32(scratch[8:], w.counters[pos])
		buf = append(buf, scratch[:]...)
	}
	return buf
}

// DeserializeActiveWindow decodes a window from its serialized form.
func DeserializeActiveWindow(data []byte) (*ActiveWindow, error) {
	if len(data) < 8 || (len(data)-8)%12 != 0 {
		return nil, fmt.Errorf("window encoding has invalid size %d", len(data))
	}
	w := NewActiveWindow()
	w.Start = binary.LittleEndian.Uint64(data[:8])
	for i := 8; i < len(data); i += 12 {
		pos := binary.LittleEndian.Uint64(data[i : i+8])
		count := binary.LittleEndian.Uint32(data[i+8 : i+12])
		if count == 0 {
			return nil, fmt.Errorf("window encoding holds zero counter")
		}
		w.counters[pos] = count
	}
	return w, nil
}

// Hash returns the window digest folded into the accumulator
// commitment.
func (w *ActiveWindow) Hash() hash.Hash {
	return hash.HashH(w.Serialize())
}

// Equal reports whether two windows are identical.
func (w *ActiveWindow) Equal(other *ActiveWindow) bool {
	if w.Start != other.Start || len(w.counters) != len(other.counters) {
		return false
	}
	for k, v := range w.counters {
		if other.counters[k] != v {
			return false
		}
	}
	return true
}
