// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mutator implements the mutator set: a privacy-preserving
// commitment set built from an append-only commitment list (AOCL) and a
// sliding-window bloom filter (SWBF).  Additions append commitments to
// the AOCL; removals flip filter positions derived from the removed
// commitment without revealing which commitment was spent.
package mutator

// The filter geometry below is consensus critical.  Changing any of
// these constants changes every accumulator digest.
const (
	// BatchSize is the number of additions per window slide.  Every
	// BatchSize appends to the AOCL the active window advances by one
	// chunk.
	BatchSize = 8

	// ChunkSize is the number of filter positions per chunk, the unit
	// by which the window slides and the leaf granularity of the
	// inactive SWBF mountain range.
	ChunkSize = 1 << 12

	// WindowSize is the span of the active window in filter positions.
	WindowSize = 1 << 20

	// NumTrials is the number of filter positions set per removal.
	NumTrials = 45

	// ChunksPerWindow is how many chunks the active window covers.
	ChunksPerWindow = WindowSize / ChunkSize
)
