// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import (
	"bytes"
	"io"
	"math/big"
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
	s "github.com/seraphnet/seraph/core/serialization"
)

// MaxBlockHeaderPayload is the number of bytes a serialized block
// header occupies.
// Version 4 + Height 8 + ParentHash 32 + TxRoot 32 + StateRoot 32 +
// CumulativeWork 32 + Difficulty 4 + Timestamp 8 + Nonce 8 = 160.
const MaxBlockHeaderPayload = 4 + 8 + (hash.HashSize * 3) + 32 + 4 + 8 + 8

// MaxBlockPayload is the maximum number of bytes a serialized block can
// occupy.  Validity proofs dominate block size, so the cap is generous.
const MaxBlockPayload = 1 << 23

// maxTxPerBlock is the maximum number of transactions that could
// possibly fit into a block.
const maxTxPerBlock = (MaxBlockPayload / minTxPayload) + 1

// BlockHeader commits to everything a node needs to place the block in
// the chain and check its work: the parent link, the transaction set,
// and the mutator set state the block's application must produce.
type BlockHeader struct {
	// Version of the block rules this block was produced under.
	Version uint32

	// ParentHash is the header hash of the block this one extends.
	ParentHash hash.Hash

	// Height is the distance from genesis along the parent links.
	Height uint64

	// TxRoot commits to the block's ordered transaction list.
	TxRoot hash.Hash

	// StateRoot is the mutator set accumulator digest after this
	// block's removals and additions are applied.
	StateRoot hash.Hash

	// CumulativeWork is the declared total chain work up to and
	// including this block, big endian.  Validators recompute it from
	// the parent and reject a mismatch.
	CumulativeWork [32]byte

	// Difficulty is the compact representation of the target this
	// block's proof of work must meet.
	Difficulty uint32

	// Timestamp the miner declared.
	Timestamp time.Time

	// Nonce is the proof-of-work search counter.
	Nonce uint64
}

// BlockHash computes the block identifier hash for the given block
// header.
func (h *BlockHeader) BlockHash() hash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, MaxBlockHeaderPayload))
	// The encode cannot fail when writing to a bytes.Buffer.
	_ = writeBlockHeader(buf, h)
	return hash.DoubleHashH(buf.Bytes())
}

// CumulativeWorkBig returns the declared cumulative work as a big.Int.
func (h *BlockHeader) CumulativeWorkBig() *big.Int {
	return new(big.Int).SetBytes(h.CumulativeWork[:])
}

// SetCumulativeWork stores the given work total into the header field.
func (h *BlockHeader) SetCumulativeWork(work *big.Int) {
	var buf [32]byte
	work.FillBytes(buf[:])
	h.CumulativeWork = buf
}

// readBlockHeader reads a block header from the reader.
func readBlockHeader(r io.Reader, bh *BlockHeader) error {
	return s.ReadElements(r, &bh.Version, &bh.ParentHash, &bh.Height,
		&bh.TxRoot, &bh.StateRoot, &bh.CumulativeWork, &bh.Difficulty,
		(*s.Int64Time)(&bh.Timestamp), &bh.Nonce)
}

// writeBlockHeader writes a block header to w.
func writeBlockHeader(w io.Writer, bh *BlockHeader) error {
	return s.WriteElements(w, bh.Version, &bh.ParentHash, bh.Height,
		&bh.TxRoot, &bh.StateRoot, bh.CumulativeWork, bh.Difficulty,
		s.Int64Time(bh.Timestamp), bh.Nonce)
}

// Serialize encodes the block header to w in the format used for both
// the wire and long-term storage.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// Deserialize decodes a block header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Block is a header plus its ordered transaction list.  Blocks are
// immutable once constructed; the chain state derived from accepting
// them is what mutates.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// BlockHash computes the block identifier hash for this block.
func (block *Block) BlockHash() hash.Hash {
	return block.Header.BlockHash()
}

// CalcTxRoot computes the commitment to an ordered transaction list:
// the bagged peaks of a mountain range over the transaction hashes.
func CalcTxRoot(transactions []*Transaction) hash.Hash {
	acc := mmr.NewAccumulator()
	for _, tx := range transactions {
		acc.Append(tx.TxHash())
	}
	return acc.Bag()
}

// SerializeSize returns the number of bytes it would take to serialize
// the block.
func (block *Block) SerializeSize() int {
	n := MaxBlockHeaderPayload +
		s.VarIntSerializeSize(uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

// Serialize encodes the block to w in the format used for both the
// wire and long-term storage.
func (block *Block) Serialize(w io.Writer) error {
	if err := writeBlockHeader(w, &block.Header); err != nil {
		return err
	}
	if err := s.WriteVarInt(w, uint64(len(block.Transactions))); err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a block from r.
func (block *Block) Deserialize(r io.Reader) error {
	if err := readBlockHeader(r, &block.Header); err != nil {
		return err
	}
	count, err := s.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return &s.MessageError{Func: "Block.Deserialize",
			Description: "too many transactions in block"}
	}
	block.Transactions = make([]*Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := &Transaction{}
		if err := tx.Deserialize(r); err != nil {
			return err
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return nil
}

// SerializeBytes returns the serialized block as a byte slice.
func (block *Block) SerializeBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(block.SerializeSize())
	if err := block.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

