// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import (
	"bytes"
	"io"
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
	"github.com/seraphnet/seraph/core/mutator"
	s "github.com/seraphnet/seraph/core/serialization"
)

// minTxPayload is the minimum size of a serialized transaction: the
// version, empty record lists, fee, timestamp, and an empty proof.
const minTxPayload = 4 + 1 + 1 + 8 + 8 + 1

// maxProofPayload caps the validity proof blob.
const maxProofPayload = 1 << 22

// maxRecordsPerTx caps the removal and addition record lists.
const maxRecordsPerTx = 1 << 14

// maxProofPathLen caps a mountain range authentication path.  A path
// longer than 64 would require more leaves than positions exist.
const maxProofPathLen = 64

// Transaction spends previously committed outputs and commits new
// ones.  Removal records prove the spends against a stated mutator set
// accumulator; addition records carry the new output commitments; the
// proof blob is the zero-knowledge validity proof the external verifier
// checks.  Transactions are immutable once constructed.
type Transaction struct {
	Version   uint32
	Removals  []*mutator.RemovalRecord
	Additions []mutator.AdditionRecord

	// Fee is the declared fee in atomic units, part of the claim the
	// validity proof attests to.
	Fee uint64

	// Timestamp is when the transaction was constructed.  Used by the
	// mempool for tie-breaking and expiry, not consensus.
	Timestamp time.Time

	// Proof is the opaque validity proof blob.
	Proof []byte
}

// TxHash returns the transaction identifier: the digest of the full
// canonical encoding.
func (tx *Transaction) TxHash() hash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	// The encode cannot fail when writing to a bytes.Buffer.
	_ = tx.Serialize(&buf)
	return hash.DoubleHashH(buf.Bytes())
}

// IsCoinbase reports whether the transaction mints new value rather
// than spending existing outputs.  A coinbase has no removal records.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Removals) == 0
}

// SerializeSize returns the number of bytes it would take to serialize
// the transaction.
func (tx *Transaction) SerializeSize() int {
	n := 4 + 8 + 8
	n += s.VarIntSerializeSize(uint64(len(tx.Removals)))
	for _, rr := range tx.Removals {
		n += removalRecordSerializeSize(rr)
	}
	n += s.VarIntSerializeSize(uint64(len(tx.Additions)))
	n += len(tx.Additions) * hash.HashSize
	n += s.VarIntSerializeSize(uint64(len(tx.Proof))) + len(tx.Proof)
	return n
}

// Serialize encodes the transaction to w in the canonical format used
// for hashing, the wire, and storage.
func (tx *Transaction) Serialize(w io.Writer) error {
	if err := s.WriteElements(w, tx.Version); err != nil {
		return err
	}
	if err := s.WriteVarInt(w, uint64(len(tx.Removals))); err != nil {
		return err
	}
	for _, rr := range tx.Removals {
		if err := writeRemovalRecord(w, rr); err != nil {
			return err
		}
	}
	if err := s.WriteVarInt(w, uint64(len(tx.Additions))); err != nil {
		return err
	}
	for _, ar := range tx.Additions {
		if err := s.WriteElements(w, &ar.Commitment); err != nil {
			return err
		}
	}
	if err := s.WriteElements(w, tx.Fee, s.Int64Time(tx.Timestamp)); err != nil {
		return err
	}
	return s.WriteVarBytes(w, tx.Proof)
}

// Deserialize decodes a transaction from r.
func (tx *Transaction) Deserialize(r io.Reader) error {
	if err := s.ReadElements(r, &tx.Version); err != nil {
		return err
	}

	count, err := s.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxRecordsPerTx {
		return &s.MessageError{Func: "Transaction.Deserialize",
			Description: "too many removal records"}
	}
	tx.Removals = make([]*mutator.RemovalRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		rr, err := readRemovalRecord(r)
		if err != nil {
			return err
		}
		tx.Removals = append(tx.Removals, rr)
	}

	count, err = s.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxRecordsPerTx {
		return &s.MessageError{Func: "Transaction.Deserialize",
			Description: "too many addition records"}
	}
	tx.Additions = make([]mutator.AdditionRecord, count)
	for i := uint64(0); i < count; i++ {
		if err := s.ReadElements(r, &tx.Additions[i].Commitment); err != nil {
			return err
		}
	}

	if err := s.ReadElements(r, &tx.Fee,
		(*s.Int64Time)(&tx.Timestamp)); err != nil {
		return err
	}

	proof, err := s.ReadVarBytes(r, maxProofPayload, "validity proof")
	if err != nil {
		return err
	}
	tx.Proof = proof
	return nil
}

// writeMembershipProof writes a mountain range membership proof to w.
func writeMembershipProof(w io.Writer, proof *mmr.MembershipProof) error {
	if err := s.WriteElements(w, proof.LeafIndex); err != nil {
		return err
	}
	if err := s.WriteVarInt(w, uint64(len(proof.Path))); err != nil {
		return err
	}
	for i := range proof.Path {
		if err := s.WriteElements(w, &proof.Path[i]); err != nil {
			return err
		}
	}
	return nil
}

// readMembershipProof reads a mountain range membership proof from r.
func readMembershipProof(r io.Reader, proof *mmr.MembershipProof) error {
	if err := s.ReadElements(r, &proof.LeafIndex); err != nil {
		return err
	}
	count, err := s.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxProofPathLen {
		return &s.MessageError{Func: "readMembershipProof",
			Description: "authentication path too long"}
	}
	proof.Path = make([]hash.Hash, count)
	for i := range proof.Path {
		if err := s.ReadElements(r, &proof.Path[i]); err != nil {
			return err
		}
	}
	return nil
}

func membershipProofSerializeSize(proof *mmr.MembershipProof) int {
	return 8 + s.VarIntSerializeSize(uint64(len(proof.Path))) +
		len(proof.Path)*hash.HashSize
}

// writeRemovalRecord writes a removal record to w: the spent
// commitment, its derived filter positions, the AOCL proof, and the
// authenticated chunk dictionary in ascending chunk order.
func writeRemovalRecord(w io.Writer, rr *mutator.RemovalRecord) error {
	if err := s.WriteElements(w, &rr.Commitment); err != nil {
		return err
	}
	if err := s.WriteVarInt(w, uint64(len(rr.AbsoluteIndices))); err != nil {
		return err
	}
	for _, idx := range rr.AbsoluteIndices {
		if err := s.WriteElements(w, idx); err != nil {
			return err
		}
	}
	if err := writeMembershipProof(w, &rr.AoclProof); err != nil {
		return err
	}

	chunkIndices := rr.TargetChunks.SortedIndices()
	if err := s.WriteVarInt(w, uint64(len(chunkIndices))); err != nil {
		return err
	}
	for _, chunkIdx := range chunkIndices {
		entry := rr.TargetChunks[chunkIdx]
		if err := s.WriteElements(w, chunkIdx); err != nil {
			return err
		}
		if err := writeMembershipProof(w, &entry.Proof); err != nil {
			return err
		}
		if err := s.WriteVarBytes(w, entry.Chunk.Serialize()); err != nil {
			return err
		}
	}
	return nil
}

// readRemovalRecord reads a removal record from r.
func readRemovalRecord(r io.Reader) (*mutator.RemovalRecord, error) {
	rr := &mutator.RemovalRecord{}
	if err := s.ReadElements(r, &rr.Commitment); err != nil {
		return nil, err
	}

	count, err := s.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > mutator.NumTrials {
		return nil, &s.MessageError{Func: "readRemovalRecord",
			Description: "too many filter positions"}
	}
	rr.AbsoluteIndices = make([]uint64, count)
	for i := range rr.AbsoluteIndices {
		if err := s.ReadElements(r, &rr.AbsoluteIndices[i]); err != nil {
			return nil, err
		}
	}

	if err := readMembershipProof(r, &rr.AoclProof); err != nil {
		return nil, err
	}

	count, err = s.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > mutator.NumTrials {
		return nil, &s.MessageError{Func: "readRemovalRecord",
			Description: "too many chunk dictionary entries"}
	}
	rr.TargetChunks = make(mutator.ChunkDictionary, count)
	for i := uint64(0); i < count; i++ {
		var chunkIdx uint64
		if err := s.ReadElements(r, &chunkIdx); err != nil {
			return nil, err
		}
		entry := &mutator.ChunkDictEntry{}
		if err := readMembershipProof(r, &entry.Proof); err != nil {
			return nil, err
		}
		chunkBytes, err := s.ReadVarBytes(r, 8*mutator.ChunkSize, "chunk")
		if err != nil {
			return nil, err
		}
		entry.Chunk, err = mutator.DeserializeChunk(chunkBytes)
		if err != nil {
			return nil, err
		}
		rr.TargetChunks[chunkIdx] = entry
	}
	return rr, nil
}

func removalRecordSerializeSize(rr *mutator.RemovalRecord) int {
	n := hash.HashSize
	n += s.VarIntSerializeSize(uint64(len(rr.AbsoluteIndices))) +
		8*len(rr.AbsoluteIndices)
	n += membershipProofSerializeSize(&rr.AoclProof)
	n += s.VarIntSerializeSize(uint64(len(rr.TargetChunks)))
	for _, chunkIdx := range rr.TargetChunks.SortedIndices() {
		entry := rr.TargetChunks[chunkIdx]
		chunkLen := len(entry.Chunk.Serialize())
		n += 8 + membershipProofSerializeSize(&entry.Proof) +
			s.VarIntSerializeSize(uint64(chunkLen)) + chunkLen
	}
	return n
}
