// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/database"
)

// Chain data occupies the following namespaces of the chain database.
// The mutator set namespace is owned by the archival mutator set; the
// rest are managed here.
var (
	// headerPrefix namespaces hash -> serialized header + status.
	headerPrefix = []byte("h/")

	// blockPrefix namespaces hash -> serialized block body.
	blockPrefix = []byte("b/")

	// heightPrefix namespaces big-endian height -> canonical hash.
	heightPrefix = []byte("t/")

	// mutatorSetPrefix namespaces the archival mutator set.
	mutatorSetPrefix = []byte("ms/")

	// tipKey stores the canonical tip hash and height.
	tipKey = []byte("m/tip")

	// syncLabelKey stores the sequence number of the last fully
	// committed logical chain operation.  Every batch that moves the
	// chain state carries the next sequence number, so a reopened
	// database always shows the label the last durable batch wrote.
	syncLabelKey = []byte("m/sync")

	// pruneKey stores the height up to which canonical block bodies
	// have been removed.  Headers are never pruned.
	pruneKey = []byte("m/prune")
)

func headerKey(h *hash.Hash) []byte {
	return append(append([]byte{}, headerPrefix...), h[:]...)
}

func blockKey(h *hash.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), h[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(heightPrefix)+8)
	copy(key, heightPrefix)
	binary.BigEndian.PutUint64(key[len(heightPrefix):], height)
	return key
}

// serializeHeaderRecord encodes a header plus its validation status for
// the header index.
func serializeHeaderRecord(header *types.BlockHeader, status blockStatus) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(types.MaxBlockHeaderPayload + 1)
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(status))
	return buf.Bytes(), nil
}

func deserializeHeaderRecord(data []byte) (*types.BlockHeader, blockStatus, error) {
	if len(data) != types.MaxBlockHeaderPayload+1 {
		return nil, statusNone, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("header record has size %d, want %d", len(data),
				types.MaxBlockHeaderPayload+1), nil)
	}
	header := &types.BlockHeader{}
	if err := header.Deserialize(bytes.NewReader(data[:len(data)-1])); err != nil {
		return nil, statusNone, database.MakeError(database.ErrCorruption,
			"header record is malformed", err)
	}
	return header, blockStatus(data[len(data)-1]), nil
}

// dbPutHeader stages a header index record into the batch.
func dbPutHeader(batch database.Batch, node *blockNode) error {
	header := node.Header()
	record, err := serializeHeaderRecord(&header, node.status)
	if err != nil {
		return err
	}
	return batch.Put(headerKey(&node.hash), record)
}

// dbPutBlock stages a full block body into the batch.
func dbPutBlock(batch database.Batch, block *types.Block) error {
	raw, err := block.SerializeBytes()
	if err != nil {
		return err
	}
	blockHash := block.BlockHash()
	return batch.Put(blockKey(&blockHash), raw)
}

// dbFetchBlock loads a full block body by hash.
func (b *BlockChain) dbFetchBlock(h *hash.Hash) (*types.Block, error) {
	raw, err := b.db.Get(blockKey(h))
	if err != nil {
		return nil, err
	}
	block := &types.Block{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("block %s is malformed on disk", h), err)
	}
	return block, nil
}

// dbPutCanonical stages the height -> hash mapping for a canonical
// block.
func dbPutCanonical(batch database.Batch, height uint64, h *hash.Hash) error {
	return batch.Put(heightKey(height), h[:])
}

// dbRemoveCanonical stages removal of the canonical mapping at the
// given height.
func dbRemoveCanonical(batch database.Batch, height uint64) error {
	return batch.Delete(heightKey(height))
}

// dbFetchCanonicalHash returns the canonical block hash at the given
// height.
func (b *BlockChain) dbFetchCanonicalHash(height uint64) (hash.Hash, error) {
	raw, err := b.db.Get(heightKey(height))
	if err != nil {
		return hash.ZeroHash, err
	}
	var h hash.Hash
	if err := h.SetBytes(raw); err != nil {
		return hash.ZeroHash, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("canonical hash at height %d is malformed", height), err)
	}
	return h, nil
}

// dbPutChainTip stages the tip record and the next sync label.
func dbPutChainTip(batch database.Batch, tip *hash.Hash, height, opSeq uint64) error {
	record := make([]byte, hash.HashSize+8)
	copy(record, tip[:])
	binary.BigEndian.PutUint64(record[hash.HashSize:], height)
	if err := batch.Put(tipKey, record); err != nil {
		return err
	}

	var label [8]byte
	binary.BigEndian.PutUint64(label[:], opSeq)
	return batch.Put(syncLabelKey, label[:])
}

// dbPutPruneHeight stages the body prune watermark.
func dbPutPruneHeight(batch database.Batch, height uint64) error {
	var record [8]byte
	binary.BigEndian.PutUint64(record[:], height)
	return batch.Put(pruneKey, record[:])
}

// dbFetchPruneHeight returns the body prune watermark.  A missing
// record means nothing has been pruned.
func (b *BlockChain) dbFetchPruneHeight() (uint64, error) {
	record, err := b.db.Get(pruneKey)
	if database.IsErrorCode(err, database.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(record) != 8 {
		return 0, database.MakeError(database.ErrCorruption,
			"prune record is malformed", nil)
	}
	return binary.BigEndian.Uint64(record), nil
}

// dbFetchChainTip returns the stored tip hash, height, and sync label.
// A missing tip record means a fresh database.
func (b *BlockChain) dbFetchChainTip() (hash.Hash, uint64, uint64, bool, error) {
	record, err := b.db.Get(tipKey)
	if database.IsErrorCode(err, database.ErrKeyNotFound) {
		return hash.ZeroHash, 0, 0, false, nil
	}
	if err != nil {
		return hash.ZeroHash, 0, 0, false, err
	}
	if len(record) != hash.HashSize+8 {
		return hash.ZeroHash, 0, 0, false, database.MakeError(
			database.ErrCorruption, "tip record is malformed", nil)
	}
	var tip hash.Hash
	copy(tip[:], record[:hash.HashSize])
	height := binary.BigEndian.Uint64(record[hash.HashSize:])

	label, err := b.db.Get(syncLabelKey)
	if err != nil {
		return hash.ZeroHash, 0, 0, false, err
	}
	if len(label) != 8 {
		return hash.ZeroHash, 0, 0, false, database.MakeError(
			database.ErrCorruption, "sync label is malformed", nil)
	}
	return tip, height, binary.BigEndian.Uint64(label), true, nil
}

// loadBlockIndex reconstructs the in-memory block tree from the header
// namespace.  Headers may be stored in any order, so linking proceeds
// in passes until every header has found its parent.
func (b *BlockChain) loadBlockIndex() error {
	type headerRecord struct {
		header *types.BlockHeader
		status blockStatus
	}
	pending := make(map[hash.Hash]*headerRecord)

	it := b.db.NewIteratorWithPrefix(headerPrefix)
	for it.Next() {
		header, status, err := deserializeHeaderRecord(it.Value())
		if err != nil {
			it.Release()
			return err
		}
		pending[header.BlockHash()] = &headerRecord{header: header, status: status}
	}
	if err := it.Error(); err != nil {
		it.Release()
		return err
	}
	it.Release()

	for len(pending) > 0 {
		progress := false
		for blockHash, record := range pending {
			var parent *blockNode
			if record.header.Height != 0 {
				parent = b.index.LookupNode(&record.header.ParentHash)
				if parent == nil {
					if _, waiting := pending[record.header.ParentHash]; waiting {
						continue
					}
					return database.MakeError(database.ErrCorruption,
						fmt.Sprintf("header %s references unknown parent %s",
							blockHash, record.header.ParentHash), nil)
				}
			}
			node := newBlockNode(record.header, parent)
			node.status = record.status
			b.index.AddNode(node)
			delete(pending, blockHash)
			progress = true
		}
		if !progress {
			return database.MakeError(database.ErrCorruption,
				"header index contains an unlinkable cycle", nil)
		}
	}
	return nil
}
