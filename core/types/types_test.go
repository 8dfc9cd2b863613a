// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
	"github.com/seraphnet/seraph/core/mutator"
)

// testRemovalRecord builds a removal record with a populated chunk
// dictionary so the serialization paths see every field in use.
func testRemovalRecord() *mutator.RemovalRecord {
	chunk := mutator.NewChunk()
	chunk.Increment(3)
	chunk.Increment(3)
	chunk.Increment(99)

	return &mutator.RemovalRecord{
		Commitment:      hash.HashH([]byte("spent commitment")),
		AbsoluteIndices: []uint64{5, 17, 4099},
		AoclProof: mmr.MembershipProof{
			LeafIndex: 7,
			Path: []hash.Hash{
				hash.HashH([]byte("sibling")),
				hash.HashH([]byte("uncle")),
			},
		},
		TargetChunks: mutator.ChunkDictionary{
			1: &mutator.ChunkDictEntry{
				Proof: mmr.MembershipProof{LeafIndex: 1},
				Chunk: chunk,
			},
		},
	}
}

func testTransaction() *Transaction {
	return &Transaction{
		Version:  1,
		Removals: []*mutator.RemovalRecord{testRemovalRecord()},
		Additions: []mutator.AdditionRecord{
			{Commitment: hash.HashH([]byte("new output"))},
		},
		Fee:       1500,
		Timestamp: time.Unix(1708300860, 0),
		Proof:     []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestTransactionSerializeRoundTrip(t *testing.T) {
	tx := testTransaction()

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	assert.Equal(t, tx.SerializeSize(), buf.Len())

	var decoded Transaction
	require.NoError(t, decoded.Deserialize(&buf))
	assert.Equal(t, tx.TxHash(), decoded.TxHash())
	require.Len(t, decoded.Removals, 1)
	assert.Equal(t, tx.Removals[0].ID(), decoded.Removals[0].ID())
	assert.Equal(t, tx.Additions, decoded.Additions)
	assert.Equal(t, tx.Fee, decoded.Fee)
	assert.True(t, tx.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, tx.Proof, decoded.Proof)
}

func TestTxHashCommitsToFee(t *testing.T) {
	tx := testTransaction()
	h1 := tx.TxHash()

	tx.Fee++
	assert.NotEqual(t, h1, tx.TxHash())
}

func TestIsCoinbase(t *testing.T) {
	coinbase := &Transaction{
		Version: 1,
		Additions: []mutator.AdditionRecord{
			{Commitment: hash.HashH([]byte("minted"))},
		},
		Fee: 50,
	}
	assert.True(t, coinbase.IsCoinbase())
	assert.False(t, testTransaction().IsCoinbase())
}

func TestBlockSerializeRoundTrip(t *testing.T) {
	coinbase := &Transaction{
		Version:   1,
		Additions: []mutator.AdditionRecord{{Commitment: hash.HashH([]byte("cb"))}},
		Fee:       50,
		Timestamp: time.Unix(1708300850, 0),
		Proof:     []byte{0x01},
	}
	txs := []*Transaction{coinbase, testTransaction()}
	block := &Block{
		Header: BlockHeader{
			Version:    1,
			ParentHash: hash.HashH([]byte("parent")),
			Height:     12,
			TxRoot:     CalcTxRoot(txs),
			StateRoot:  hash.HashH([]byte("state")),
			Difficulty: 0x207fffff,
			Timestamp:  time.Unix(1708300870, 0),
			Nonce:      42,
		},
		Transactions: txs,
	}

	raw, err := block.SerializeBytes()
	require.NoError(t, err)
	assert.Equal(t, block.SerializeSize(), len(raw))

	var decoded Block
	require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))
	assert.Equal(t, block.BlockHash(), decoded.BlockHash())
	require.Len(t, decoded.Transactions, 2)
	assert.Equal(t, txs[0].TxHash(), decoded.Transactions[0].TxHash())
	assert.Equal(t, txs[1].TxHash(), decoded.Transactions[1].TxHash())
	assert.Equal(t, block.Header.TxRoot, CalcTxRoot(decoded.Transactions))
}

func TestCalcTxRootOrderSensitive(t *testing.T) {
	a := testTransaction()
	b := testTransaction()
	b.Fee = 9000

	assert.NotEqual(t, CalcTxRoot([]*Transaction{a, b}),
		CalcTxRoot([]*Transaction{b, a}))
	assert.Equal(t, CalcTxRoot(nil), CalcTxRoot([]*Transaction{}))
}

func TestCumulativeWorkRoundTrip(t *testing.T) {
	var header BlockHeader
	work := header.CumulativeWorkBig()
	assert.Zero(t, work.Sign())

	work.SetUint64(1 << 40)
	header.SetCumulativeWork(work)
	assert.Zero(t, work.Cmp(header.CumulativeWorkBig()))
}
