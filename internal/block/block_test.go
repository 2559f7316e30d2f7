package block_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/block"
	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/header"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
)

func sampleTx(t *testing.T, nonce byte) *transactions.Transaction {
	t.Helper()
	h160 := encoding.Hash160([]byte{nonce})
	tx := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0, 0xffffffff)},
		[]transactions.TxOut{{Amount: 1000, ScriptPubKey: script.P2pkhScript(h160)}},
		0, true, false)
	return &tx
}

func blockWithMatchingRoot(t *testing.T, txs []*transactions.Transaction) *block.Block {
	t.Helper()
	b := &block.Block{Txs: txs}

	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		id, err := tx.Hash()
		require.NoError(t, err)
		hashes[i] = id
	}
	root := encoding.MerkleRoot(hashes)
	merkleID, err := hashid.FromBytes(root)
	require.NoError(t, err)
	b.Header = header.Header{Version: 1, Bits: header.LowestBits, MerkleRoot: merkleID}
	return b
}

func TestValidateMerkleRootAccepts(t *testing.T) {
	txs := []*transactions.Transaction{sampleTx(t, 1), sampleTx(t, 2)}
	b := blockWithMatchingRoot(t, txs)
	require.True(t, b.ValidateMerkleRoot())
}

func TestValidateMerkleRootRejectsTamperedHeader(t *testing.T) {
	txs := []*transactions.Transaction{sampleTx(t, 1), sampleTx(t, 2)}
	b := blockWithMatchingRoot(t, txs)
	b.Header.MerkleRoot[0] ^= 0xff
	require.False(t, b.ValidateMerkleRoot())
}

func TestExtractBasicFilterItemsDedupsSkippingOpReturn(t *testing.T) {
	h160 := encoding.Hash160([]byte{9})
	payScript := script.P2pkhScript(h160)
	payBytes, err := payScript.RawBytes()
	require.NoError(t, err)

	opReturnScript := script.NewScript([]script.ScriptCommand{
		{Opcode: block.OpReturn},
		{Data: []byte{0xde, 0xad, 0xbe, 0xef}, IsData: true},
	})

	tx := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0, 0xffffffff)},
		[]transactions.TxOut{
			{Amount: 1000, ScriptPubKey: payScript},
			{Amount: 0, ScriptPubKey: opReturnScript},
			{Amount: 2000, ScriptPubKey: payScript},
		},
		0, true, false)

	b := &block.Block{Txs: []*transactions.Transaction{&tx}}
	items := b.ExtractBasicFilterItems(nil)

	require.Len(t, items, 1, "OP_RETURN output should be excluded and the repeated script kept once")
	require.Equal(t, payBytes, items[0])
}
