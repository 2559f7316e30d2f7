package utxo_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/keys"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
	"github.com/nenrikson/spvnode/internal/utxo"
)

func testAddr(t *testing.T, secret int64) (string, []byte) {
	t.Helper()
	priv := keys.NewPrivateKey(big.NewInt(secret))
	h160 := encoding.Hash160(priv.PublicKey().Serialize(true))
	return script.P2pkhAddress(h160, true), h160
}

func TestSetApplyAndBalance(t *testing.T) {
	set := utxo.NewSet()
	addr, h160 := testAddr(t, 42)

	coinbase := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0xffffffff, 0xffffffff)},
		[]transactions.TxOut{{Amount: 5000000000, ScriptPubKey: script.P2pkhScript(h160)}},
		0, true, false)

	txid, err := hashid.FromBytes(mustHash(t, &coinbase))
	require.NoError(t, err)

	set.ApplyTransaction(txid, &coinbase, true)

	require.Equal(t, uint64(5000000000), set.Balance(addr))
	require.Len(t, set.Unspent(addr), 1)

	// spend it
	spend := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(txid.Bytes(), 0, 0xffffffff)},
		[]transactions.TxOut{{Amount: 4999990000, ScriptPubKey: script.P2pkhScript(h160)}},
		0, true, false)
	spendId, err := hashid.FromBytes(mustHash(t, &spend))
	require.NoError(t, err)
	set.ApplyTransaction(spendId, &spend, true)

	require.Equal(t, uint64(4999990000), set.Balance(addr))

	unspentVal, spentVal := set.Conservation()
	require.Equal(t, uint64(5000000000), spentVal)
	require.Equal(t, uint64(4999990000), unspentVal)
}

func TestSetLookup(t *testing.T) {
	set := utxo.NewSet()
	_, h160 := testAddr(t, 7)

	tx := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0xffffffff, 0xffffffff)},
		[]transactions.TxOut{{Amount: 100, ScriptPubKey: script.P2pkhScript(h160)}},
		0, true, false)
	txid, err := hashid.FromBytes(mustHash(t, &tx))
	require.NoError(t, err)
	set.ApplyTransaction(txid, &tx, true)

	out, ok := set.Lookup(txid.Bytes(), 0)
	require.True(t, ok, "expected lookup to find output")
	require.Equal(t, uint64(100), out.Amount)

	_, ok = set.Lookup(txid.Bytes(), 1)
	require.False(t, ok, "expected lookup of nonexistent vout to fail")
}

func TestSetApplyTransactionBucketsUnrecoverableAddress(t *testing.T) {
	set := utxo.NewSet()

	opReturn := script.NewScript([]script.ScriptCommand{
		{Opcode: script.OP_RETURN},
		{Data: []byte{0xde, 0xad, 0xbe, 0xef}, IsData: true},
	})
	tx := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0xffffffff, 0xffffffff)},
		[]transactions.TxOut{{Amount: 1234, ScriptPubKey: opReturn}},
		0, true, false)
	txid, err := hashid.FromBytes(mustHash(t, &tx))
	require.NoError(t, err)

	set.ApplyTransaction(txid, &tx, true)

	require.Equal(t, uint64(1234), set.Balance("no_address"),
		"output with no recoverable address should be bucketed, not dropped")

	unspentVal, _ := set.Conservation()
	require.Equal(t, uint64(1234), unspentVal,
		"conservation accounting must still see the bucketed output's value")
}

func mustHash(t *testing.T, tx *transactions.Transaction) []byte {
	t.Helper()
	h, err := tx.Hash()
	require.NoError(t, err)
	return h
}
