package wallet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
	"github.com/nenrikson/spvnode/internal/utxo"
	"github.com/nenrikson/spvnode/internal/wallet"
)

func mustHash(t *testing.T, tx *transactions.Transaction) hashid.ID {
	t.Helper()
	raw, err := tx.Hash()
	require.NoError(t, err)
	id, err := hashid.FromBytes(raw)
	require.NoError(t, err)
	return id
}

func TestGenerateTransactionSpendsAndSigns(t *testing.T) {
	w, err := wallet.New(true)
	require.NoError(t, err)

	set := utxo.NewSet()

	// fund the wallet with one coinbase-style output
	funding := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0xffffffff, 0xffffffff)},
		[]transactions.TxOut{{Amount: 100000, ScriptPubKey: scriptFor(t, w.Address())}},
		0, true, false)
	set.ApplyTransaction(mustHash(t, &funding), &funding, true)

	require.Equal(t, uint64(100000), w.Balance(set))

	recv, err := wallet.New(true)
	require.NoError(t, err)

	tx, err := w.GenerateTransaction(set, recv.Address(), 10000)
	require.NoError(t, err, "generate transaction")
	require.NotEmpty(t, tx.Inputs, "expected at least one input")
	require.NotEmpty(t, tx.Outputs, "expected at least one output")
	require.Equal(t, uint64(10000), tx.Outputs[0].Amount)

	ok, err := tx.Verify(set)
	require.NoError(t, err, "verify")
	require.True(t, ok, "expected generated transaction to verify")
}

func TestGenerateTransactionInsufficientFunds(t *testing.T) {
	w, err := wallet.New(true)
	require.NoError(t, err)
	set := utxo.NewSet()

	_, err = w.GenerateTransaction(set, w.Address(), 1)
	require.Error(t, err, "expected error with empty utxo set")
}

func scriptFor(t *testing.T, addr string) script.Script {
	t.Helper()
	h160, err := encoding.DecodeBase58(addr)
	require.NoError(t, err)
	return script.P2pkhScript(h160)
}
