package transactions_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
)

func TestTxOutAddressScansForPushTwenty(t *testing.T) {
	h160 := encoding.Hash160([]byte("some pubkey"))
	out := transactions.TxOut{Amount: 1000, ScriptPubKey: script.P2pkhScript(h160)}

	addr, err := out.Address(true)
	require.NoError(t, err)
	require.Equal(t, script.P2pkhAddress(h160, true), addr)
}

func TestTxOutAddressRejectsScriptWithNoPushTwenty(t *testing.T) {
	opReturn := script.NewScript([]script.ScriptCommand{
		{Opcode: script.OP_RETURN},
		{Data: []byte{0x01, 0x02, 0x03}, IsData: true},
	})
	out := transactions.TxOut{Amount: 0, ScriptPubKey: opReturn}

	_, err := out.Address(true)
	require.Error(t, err)
}
