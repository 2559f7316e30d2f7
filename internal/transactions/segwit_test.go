package transactions_test

import (
	"math/big"
	"testing"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/keys"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
)

// fixedLookup resolves previous outputs from an in-memory map, standing in
// for the node's own UTXO set in these self-contained signing tests.
type fixedLookup map[string]transactions.TxOut

func (f fixedLookup) Lookup(prevTx []byte, prevIdx uint32) (transactions.TxOut, bool) {
	out, ok := f[key(prevTx, prevIdx)]
	return out, ok
}

func key(prevTx []byte, prevIdx uint32) string {
	return string(prevTx) + string(rune(prevIdx))
}

// TestSignAndVerifyP2PKH builds a one-input, one-output P2PKH spend,
// signs it with the node's own ECDSA implementation and verifies it back
// through the script engine, exercising the same signing path the wallet
// uses before broadcasting a transaction it built itself.
func TestSignAndVerifyP2PKH(t *testing.T) {
	priv := keys.NewPrivateKey(big.NewInt(12345))
	pubKeySec := priv.PublicKey().Serialize(true)
	h160 := encoding.Hash160(pubKeySec)

	prevTxId := make([]byte, 32)
	prevTxId[0] = 0xAB

	prevOut := transactions.TxOut{
		Amount:       50000,
		ScriptPubKey: script.P2pkhScript(h160),
	}
	lookup := fixedLookup{key(prevTxId, 0): prevOut}

	txIn := transactions.NewTxIn(prevTxId, 0, 0xffffffff)
	txOut := transactions.TxOut{
		Amount:       49000,
		ScriptPubKey: script.P2pkhScript(h160),
	}

	tx := transactions.NewTransaction(1, []transactions.TxIn{txIn}, []transactions.TxOut{txOut}, 0, true, false)

	if err := tx.SignInputs(*priv, true, lookup); err != nil {
		t.Fatalf("sign inputs: %v", err)
	}

	valid, err := tx.Verify(lookup)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Fatal("expected signed P2PKH input to verify")
	}

	fee, err := tx.Fee(lookup)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 1000 {
		t.Fatalf("expected fee 1000, got %d", fee)
	}
}

// TestVerifyRejectsWrongKey confirms a signature from an unrelated key
// fails verification against the locked scriptPubKey.
func TestVerifyRejectsWrongKey(t *testing.T) {
	priv := keys.NewPrivateKey(big.NewInt(12345))
	wrongPriv := keys.NewPrivateKey(big.NewInt(999))
	h160 := encoding.Hash160(priv.PublicKey().Serialize(true))

	prevTxId := make([]byte, 32)
	prevTxId[0] = 0xCD

	prevOut := transactions.TxOut{
		Amount:       1000,
		ScriptPubKey: script.P2pkhScript(h160),
	}
	lookup := fixedLookup{key(prevTxId, 0): prevOut}

	txIn := transactions.NewTxIn(prevTxId, 0, 0xffffffff)
	txOut := transactions.TxOut{Amount: 900, ScriptPubKey: script.P2pkhScript(h160)}
	tx := transactions.NewTransaction(1, []transactions.TxIn{txIn}, []transactions.TxOut{txOut}, 0, true, false)

	if err := tx.SignInputs(*wrongPriv, true, lookup); err != nil {
		t.Fatalf("sign inputs: %v", err)
	}

	valid, err := tx.Verify(lookup)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if valid {
		t.Fatal("expected verification with mismatched key to fail")
	}
}
