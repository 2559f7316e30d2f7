// Package wallet implements a single-address wallet: a fixed keypair, a
// local transaction history, and outgoing-transaction construction,
// using the ECDSA/secp256k1 signing machinery in internal/transactions.
package wallet

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/nenrikson/spvnode/internal/eccmath"
	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/keys"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
	"github.com/nenrikson/spvnode/internal/utxo"
)

// dustLimit is the smallest change output this wallet will create; a
// change amount below it is folded into the fee instead of creating an
// unspendable-in-practice output.
const dustLimit = 1000

// feePerInput is a flat per-input fee estimate, keeping coin selection
// simple without pretending to model real fee markets.
const feePerInput uint64 = 500

// HistoryEntry is one observed transaction touching the wallet's address.
type HistoryEntry struct {
	TxID   hashid.ID
	Origin string // "confirmed" or "pending"
}

// Wallet is a single keypair plus derived address and history log. Keys
// are immutable after creation; history is mutable.
type Wallet struct {
	mu sync.Mutex

	priv    *keys.PrivateKey
	h160    []byte
	address string
	testnet bool

	history []HistoryEntry
}

// New generates a fresh secp256k1 keypair with crypto/rand. There is no
// wallet-file persistence, so a new key is minted every process start.
func New(testnet bool) (*Wallet, error) {
	group := eccmath.NewBitcoin()
	secret, err := rand.Int(rand.Reader, group.N)
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	priv := keys.NewPrivateKey(secret)
	h160 := encoding.Hash160(priv.PublicKey().Serialize(true))
	return &Wallet{
		priv:    priv,
		h160:    h160,
		address: script.P2pkhAddress(h160, testnet),
		testnet: testnet,
	}, nil
}

// Address returns the wallet's testnet P2PKH address.
func (w *Wallet) Address() string {
	return w.address
}

// Balance sums the wallet's unspent outputs in set.
func (w *Wallet) Balance(set *utxo.Set) uint64 {
	return set.Balance(w.address)
}

// History returns the wallet's transaction history, most recently
// recorded last.
func (w *Wallet) History() []HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]HistoryEntry, len(w.history))
	copy(out, w.history)
	return out
}

// RecordHistory appends a transaction observation. Called by the
// controller whenever a confirmed or pending transaction references this
// wallet's address.
func (w *Wallet) RecordHistory(txid hashid.ID, origin string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, HistoryEntry{TxID: txid, Origin: origin})
}

// GenerateTransaction builds, signs, and returns a P2PKH-to-recvAddr
// transaction spending from set: select inputs greedily until amount
// plus the fee estimate is covered, pay the recipient, return any excess
// above dustLimit to this wallet's own address as change, and sign every
// input with SIGHASH_ALL.
func (w *Wallet) GenerateTransaction(set *utxo.Set, recvAddr string, amount uint64) (*transactions.Transaction, error) {
	recvHash160, err := encoding.DecodeBase58(recvAddr)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode recipient address: %w", err)
	}

	candidates := set.Unspent(w.address)
	var selected []*utxo.Entry
	var total uint64
	var fee uint64
	for _, entry := range candidates {
		selected = append(selected, entry)
		total += entry.Value
		fee = feePerInput * uint64(len(selected))
		if total >= amount+fee {
			break
		}
	}
	if total < amount+fee {
		return nil, fmt.Errorf("wallet: insufficient funds: have %d, need %d (amount %d + fee %d)", total, amount+fee, amount, fee)
	}

	inputs := make([]transactions.TxIn, len(selected))
	for i, entry := range selected {
		txid := entry.Outpoint.Txid()
		inputs[i] = transactions.NewTxIn(txid.Bytes(), entry.Outpoint.Vout(), 0xffffffff)
	}

	outputs := []transactions.TxOut{
		{Amount: amount, ScriptPubKey: script.P2pkhScript(recvHash160)},
	}
	change := total - amount - fee
	if change >= dustLimit {
		outputs = append(outputs, transactions.TxOut{
			Amount:       change,
			ScriptPubKey: script.P2pkhScript(w.h160),
		})
	}

	tx := transactions.NewTransaction(1, inputs, outputs, 0, w.testnet, false)
	if err := tx.SignInputs(*w.priv, true, set); err != nil {
		return nil, fmt.Errorf("wallet: sign transaction: %w", err)
	}
	return &tx, nil
}
