// Package utxo maintains the node's unspent-transaction-output set: the
// per-address record of spendable outputs and the set of outpoints they
// consume. Addressed by address rather than by the Vec-based scan a naive
// port would use, since every lookup here is "what can this address
// spend" or "does this outpoint still exist".
package utxo

import (
	"encoding/binary"
	"sync"

	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
)

// Outpoint is the 36-byte txid||vout identifier of a specific output.
type Outpoint [36]byte

func NewOutpoint(txid hashid.ID, vout uint32) Outpoint {
	var o Outpoint
	copy(o[:32], txid[:])
	binary.LittleEndian.PutUint32(o[32:], vout)
	return o
}

func (o Outpoint) Txid() hashid.ID {
	var id hashid.ID
	copy(id[:], o[:32])
	return id
}

func (o Outpoint) Vout() uint32 {
	return binary.LittleEndian.Uint32(o[32:])
}

// Entry is the minimal value+script record needed to spend a UTXO. Spent
// status lives in the set's own outpoint index (see Set.spent) rather
// than on the record itself, so one outpoint-spend marks every view of it
// consumed at once.
type Entry struct {
	Value        uint64
	ScriptPubKey script.Script
	Outpoint     Outpoint
}

// noAddressBucket collects outputs whose address can't be recovered
// (scripts in which TxOut.Address finds no 0x14 byte followed by 20 bytes,
// such as most OP_RETURN outputs) so the conservation
// accounting still sees their value instead of silently dropping it.
const noAddressBucket = "no_address"

// Set is the node's UTXO set: a map of address to the unspent outputs that
// pay it, plus a set of outpoints that have been consumed. An output
// remains in the address map for the duration of its on-chain lifetime;
// consuming it inserts its outpoint into spent rather than removing the
// record, so a lookup can still answer "did this exist" during reorg
// bookkeeping. Balance and coin-selection both filter spent at read time.
type Set struct {
	mu    sync.RWMutex
	byAddr map[string]map[hashid.ID]*Entry
	spent  map[Outpoint]struct{}
	// index from outpoint to the owning output, used by Lookup (and so by
	// transaction signing/verification) without a reverse address scan.
	byOutpoint map[Outpoint]outRef
}

type outRef struct {
	addr string
	txid hashid.ID
}

func NewSet() *Set {
	return &Set{
		byAddr:     make(map[string]map[hashid.ID]*Entry),
		spent:      make(map[Outpoint]struct{}),
		byOutpoint: make(map[Outpoint]outRef),
	}
}

// ApplyTransaction records a transaction's effect on the UTXO set: its
// inputs' outpoints are marked spent and its outputs are inserted under
// the address they pay, atomically (mu held for both). Outputs whose
// address can't be recovered are bucketed under noAddressBucket rather
// than dropped, so conservation accounting still sees their value; they
// cannot be spent by this wallet in any case since no address indexes them.
func (s *Set) ApplyTransaction(txid hashid.ID, tx *transactions.Transaction, testnet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			prevTxid, err := hashid.FromBytes(in.PrevTx)
			if err != nil {
				continue
			}
			s.spent[NewOutpoint(prevTxid, in.PrevIdx)] = struct{}{}
		}
	}

	for vout, out := range tx.Outputs {
		addr, err := out.Address(testnet)
		if err != nil {
			addr = noAddressBucket
		}
		op := NewOutpoint(txid, uint32(vout))
		if s.byAddr[addr] == nil {
			s.byAddr[addr] = make(map[hashid.ID]*Entry)
		}
		s.byAddr[addr][txid] = &Entry{
			Value:        out.Amount,
			ScriptPubKey: out.ScriptPubKey,
			Outpoint:     op,
		}
		s.byOutpoint[op] = outRef{addr: addr, txid: txid}
	}
}

// Balance sums the value of every output recorded for addr whose outpoint
// has not been spent.
func (s *Set) Balance(addr string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, rec := range s.byAddr[addr] {
		if _, spent := s.spent[rec.Outpoint]; spent {
			continue
		}
		total += rec.Value
	}
	return total
}

// Unspent returns every unspent output recorded for addr, in no
// particular order. Used by the wallet's greedy coin selection.
func (s *Set) Unspent(addr string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.byAddr[addr]))
	for _, rec := range s.byAddr[addr] {
		if _, spent := s.spent[rec.Outpoint]; spent {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Lookup implements transactions.PrevOutLookup, resolving a previous
// output's value and scriptPubKey for sighash construction and signature
// verification.
func (s *Set) Lookup(prevTx []byte, prevIdx uint32) (transactions.TxOut, bool) {
	txid, err := hashid.FromBytes(prevTx)
	if err != nil {
		return transactions.TxOut{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	op := NewOutpoint(txid, prevIdx)
	ref, ok := s.byOutpoint[op]
	if !ok {
		return transactions.TxOut{}, false
	}
	rec, ok := s.byAddr[ref.addr][ref.txid]
	if !ok {
		return transactions.TxOut{}, false
	}
	return transactions.TxOut{Amount: rec.Value, ScriptPubKey: rec.ScriptPubKey}, true
}

// Conservation reports the total value still unspent, and the total value
// already spent, across every output this set has ever recorded. Their sum
// is the total value of all recorded outputs, including those kept under
// the no_address bucket.
func (s *Set) Conservation() (unspent, spent uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, byTxid := range s.byAddr {
		for _, rec := range byTxid {
			if _, isSpent := s.spent[rec.Outpoint]; isSpent {
				spent += rec.Value
			} else {
				unspent += rec.Value
			}
		}
	}
	return unspent, spent
}
