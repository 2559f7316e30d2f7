package transactions

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/script"
	"io"
	"slices"
)

type TxIn struct {
	PrevTx    []byte
	PrevIdx   uint32
	ScriptSig script.Script
	Sequence  uint32
	Witness   [][]byte
}

func NewTxIn(prevTx []byte, prevIdx, sequence uint32) TxIn {
	return TxIn{
		PrevTx:   prevTx,
		PrevIdx:  prevIdx,
		Sequence: sequence,
	}
}

func (t TxIn) String() string {
	return fmt.Sprintf("%x:%d", t.PrevTx, t.PrevIdx)
}

// Address recovers the testnet P2PKH address that funded this input,
// following the standard <sig> <pubkey> scriptSig layout: skip the
// signature push, HASH160 the pubkey push, Base58Check-encode with the
// testnet version byte. Returns an error only when the scriptSig has fewer
// than two commands or its second command is not a data push; other
// layouts (e.g. a P2SH scriptSig) are not detected and yield an address
// derived from their second push.
func (t TxIn) Address(testnet bool) (string, error) {
	if len(t.ScriptSig.CommandStack) < 2 {
		return "", fmt.Errorf("txin: scriptSig has %d commands, want sig+pubkey", len(t.ScriptSig.CommandStack))
	}
	pubKey := t.ScriptSig.CommandStack[1]
	if !pubKey.IsData {
		return "", fmt.Errorf("txin: scriptSig second element is not data")
	}
	h160 := encoding.Hash160(pubKey.Data)
	return script.P2pkhAddress(h160, testnet), nil
}

func ParseTxIn(r io.Reader) (TxIn, error) {
	prevTx := make([]byte, 32)

	// prev tx hash (256 bit hash)
	n, err := r.Read(prevTx)
	if err != nil || n != 32 {
		return TxIn{}, fmt.Errorf("txin parse error - %w", err)
	}
	slices.Reverse(prevTx)

	// prev index
	buf := make([]byte, 4)
	n, err = r.Read(buf)
	if err != nil || n != 4 {
		return TxIn{}, fmt.Errorf("txin parse error - %w", err)
	}
	prevIdx := binary.LittleEndian.Uint32(buf)

	// ScriptSig
	// Check if this is a coinbase input (prevTx is all zeros and prevIdx is 0xffffffff)
	isCoinbase := prevIdx == 0xffffffff
	if isCoinbase {
		for _, b := range prevTx {
			if b != 0 {
				isCoinbase = false
				break
			}
		}
	}

	var scriptSig script.Script
	if isCoinbase {
		// Coinbase scriptSig contains arbitrary data, not valid script
		// Read it as raw bytes without parsing
		scriptLen, err := encoding.ReadVarInt(r)
		if err != nil {
			return TxIn{}, err
		}
		scriptBytes := make([]byte, scriptLen)
		if _, err := io.ReadFull(r, scriptBytes); err != nil {
			return TxIn{}, err
		}
		// Store as a single data command (arbitrary bytes)
		// Special case: empty scriptSig should have no commands for proper roundtrip
		if scriptLen == 0 {
			scriptSig = script.NewScript([]script.ScriptCommand{})
		} else {
			scriptSig = script.NewScript([]script.ScriptCommand{
				{Data: scriptBytes, IsData: true},
			})
		}
	} else {
		// Regular input - parse as Bitcoin script
		var err error
		scriptSig, err = script.ParseScript(r)
		if err != nil {
			return TxIn{}, err
		}
	}


	// Sequence
	n, err = r.Read(buf)
	if err != nil || n != 4 {
		return TxIn{}, fmt.Errorf("txin parse error - %w", err)
	}
	seq := binary.LittleEndian.Uint32(buf)

	return TxIn{
		PrevTx:    prevTx,
		PrevIdx:   prevIdx,
		ScriptSig: scriptSig,
		Sequence:  seq,
	}, nil
}

func (t *TxIn) Serialize() ([]byte, error) {
	// returns the byte serialization of the transaction input
	var result bytes.Buffer

	// previous transaction hash
	revPrevTx := make([]byte, len(t.PrevTx))
	copy(revPrevTx, t.PrevTx)
	slices.Reverse(revPrevTx)
	if _, err := result.Write(revPrevTx); err != nil {
		return nil, err
	}

	// previous transaction index
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, t.PrevIdx)
	if _, err := result.Write(buf); err != nil {
		return nil, err
	}

	// ScriptSig
	scriptBytes, err := t.ScriptSig.Serialize()
	if err != nil {
		return nil, err
	}
	if _, err := result.Write(scriptBytes); err != nil {
		return nil, err
	}

	// sequence (uses old 4 byte buffer)
	binary.LittleEndian.PutUint32(buf, t.Sequence)
	if _, err := result.Write(buf); err != nil {
		return nil, err
	}

	return result.Bytes(), nil
}

// PrevOutLookup resolves a previous output referenced by a TxIn. The node's
// own UTXO set implements this (see internal/utxo.Set.Lookup) — there is no
// block explorer to call out to once the node tracks spendable outputs
// itself.
type PrevOutLookup interface {
	Lookup(prevTx []byte, prevIdx uint32) (TxOut, bool)
}

func (t *TxIn) Value(lookup PrevOutLookup) (uint64, error) {
	out, ok := lookup.Lookup(t.PrevTx, t.PrevIdx)
	if !ok {
		return 0, fmt.Errorf("txin: previous output %x:%d not found", t.PrevTx, t.PrevIdx)
	}
	return out.Amount, nil
}

func (t *TxIn) ScriptPubKey(lookup PrevOutLookup) (script.Script, error) {
	out, ok := lookup.Lookup(t.PrevTx, t.PrevIdx)
	if !ok {
		return script.Script{}, fmt.Errorf("txin: previous output %x:%d not found", t.PrevTx, t.PrevIdx)
	}
	return out.ScriptPubKey, nil
}

type TxOut struct {
	Amount         uint64
	ScriptPubKey   script.Script
	rawScriptBytes []byte // Raw script bytes even if unparseable
}

// RawScriptBytes returns the raw script bytes for filter generation
// Falls back to serializing ScriptPubKey if raw bytes weren't stored
func (t *TxOut) RawScriptBytes() ([]byte, error) {
	if len(t.rawScriptBytes) > 0 {
		return t.rawScriptBytes, nil
	}
	// Fallback for older code paths
	return t.ScriptPubKey.RawBytes()
}

// Address recovers the address this output pays by scanning its script
// bytes for the first 0x14 (push-20) byte and reading the following 20
// bytes as a pubkey hash. This tolerates any script shape that embeds a
// bare 20-byte hash after an 0x14 push (P2PKH, and P2SH since both push a
// 20-byte hash the same way) rather than requiring a structurally parsed
// scriptPubKey. A P2WPKH script (0x00 0x14 <20 bytes>) is read the same
// way. Only scripts that contain no 0x14 byte followed by 20 more bytes
// (e.g. OP_RETURN data) have no recoverable address.
func (t TxOut) Address(testnet bool) (string, error) {
	raw, err := t.RawScriptBytes()
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b != 0x14 {
			continue
		}
		if i+1+20 > len(raw) {
			break
		}
		return script.P2pkhAddress(raw[i+1:i+1+20], testnet), nil
	}
	return "", fmt.Errorf("txout: no 0x14 push found in script")
}

func (t TxOut) String() string {
	pubKey, _ := t.ScriptPubKey.Serialize()
	return fmt.Sprintf("%x:%x", t.Amount, pubKey)
}

func ParseTxOut(r io.Reader) (TxOut, error) {
	// amount
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil || n != 8 {
		return TxOut{}, fmt.Errorf("txout parse error - %w", err)
	}
	amount := binary.LittleEndian.Uint64(buf)

	// scriptpubkey - read raw bytes first
	scriptBytes, err := script.ReadScriptBytes(r)
	if err != nil {
		return TxOut{}, fmt.Errorf("txout parse error - %w", err)
	}

	// Try to parse the script, but use empty script if parsing fails
	// (some blocks have intentionally malformed scripts)
	scriptObj := script.Script{}
	if len(scriptBytes) > 0 {
		// Create a reader with the varint length prefix + script bytes
		varIntLen, _ := encoding.EncodeVarInt(uint64(len(scriptBytes)))
		scriptReader := bytes.NewReader(append(varIntLen, scriptBytes...))
		parsedScript, err := script.ParseScript(scriptReader)
		if err == nil {
			scriptObj = parsedScript
		}
		// If parsing fails, we keep the empty script but the raw bytes are still available
	}

	return TxOut{
		Amount:       amount,
		ScriptPubKey: scriptObj,
		rawScriptBytes: scriptBytes, // Store raw bytes for filter generation
	}, nil
}

func (t *TxOut) Serialize() ([]byte, error) {
	// returns the byte serialization of the transaction output
	var result bytes.Buffer

	// Amount
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, t.Amount)
	if _, err := result.Write(buf); err != nil {
		return nil, err
	}

	// ScriptPubKey
	scriptBytes, err := t.ScriptPubKey.Serialize()
	if err != nil {
		return nil, err
	}
	if _, err := result.Write(scriptBytes); err != nil {
		return nil, err
	}

	return result.Bytes(), nil
}
