// Package block implements full block parsing: a header plus its
// transaction list, with merkle-root verification. Adapted from the
// teacher's internal/block package (formerly FullBlock), split so the
// 80-byte header lives in internal/header and can be held on its own
// during header-only sync.
package block

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/header"
	"github.com/nenrikson/spvnode/internal/transactions"
)

// OpReturn is the opcode used to mark provably-unspendable outputs, which
// BIP158 filter construction excludes.
const OpReturn byte = 0x6a

// Block is a full Bitcoin block: header plus ordered transactions.
type Block struct {
	Header header.Header
	Txs    []*transactions.Transaction
}

func Parse(r io.Reader) (*Block, error) {
	h, err := header.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse block header: %w", err)
	}

	txCount, err := encoding.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("parse tx count: %w", err)
	}

	txs := make([]*transactions.Transaction, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, err := transactions.ParseTransaction(r)
		if err != nil {
			return nil, fmt.Errorf("parse tx %d/%d: %w", i, txCount, err)
		}
		txs[i] = &tx
	}

	return &Block{Header: h, Txs: txs}, nil
}

// ValidateMerkleRoot recomputes the merkle root from the block's own
// transactions and compares it against the value committed in the header.
func (b *Block) ValidateMerkleRoot() bool {
	hashes := make([][]byte, len(b.Txs))
	for i, tx := range b.Txs {
		id, err := tx.Hash()
		if err != nil {
			return false
		}
		hashes[i] = id
	}
	root := encoding.MerkleRoot(hashes)
	headerRoot := b.Header.MerkleRoot.Bytes()
	return bytes.Equal(headerRoot, root)
}

// ExtractBasicFilterItems collects the items a BIP158 basic filter would
// index for this block: spent outpoints' scriptPubKeys plus every
// non-OP_RETURN output script, deduplicated and sorted. The node itself
// neither builds nor serves compact filters; only the package's tests call
// this function.
func (b *Block) ExtractBasicFilterItems(prevOutputScripts [][]byte) [][]byte {
	items := make([][]byte, 0)

	for _, script := range prevOutputScripts {
		if len(script) > 0 {
			items = append(items, script)
		}
	}

	for _, tx := range b.Txs {
		for _, output := range tx.Outputs {
			scriptBytes, err := output.RawScriptBytes()
			if err != nil || len(scriptBytes) == 0 {
				continue
			}
			if scriptBytes[0] == OpReturn {
				continue
			}
			items = append(items, scriptBytes)
		}
	}

	nonEmpty := make([][]byte, 0, len(items))
	for _, item := range items {
		if len(item) > 0 {
			nonEmpty = append(nonEmpty, item)
		}
	}
	items = nonEmpty

	seen := make(map[string]bool)
	unique := make([][]byte, 0, len(items))
	for _, item := range items {
		key := string(item)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, item)
		}
	}

	slices.SortFunc(unique, func(a, b []byte) int {
		return bytes.Compare(a, b)
	})

	return unique
}
