// Package hashid gives the 32-byte double-SHA256 identifiers used
// throughout the node (block hashes, txids, outpoints) a single named
// type instead of passing bare [32]byte around.
package hashid

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
)

// ID is a double-SHA256 digest stored in the byte order the hash function
// produces, which is also the order used on the wire (little-endian when
// read as a number). String and Parse reverse the bytes so log lines and
// RPC-style output match the familiar block-explorer hex.
type ID [32]byte

var Zero ID

func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != 32 {
		return id, fmt.Errorf("hashid: want 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse reads the conventional reversed-hex display form.
func Parse(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("hashid: %w", err)
	}
	if len(raw) != 32 {
		return ID{}, fmt.Errorf("hashid: want 32 bytes, got %d", len(raw))
	}
	slices.Reverse(raw)
	var id ID
	copy(id[:], raw)
	return id, nil
}

func (id ID) String() string {
	reversed := make([]byte, 32)
	copy(reversed, id[:])
	slices.Reverse(reversed)
	return hex.EncodeToString(reversed)
}

func (id ID) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, id[:])
	return out
}

func (id ID) IsZero() bool {
	return id == Zero
}

func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}
