// Package header implements the 80-byte block header: parsing, proof of
// work verification, and difficulty retargeting. Adapted from the
// teacher's internal/block package, which conflated header and full block
// into a single type; this node keeps them separate so a header received
// during the "getheaders" phase of initial sync doesn't need an
// (unavailable) transaction list to be usable.
package header

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"slices"
	"time"

	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
)

const (
	LowestBits uint32 = 0x1d00ffff // maximum target (difficulty 1)

	bitsCoeffMask  uint32 = 0x00ffffff
	bitsHighBitMax byte   = 0x7f

	diffBaseCoeff uint32 = 0xffff
	diffBaseExp   uint32 = 0x1d

	// Difficulty adjustment period (2016 blocks, ~2 weeks at 10 min/block).
	RetargetInterval = 2016

	twoWeeks      int64 = 60 * 60 * 24 * 14
	eightWeeks    int64 = twoWeeks * 4
	threeHalfDays int64 = twoWeeks / 4
)

// TestnetGenesis is the testnet3 genesis block header.
var TestnetGenesis = []byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x3b, 0xa3, 0xed, 0xfd,
	0x7a, 0x7b, 0x12, 0xb2, 0x7a, 0xc7, 0x2c, 0x3e,
	0x67, 0x76, 0x8f, 0x61, 0x7f, 0xc8, 0x1b, 0xc3,
	0x88, 0x8a, 0x51, 0x32, 0x3a, 0x9f, 0xb8, 0xaa,
	0x4b, 0x1e, 0x5e, 0x4a, 0xda, 0xe5, 0x49, 0x4d,
	0xff, 0xff, 0x00, 0x1d, 0x1a, 0xa4, 0xae, 0x18,
}

// Header is the 80-byte block header.
type Header struct {
	Version    uint32
	PrevBlock  hashid.ID
	MerkleRoot hashid.ID
	TimeStamp  uint32
	Bits       uint32
	Nonce      uint32
}

func Parse(r io.Reader) (Header, error) {
	var h Header
	buf := make([]byte, 4)

	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	h.Version = binary.LittleEndian.Uint32(buf)

	if _, err := io.ReadFull(r, h.PrevBlock[:]); err != nil {
		return Header{}, err
	}
	if _, err := io.ReadFull(r, h.MerkleRoot[:]); err != nil {
		return Header{}, err
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	h.TimeStamp = binary.LittleEndian.Uint32(buf)

	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	h.Bits = binary.LittleEndian.Uint32(buf)

	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	h.Nonce = binary.LittleEndian.Uint32(buf)

	return h, nil
}

func (h Header) Serialize() []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.TimeStamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

func (h Header) Time() time.Time {
	return time.Unix(int64(h.TimeStamp), 0)
}

func (h Header) Hash() hashid.ID {
	sum := encoding.Hash256(h.Serialize())
	id, _ := hashid.FromBytes(sum)
	return id
}

func (h Header) IsBip9() bool {
	return (h.Version >> 29) == 0b001
}

func (h Header) IsBip91() bool {
	return (h.Version>>4)&1 == 1
}

func (h Header) IsBip141() bool {
	return (h.Version>>1)&1 == 1
}

func (h Header) bitsToTarget() *big.Int {
	exponent := h.Bits >> 24
	coeff := h.Bits & bitsCoeffMask

	target := big.NewInt(int64(coeff))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}
	return target
}

func TargetToBits(target *big.Int) uint32 {
	rawBytes := target.Bytes()

	if len(rawBytes) > 0 && rawBytes[0] > bitsHighBitMax {
		rawBytes = append([]byte{0x00}, rawBytes...)
	}
	exponent := uint32(len(rawBytes))

	coefficient := uint32(0)
	if len(rawBytes) >= 1 {
		coefficient |= uint32(rawBytes[0]) << 16
	}
	if len(rawBytes) >= 2 {
		coefficient |= uint32(rawBytes[1]) << 8
	}
	if len(rawBytes) >= 3 {
		coefficient |= uint32(rawBytes[2])
	}

	return (exponent << 24) | coefficient
}

func (h Header) Difficulty() *big.Int {
	target := h.bitsToTarget()
	diffBase := big.NewInt(int64(diffBaseCoeff))
	diffBase.Lsh(diffBase, uint(8*(diffBaseExp-3)))
	return new(big.Int).Div(diffBase, target)
}

// CheckProofOfWork reports whether the header's hash, interpreted as a
// big-endian integer, is below the target implied by Bits.
func (h Header) CheckProofOfWork() bool {
	hash := h.Hash()
	rev := hash.Bytes()
	slices.Reverse(rev)
	proof := new(big.Int).SetBytes(rev)
	return proof.Cmp(h.bitsToTarget()) < 0
}

// CalcNewBits computes the retargeted difficulty given the first and last
// header of a completed 2016-block period.
func CalcNewBits(first, last Header) uint32 {
	ew := big.NewInt(eightWeeks)
	thd := big.NewInt(threeHalfDays)

	timeDiff := big.NewInt(int64(last.TimeStamp - first.TimeStamp))
	if timeDiff.Cmp(ew) > 0 {
		timeDiff = ew
	}
	if timeDiff.Cmp(thd) < 0 {
		timeDiff = thd
	}

	newTarget := new(big.Int).Mul(last.bitsToTarget(), timeDiff)
	newTarget.Div(newTarget, big.NewInt(twoWeeks))

	maxTarget := Header{Bits: LowestBits}.bitsToTarget()
	if newTarget.Cmp(maxTarget) > 0 {
		return LowestBits
	}
	return TargetToBits(newTarget)
}

// ErrDiscontinuous reports a header whose PrevBlock does not match the
// running tip. No function in this module returns it.
var ErrDiscontinuous = fmt.Errorf("header: discontinuous chain")
