// Package blockstore persists the header chain and full blocks to
// append-only files, and replays them on startup. Record framing uses the
// varint helpers in internal/encoding throughout: headers are terminated
// by a single 0x00 byte, blocks are length-prefixed with a varint, and a
// truncated tail record on load is treated as end of file rather than an
// error.
package blockstore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/nenrikson/spvnode/internal/block"
	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/header"
)

// HeaderStore appends serialized headers to a flat file, one
// serialize(header) || 0x00 record per entry.
type HeaderStore struct {
	path string
	f    *os.File
}

func OpenHeaderStore(path string) (*HeaderStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open header file: %w", err)
	}
	return &HeaderStore{path: path, f: f}, nil
}

func (s *HeaderStore) Close() error {
	return s.f.Close()
}

// Append writes a header record and flushes it before returning, so a
// crash immediately after Append leaves at most one truncatable tail
// record.
func (s *HeaderStore) Append(h header.Header) error {
	buf := append(h.Serialize(), 0x00)
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("blockstore: append header: %w", err)
	}
	return s.f.Sync()
}

// Load replays every complete header record from the start of the file.
// A partial record at EOF (fewer than 81 bytes remaining) is discarded,
// not treated as an error, per the append-only recovery contract.
func (s *HeaderStore) Load() ([]header.Header, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("blockstore: seek header file: %w", err)
	}
	r := bufio.NewReader(s.f)

	var headers []header.Header
	for {
		h, err := header.Parse(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return headers, fmt.Errorf("blockstore: parse header: %w", err)
		}
		marker, err := r.ReadByte()
		if err != nil || marker != 0x00 {
			// truncated tail record; stop, discard it.
			break
		}
		headers = append(headers, h)
	}

	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("blockstore: seek header file end: %w", err)
	}
	return headers, nil
}

// BlockStore appends full blocks as varint(len) || serialize(block)
// records.
type BlockStore struct {
	path string
	f    *os.File
}

func OpenBlockStore(path string) (*BlockStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open block file: %w", err)
	}
	return &BlockStore{path: path, f: f}, nil
}

func (s *BlockStore) Close() error {
	return s.f.Close()
}

func (s *BlockStore) Append(b *block.Block) error {
	ser, err := serializeBlock(b)
	if err != nil {
		return fmt.Errorf("blockstore: serialize block: %w", err)
	}
	lenPrefix, err := encoding.EncodeVarInt(uint64(len(ser)))
	if err != nil {
		return fmt.Errorf("blockstore: encode length: %w", err)
	}
	if _, err := s.f.Write(lenPrefix); err != nil {
		return fmt.Errorf("blockstore: append block length: %w", err)
	}
	if _, err := s.f.Write(ser); err != nil {
		return fmt.Errorf("blockstore: append block: %w", err)
	}
	return s.f.Sync()
}

// Load replays every complete block record. A length prefix whose declared
// size runs past EOF is discarded as a truncated tail write.
func (s *BlockStore) Load() ([]*block.Block, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("blockstore: seek block file: %w", err)
	}
	r := bufio.NewReader(s.f)

	var blocks []*block.Block
	for {
		// EOF and a truncated-tail length varint both just mean "stop here".
		n, err := encoding.ReadVarInt(r)
		if err != nil {
			break
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			break // truncated tail record
		}
		b, err := block.Parse(bytes.NewReader(raw))
		if err != nil {
			return blocks, fmt.Errorf("blockstore: parse block: %w", err)
		}
		blocks = append(blocks, b)
	}

	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("blockstore: seek block file end: %w", err)
	}
	return blocks, nil
}

func serializeBlock(b *block.Block) ([]byte, error) {
	out := b.Header.Serialize()
	count, err := encoding.EncodeVarInt(uint64(len(b.Txs)))
	if err != nil {
		return nil, err
	}
	out = append(out, count...)
	for _, tx := range b.Txs {
		txBytes, err := tx.Serialize()
		if err != nil {
			return nil, err
		}
		out = append(out, txBytes...)
	}
	return out, nil
}
