package network

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/nenrikson/spvnode/internal/encoding"
)

// InvMessage advertises objects a peer has available (or, sent back to a
// peer, objects this node has). Wire layout mirrors GetDataMessage:
// varint count followed by (type uint32 LE, 32-byte id) pairs.
type InvMessage struct {
	Items []DataItem
}

func ParseInvMessage(r io.Reader) (InvMessage, error) {
	count, err := encoding.ReadVarInt(r)
	if err != nil {
		return InvMessage{}, err
	}
	items := make([]DataItem, count)
	for i := uint64(0); i < count; i++ {
		var typeBuf [4]byte
		if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
			return InvMessage{}, err
		}
		var id [32]byte
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return InvMessage{}, err
		}
		items[i] = DataItem{
			Type:       DataType(binary.LittleEndian.Uint32(typeBuf[:])),
			Identifier: id,
		}
	}
	return InvMessage{Items: items}, nil
}

func (iv *InvMessage) Serialize() ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	count, err := encoding.EncodeVarInt(uint64(len(iv.Items)))
	if err != nil {
		return nil, err
	}
	buf.Write(count)
	for _, item := range iv.Items {
		binary.Write(buf, binary.LittleEndian, item.Type)
		buf.Write(item.Identifier[:])
	}
	return buf.Bytes(), nil
}

func (iv InvMessage) Command() string {
	return "inv"
}
