package network_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/network"
)

func envelopeBytes(t *testing.T, magic uint32, command string, payload []byte, checksum uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	var magicBytes [4]byte
	binary.BigEndian.PutUint32(magicBytes[:], magic)
	buf.Write(magicBytes[:])

	var cmd [12]byte
	copy(cmd[:], command)
	buf.Write(cmd[:])

	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	buf.Write(lenBytes[:])

	var checksumBytes [4]byte
	binary.LittleEndian.PutUint32(checksumBytes[:], checksum)
	buf.Write(checksumBytes[:])

	buf.Write(payload)
	return buf.Bytes()
}

func TestParseNetworkEnvelopeRoundTrip(t *testing.T) {
	env, err := network.NewNetworkEnvelope("verack", nil, true)
	require.NoError(t, err)

	data, err := env.Serialize()
	require.NoError(t, err)

	parsed, err := network.ParseNetworkEnvelope(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, env.Magic, parsed.Magic)
	require.Equal(t, env.Command, parsed.Command)
}

func TestParseNetworkEnvelopeRejectsBadMagic(t *testing.T) {
	raw := envelopeBytes(t, 0xdeadbeef, "verack", nil, 0)
	_, err := network.ParseNetworkEnvelope(bytes.NewReader(raw))
	require.ErrorIs(t, err, network.ErrMalformedMessage)
}

func TestParseNetworkEnvelopeRejectsOversizedPayloadLen(t *testing.T) {
	var buf bytes.Buffer
	var magicBytes [4]byte
	binary.BigEndian.PutUint32(magicBytes[:], network.TESTNET_MAGIC)
	buf.Write(magicBytes[:])

	var cmd [12]byte
	copy(cmd[:], "tx")
	buf.Write(cmd[:])

	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], 500*1024*1024+1)
	buf.Write(lenBytes[:])

	// no payload follows: the length guard must reject before trying to
	// read or allocate it
	_, err := network.ParseNetworkEnvelope(&buf)
	require.ErrorIs(t, err, network.ErrMalformedMessage)
}

func TestParseNetworkEnvelopeRejectsBadChecksum(t *testing.T) {
	payload := []byte("hello")
	raw := envelopeBytes(t, network.TESTNET_MAGIC, "verack", payload, 0x01020304)
	_, err := network.ParseNetworkEnvelope(bytes.NewReader(raw))
	require.ErrorIs(t, err, network.ErrMalformedMessage)
}
