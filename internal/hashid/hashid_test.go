package hashid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/hashid"
)

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := hashid.FromBytes(make([]byte, 31))
	require.Error(t, err)
}

func TestParseAndStringRoundTrip(t *testing.T) {
	// genesis-style hash with a distinctive leading run of zero bytes in
	// the conventional display form
	const display = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"

	id, err := hashid.Parse(display)
	require.NoError(t, err)
	require.Equal(t, display, id.String())
}

func TestCompareOrdersByInternalBytes(t *testing.T) {
	low, err := hashid.FromBytes(append([]byte{0x00}, make([]byte, 31)...))
	require.NoError(t, err)
	high, err := hashid.FromBytes(append([]byte{0xff}, make([]byte, 31)...))
	require.NoError(t, err)

	require.Negative(t, low.Compare(high))
	require.Positive(t, high.Compare(low))
	require.Zero(t, low.Compare(low))
}

func TestIsZero(t *testing.T) {
	require.True(t, hashid.Zero.IsZero())

	nonZero, err := hashid.FromBytes(append([]byte{0x01}, make([]byte, 31)...))
	require.NoError(t, err)
	require.False(t, nonZero.IsZero())
}
