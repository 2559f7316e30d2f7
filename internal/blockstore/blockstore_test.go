package blockstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/blockstore"
	"github.com/nenrikson/spvnode/internal/header"
)

func TestHeaderStoreAppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headers.dat")

	store, err := blockstore.OpenHeaderStore(path)
	require.NoError(t, err)

	h1 := header.Header{Version: 1, Bits: header.LowestBits, Nonce: 1}
	h2 := header.Header{Version: 1, Bits: header.LowestBits, Nonce: 2}

	require.NoError(t, store.Append(h1))
	require.NoError(t, store.Append(h2))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, uint32(1), loaded[0].Nonce)
	require.Equal(t, uint32(2), loaded[1].Nonce)

	store.Close()

	// reopen and confirm the append-only file round-trips across a
	// process restart
	reopened, err := blockstore.OpenHeaderStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded2, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, loaded2, 2)
}
