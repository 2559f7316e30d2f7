package controller

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/block"
	"github.com/nenrikson/spvnode/internal/blockstore"
	"github.com/nenrikson/spvnode/internal/encoding"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/header"
	"github.com/nenrikson/spvnode/internal/network"
	"github.com/nenrikson/spvnode/internal/peer"
	"github.com/nenrikson/spvnode/internal/peerpool"
	"github.com/nenrikson/spvnode/internal/script"
	"github.com/nenrikson/spvnode/internal/transactions"
	"github.com/nenrikson/spvnode/internal/utxo"
	"github.com/nenrikson/spvnode/internal/wallet"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	dir := t.TempDir()
	hs, err := blockstore.OpenHeaderStore(filepath.Join(dir, "headers.dat"))
	require.NoError(t, err)
	bs, err := blockstore.OpenBlockStore(filepath.Join(dir, "blocks.dat"))
	require.NoError(t, err)
	w, err := wallet.New(true)
	require.NoError(t, err)
	pool := peerpool.New(true, nil)
	return New(pool, utxo.NewSet(), w, hs, bs, 0, true, nil, nil)
}

func headerWith(prev hashid.ID, nonce uint32) header.Header {
	return header.Header{Version: 1, PrevBlock: prev, Bits: header.LowestBits, Nonce: nonce}
}

func blockWith(h header.Header) *block.Block {
	return &block.Block{Header: h, Txs: nil}
}

// TestDeferredJoinChildFirst exercises addToValidBlocks/putBlockOnHold's
// reassembly when a child block arrives before its parent: the child must
// sit in blocksOnHold until the parent lands, at which point it should be
// promoted into validBlocks automatically.
func TestDeferredJoinChildFirst(t *testing.T) {
	c := newTestController(t)

	parentHeader := headerWith(hashid.Zero, 1)
	parentHash := parentHeader.Hash()
	childHeader := headerWith(parentHash, 2)
	childBlock := blockWith(childHeader)

	c.mu.Lock()
	c.putBlockOnHold(childBlock)
	require.Empty(t, c.validBlocks, "child should not be valid before its parent arrives")
	_, onHold := c.blocksOnHold[childHeader.Hash()]
	require.True(t, onHold, "child should be held pending its parent")
	c.mu.Unlock()

	parentBlock := blockWith(parentHeader)
	c.mu.Lock()
	c.addToValidBlocks(parentBlock)
	c.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.validBlocks[parentHash]
	require.True(t, ok, "parent should be valid")
	_, ok = c.validBlocks[childHeader.Hash()]
	require.True(t, ok, "child should have been promoted once its parent validated")
	_, stillHeld := c.blocksOnHold[childHeader.Hash()]
	require.False(t, stillHeld, "child should no longer be on hold")
}

// TestDeferredJoinParentFirst exercises the simpler case where the parent
// already validated before the child is even seen.
func TestDeferredJoinParentFirst(t *testing.T) {
	c := newTestController(t)

	parentHeader := headerWith(hashid.Zero, 1)
	parentHash := parentHeader.Hash()
	c.mu.Lock()
	c.addToValidBlocks(blockWith(parentHeader))
	c.mu.Unlock()

	childHeader := headerWith(parentHash, 2)
	childBlock := blockWith(childHeader)

	c.mu.Lock()
	c.addToValidBlocks(childBlock)
	_, ok := c.validBlocks[childHeader.Hash()]
	c.mu.Unlock()
	require.True(t, ok, "child should be valid immediately, its parent already known")
}

// TestValidateBlockRejectsDuplicate confirms the idempotency guard: a
// block already accepted as valid, or already on hold, is rejected by a
// second validateBlock call rather than reprocessed.
func TestValidateBlockRejectsDuplicate(t *testing.T) {
	c := newTestController(t)

	h := headerWith(hashid.Zero, 7)
	b := blockWith(h)

	c.mu.Lock()
	c.addToValidBlocks(b)
	err := c.validateBlock(b)
	c.mu.Unlock()
	require.ErrorIs(t, err, ErrAlreadyExists)

	c2 := newTestController(t)
	h2 := headerWith(hashid.Zero, 8)
	b2 := blockWith(h2)
	c2.mu.Lock()
	c2.putBlockOnHold(b2)
	err2 := c2.validateBlock(b2)
	c2.mu.Unlock()
	require.ErrorIs(t, err2, ErrAlreadyExists)
}

// TestExpandUTXORecordsWalletHistory confirms a confirmed transaction
// paying this node's own wallet is both applied to the UTXO set and
// logged to the wallet's history.
func TestExpandUTXORecordsWalletHistory(t *testing.T) {
	c := newTestController(t)

	funding := transactions.NewTransaction(1,
		[]transactions.TxIn{transactions.NewTxIn(make([]byte, 32), 0xffffffff, 0xffffffff)},
		[]transactions.TxOut{{Amount: 5000, ScriptPubKey: scriptFor(t, c.wallet.Address())}},
		0, true, false)

	b := blockWith(headerWith(hashid.Zero, 1))
	b.Txs = []*transactions.Transaction{&funding}

	c.mu.Lock()
	c.expandUTXO(b)
	c.mu.Unlock()

	require.Equal(t, uint64(5000), c.wallet.Balance(c.utxoSet))
	require.Len(t, c.wallet.History(), 1)
}

func scriptFor(t *testing.T, addr string) script.Script {
	t.Helper()
	h160, err := encoding.DecodeBase58(addr)
	require.NoError(t, err)
	return script.P2pkhScript(h160)
}

// fakeHeaderPeer spins up a listener that completes the handshake and
// then records every command it subsequently receives, so a test can
// assert whether handleHeaders issued a follow-up getheaders.
type fakeHeaderPeer struct {
	commands chan string
}

func startFakeHeaderPeer(t *testing.T) (*peer.Peer, *fakeHeaderPeer) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	fp := &fakeHeaderPeer{commands: make(chan string, 16)}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		network.ParseNetworkEnvelope(conn)
		vm := network.DefaultVersionMessage(net.IPv4(127, 0, 0, 1), 0)
		payload, _ := vm.Serialize()
		env, _ := network.NewNetworkEnvelope(vm.Command(), payload, true)
		data, _ := env.Serialize()
		conn.Write(data)
		verack := &network.VerackMessage{}
		vpayload, _ := verack.Serialize()
		venv, _ := network.NewNetworkEnvelope(verack.Command(), vpayload, true)
		vdata, _ := venv.Serialize()
		conn.Write(vdata)
		// consume the client's closing verack so it is not recorded
		network.ParseNetworkEnvelope(conn)

		for {
			incoming, err := network.ParseNetworkEnvelope(conn)
			if err != nil {
				close(fp.commands)
				return
			}
			fp.commands <- incoming.Command
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	pr, err := peer.Dial(host, port, true, 2*time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, pr.Handshake(70015, uint16(port)))
	return pr, fp
}

func headersPayload(t *testing.T, headers []header.Header) []byte {
	t.Helper()
	hm := network.HeadersMessage{Blocks: headers}
	payload, err := hm.Serialize()
	require.NoError(t, err)
	return payload
}

// TestHandleHeadersPagination checks the MaxHeaders=2000 boundary: a
// batch of exactly 2000 headers must trigger a follow-up getheaders, a
// batch of 1999 must not.
func TestHandleHeadersPagination(t *testing.T) {
	t.Run("2000 triggers pagination", func(t *testing.T) {
		c := newTestController(t)
		pr, fp := startFakeHeaderPeer(t)
		c.pool.Add(pr)

		headers := make([]header.Header, MaxHeaders)
		prev := hashid.Zero
		for i := range headers {
			h := headerWith(prev, uint32(i+1))
			headers[i] = h
			prev = h.Hash()
		}
		env := network.NetworkEnvelope{Command: "headers", Payload: headersPayload(t, headers)}
		c.handleHeaders(env)

		select {
		case cmd := <-fp.commands:
			require.Equal(t, "getheaders", cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a follow-up getheaders for a full 2000-header batch")
		}
	})

	t.Run("1999 does not trigger pagination", func(t *testing.T) {
		c := newTestController(t)
		pr, fp := startFakeHeaderPeer(t)
		c.pool.Add(pr)

		headers := make([]header.Header, MaxHeaders-1)
		prev := hashid.Zero
		for i := range headers {
			h := headerWith(prev, uint32(i+1))
			headers[i] = h
			prev = h.Hash()
		}
		env := network.NetworkEnvelope{Command: "headers", Payload: headersPayload(t, headers)}
		c.handleHeaders(env)

		select {
		case cmd, ok := <-fp.commands:
			require.False(t, ok, "unexpected command %q for a 1999-header batch", cmd)
		case <-time.After(300 * time.Millisecond):
			// no command arrived, as expected
		}
	})
}
