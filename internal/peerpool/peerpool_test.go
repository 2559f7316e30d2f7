package peerpool_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/network"
	"github.com/nenrikson/spvnode/internal/peer"
	"github.com/nenrikson/spvnode/internal/peerpool"
)

// newHandshakedPeer starts a fake remote end that completes the
// handshake then blocks forever on read (keeping the connection open so
// writes from the pool succeed), and returns a handshaked *peer.Peer
// connected to it.
func newHandshakedPeer(t *testing.T) *peer.Peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		network.ParseNetworkEnvelope(conn)
		vm := network.DefaultVersionMessage(net.IPv4(127, 0, 0, 1), 0)
		writeMsg(conn, &vm)
		writeMsg(conn, &network.VerackMessage{})
		// keep the connection open, absorbing whatever the pool sends
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	pr, err := peer.Dial(host, port, true, 2*time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, pr.Handshake(70015, uint16(port)))
	return pr
}

func writeMsg(conn net.Conn, msg network.Message) {
	payload, _ := msg.Serialize()
	env, _ := network.NewNetworkEnvelope(msg.Command(), payload, true)
	data, _ := env.Serialize()
	conn.Write(data)
}

func TestSendToAnyAndSpecific(t *testing.T) {
	pool := peerpool.New(true, nil)
	p1 := newHandshakedPeer(t)
	p2 := newHandshakedPeer(t)
	pool.Add(p1)
	pool.Add(p2)

	require.Equal(t, 2, pool.Len())

	ping := &network.PongMessage{Nonce: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, pool.SendToAny(ping))
	require.NoError(t, pool.SendToSpecific(p1.Addr, ping))

	err := pool.SendToSpecific("127.0.0.1:1", ping)
	require.Error(t, err, "expected error sending to unknown peer")

	pool.SendToAll(ping)
	pool.Close()
}

func TestSendToAnyFailsWhenEmpty(t *testing.T) {
	pool := peerpool.New(true, nil)
	err := pool.SendToAny(&network.PongMessage{})
	require.ErrorIs(t, err, peerpool.ErrNoPeers)
}
