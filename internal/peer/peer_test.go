package peer_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/network"
	"github.com/nenrikson/spvnode/internal/peer"
)

func TestHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runFakeServer(ln)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	p, err := peer.Dial(host, port, true, 2*time.Second, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Handshake(70015, uint16(port)), "handshake failed")
	require.NoError(t, <-serverDone, "fake server")
}

// runFakeServer plays the remote side of the handshake: accept one
// connection, read the client's version, send a version and verack, and
// read the client's final verack.
func runFakeServer(ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := network.ParseNetworkEnvelope(conn); err != nil {
		return err
	}

	vm := network.DefaultVersionMessage(net.IPv4(127, 0, 0, 1), 0)
	if err := sendMessage(conn, &vm, true); err != nil {
		return err
	}
	if err := sendMessage(conn, &network.VerackMessage{}, true); err != nil {
		return err
	}

	_, err = network.ParseNetworkEnvelope(conn)
	return err
}

func sendMessage(conn net.Conn, msg network.Message, testNet bool) error {
	payload, err := msg.Serialize()
	if err != nil {
		return err
	}
	env, err := network.NewNetworkEnvelope(msg.Command(), payload, testNet)
	if err != nil {
		return err
	}
	data, err := env.Serialize()
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
