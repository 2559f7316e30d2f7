// Package peer owns a single TCP connection to a Bitcoin testnet node: the
// handshake, the read loop that parses wire messages off the socket, and
// the write loop that serializes outbound messages onto it. Parsed
// messages are pushed onto one channel shared by every peer, so the
// network controller has a single point of dispatch, rather than a
// per-command channel map private to each connection.
package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/nenrikson/spvnode/internal/network"
)

// Event is one item of the (peer_addr, Message) stream a peer's reader
// loop emits. Err is set, and Envelope is zero, when the connection
// failed or was closed; the controller logs it and removes the peer from
// the pool at once, not on a later write attempt.
type Event struct {
	Addr     string
	Envelope network.NetworkEnvelope
	Err      error
}

// Peer is a single live connection: one reader goroutine, one writer
// goroutine, and the socket itself. The reader pushes parsed envelopes to
// a shared channel supplied by the pool; the writer drains an outgoing
// queue private to this peer, so a slow or dead peer never blocks a write
// to any other peer.
type Peer struct {
	Addr    string
	conn    net.Conn
	testNet bool
	log     slog.Logger

	outgoing chan network.Message
	done     chan struct{}
	closeOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to host:port with the given timeout. The connection is not
// usable for application traffic until Handshake succeeds.
func Dial(host string, port int, testNet bool, timeout time.Duration, log slog.Logger) (*Peer, error) {
	if log == nil {
		log = slog.Disabled
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}
	return &Peer{
		Addr:     addr,
		conn:     conn,
		testNet:  testNet,
		log:      log,
		outgoing: make(chan network.Message, 10),
		done:     make(chan struct{}),
	}, nil
}

// Send queues a message for the write loop. It never blocks on the socket
// itself; it only blocks if the outgoing queue is full.
func (p *Peer) Send(msg network.Message) error {
	select {
	case p.outgoing <- msg:
		return nil
	case <-p.done:
		return fmt.Errorf("peer: %s: connection closed", p.Addr)
	}
}

// Handshake performs the version/verack exchange: send local version,
// read remote version and verify local.version <= remote.version, read
// remote verack, send local verack. Any failure closes the connection
// and returns an error; there is no retry at this layer.
func (p *Peer) Handshake(localVersion int32, senderPort uint16) error {
	localIP := net.IP(nil)
	if tcpAddr, ok := p.conn.RemoteAddr().(*net.TCPAddr); ok {
		localIP = tcpAddr.IP
	}
	vm := network.DefaultVersionMessage(localIP, senderPort)
	vm.Version = localVersion
	if err := p.writeMessage(&vm); err != nil {
		p.Close()
		return fmt.Errorf("peer: %s: send version: %w", p.Addr, err)
	}

	versionEnv, err := p.readEnvelope()
	if err != nil {
		p.Close()
		return fmt.Errorf("peer: %s: read version: %w", p.Addr, err)
	}
	if versionEnv.Command != "version" {
		p.Close()
		return fmt.Errorf("peer: %s: expected version, got %s", p.Addr, versionEnv.Command)
	}
	remoteVersion, err := network.ParseVersionMessage(versionEnv.Payload)
	if err != nil {
		p.Close()
		return fmt.Errorf("peer: %s: parse version: %w", p.Addr, err)
	}
	if localVersion > remoteVersion.Version {
		p.Close()
		return fmt.Errorf("peer: %s: remote version %d below local %d", p.Addr, remoteVersion.Version, localVersion)
	}

	verackEnv, err := p.readEnvelope()
	if err != nil {
		p.Close()
		return fmt.Errorf("peer: %s: read verack: %w", p.Addr, err)
	}
	if verackEnv.Command != "verack" {
		p.Close()
		return fmt.Errorf("peer: %s: expected verack, got %s", p.Addr, verackEnv.Command)
	}

	if err := p.writeMessage(&network.VerackMessage{}); err != nil {
		p.Close()
		return fmt.Errorf("peer: %s: send verack: %w", p.Addr, err)
	}

	p.log.Infof("handshake complete with %s", p.Addr)
	return nil
}

// Run starts the reader and writer goroutines. Parsed messages (and the
// terminal failure, if any) are pushed to events. Run returns immediately;
// the goroutines exit when Close is called or the connection fails.
func (p *Peer) Run(events chan<- Event) {
	p.wg.Add(2)
	go p.readLoop(events)
	go p.writeLoop()
}

func (p *Peer) readLoop(events chan<- Event) {
	defer p.wg.Done()
	for {
		env, err := p.readEnvelope()
		if err != nil {
			select {
			case events <- Event{Addr: p.Addr, Err: err}:
			case <-p.done:
			}
			return
		}
		select {
		case events <- Event{Addr: p.Addr, Envelope: env}:
		case <-p.done:
			return
		}
	}
}

func (p *Peer) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.outgoing:
			if err := p.writeMessage(msg); err != nil {
				p.log.Warnf("write to %s failed: %v", p.Addr, err)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) readEnvelope() (network.NetworkEnvelope, error) {
	return network.ParseNetworkEnvelope(p.conn)
}

func (p *Peer) writeMessage(msg network.Message) error {
	payload, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", msg.Command(), err)
	}
	env, err := network.NewNetworkEnvelope(msg.Command(), payload, p.testNet)
	if err != nil {
		return err
	}
	data, err := env.Serialize()
	if err != nil {
		return err
	}
	_, err = p.conn.Write(data)
	return err
}

// Close tears down the connection. Safe to call more than once and from
// multiple goroutines.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return p.conn.Close()
}

func (p *Peer) String() string {
	return p.Addr
}
