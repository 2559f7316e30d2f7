// Package peerpool owns every live peer connection, dispatches outbound
// payloads (any/all/specific) and discovers peers by resolving a seed
// hostname's DNS A/AAAA records. Uses an explicit miekg/dns query against
// the system resolver, rather than net.LookupIP (which collapses A/AAAA
// before the caller can see them), so rejecting IPv6 addresses is a
// visible decision instead of an accident of net.LookupIP's ordering.
package peerpool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/miekg/dns"

	"github.com/nenrikson/spvnode/internal/network"
	"github.com/nenrikson/spvnode/internal/peer"
)

// ErrNoPeers is returned by SendToAny once every connection has failed.
var ErrNoPeers = fmt.Errorf("peerpool: no live peers")

// Pool holds write access to every connected peer plus the shared event
// stream every peer's reader feeds into.
type Pool struct {
	mu    sync.Mutex
	peers map[string]*peer.Peer

	events  chan peer.Event
	testNet bool
	log     slog.Logger
}

func New(testNet bool, log slog.Logger) *Pool {
	if log == nil {
		log = slog.Disabled
	}
	return &Pool{
		peers:   make(map[string]*peer.Peer),
		events:  make(chan peer.Event, 256),
		testNet: testNet,
		log:     log,
	}
}

// Events is the single (peer_addr, Message) stream the controller's
// dispatcher drains.
func (p *Pool) Events() <-chan peer.Event {
	return p.events
}

// ResolveSeed resolves hostname's A and AAAA records against the system
// resolver (read from /etc/resolv.conf). AAAA results are logged and
// dropped — IPv6 is a rejected policy, not a protocol limitation — and
// only the surviving IPv4 addresses are returned.
func ResolveSeed(ctx context.Context, hostname string, log slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.Disabled
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("peerpool: read resolver config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("peerpool: no resolvers configured")
	}
	resolver := fmt.Sprintf("%s:%s", cfg.Servers[0], cfg.Port)

	client := new(dns.Client)
	var addrs []string

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(hostname), qtype)
		resp, _, err := client.ExchangeContext(ctx, msg, resolver)
		if err != nil {
			log.Warnf("dns query %s (type %d) failed: %v", hostname, qtype, err)
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rec.A.String())
			case *dns.AAAA:
				log.Infof("dropping AAAA record %s for %s (ipv6 rejected)", rec.AAAA.String(), hostname)
			}
		}
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("peerpool: no A records found for %s", hostname)
	}
	return addrs, nil
}

// ConnectAll dials, handshakes, and starts the reader/writer goroutines for
// every address in addrs. Individual dial/handshake failures are logged
// and skipped, trying the next address, rather than aborting discovery.
// Returns an error only if every address failed.
func (p *Pool) ConnectAll(addrs []string, port int, dialTimeout time.Duration) error {
	connected := 0
	for _, addr := range addrs {
		pr, err := peer.Dial(addr, port, p.testNet, dialTimeout, p.log)
		if err != nil {
			p.log.Warnf("dial %s:%d failed: %v", addr, port, err)
			continue
		}
		if err := pr.Handshake(70015, uint16(port)); err != nil {
			p.log.Warnf("handshake with %s:%d failed: %v", addr, port, err)
			continue
		}
		p.Add(pr)
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("peerpool: connected to 0 of %d candidates", len(addrs))
	}
	return nil
}

// Add registers an already-handshaked peer and starts feeding its reader
// loop into the pool's shared event stream.
func (p *Pool) Add(pr *peer.Peer) {
	p.mu.Lock()
	p.peers[pr.Addr] = pr
	p.mu.Unlock()
	pr.Run(p.events)
}

// remove drops addr from the live set and closes its connection. Safe to
// call on an address already removed.
func (p *Pool) remove(addr string) {
	p.mu.Lock()
	pr, ok := p.peers[addr]
	if ok {
		delete(p.peers, addr)
	}
	p.mu.Unlock()
	if ok {
		pr.Close()
	}
}

// Len reports the number of live peers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

func (p *Pool) snapshot() []*peer.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*peer.Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		out = append(out, pr)
	}
	return out
}

// SendToAny picks a peer uniformly at random and sends msg to it. On write
// failure it evicts that peer and retries with another, failing only once
// the set is empty.
func (p *Pool) SendToAny(msg network.Message) error {
	for {
		candidates := p.snapshot()
		if len(candidates) == 0 {
			return ErrNoPeers
		}
		pr := candidates[rand.IntN(len(candidates))]
		if err := pr.Send(msg); err != nil {
			p.log.Warnf("send_to_any: %s failed, trying another peer: %v", pr.Addr, err)
			p.remove(pr.Addr)
			continue
		}
		return nil
	}
}

// SendToAll writes msg to every live peer, logging but not aborting on a
// per-peer failure.
func (p *Pool) SendToAll(msg network.Message) {
	for _, pr := range p.snapshot() {
		if err := pr.Send(msg); err != nil {
			p.log.Warnf("send_to_all: %s failed: %v", pr.Addr, err)
			p.remove(pr.Addr)
		}
	}
}

// SendToSpecific writes msg to exactly the peer at addr, erroring if that
// peer is not currently connected.
func (p *Pool) SendToSpecific(addr string, msg network.Message) error {
	p.mu.Lock()
	pr, ok := p.peers[addr]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("peerpool: peer %s not connected", addr)
	}
	if err := pr.Send(msg); err != nil {
		p.remove(addr)
		return err
	}
	return nil
}

// OnFailure should be called by the controller's dispatcher whenever it
// sees a peer.Event with a non-nil Err: it removes the dead peer from the
// pool and closes its connection right away.
func (p *Pool) OnFailure(addr string) {
	p.remove(addr)
}

// Close tears down every connection.
func (p *Pool) Close() {
	for _, pr := range p.snapshot() {
		p.remove(pr.Addr)
	}
}
