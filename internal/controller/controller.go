// Package controller implements the network controller's Initial Block
// Download state machine. It owns the header chain, the block-reassembly
// structure (valid blocks / blocks on hold / pending children), the UTXO
// set, and the wallet, and drives all of it from a single dispatcher
// goroutine draining the peer pool's shared event stream.
package controller

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/nenrikson/spvnode/internal/block"
	"github.com/nenrikson/spvnode/internal/blockstore"
	"github.com/nenrikson/spvnode/internal/hashid"
	"github.com/nenrikson/spvnode/internal/header"
	"github.com/nenrikson/spvnode/internal/mempool"
	"github.com/nenrikson/spvnode/internal/network"
	"github.com/nenrikson/spvnode/internal/peer"
	"github.com/nenrikson/spvnode/internal/peerpool"
	"github.com/nenrikson/spvnode/internal/transactions"
	"github.com/nenrikson/spvnode/internal/utxo"
	"github.com/nenrikson/spvnode/internal/wallet"
)

// MaxHeaders is the protocol's per-message header cap. A headers message
// exactly this long means there are more to come.
const MaxHeaders = 2000

// blocksPerGetData is the inventory batch size used for getdata requests
// issued while walking a headers batch.
const blocksPerGetData = 20

// ErrAlreadyExists is returned by validateBlock for a block this
// controller has already accepted or is already holding.
var ErrAlreadyExists = fmt.Errorf("controller: block already received")

// ErrInvalidBlock is returned by validateBlock when proof of work or the
// merkle root fails to check out.
var ErrInvalidBlock = fmt.Errorf("controller: block failed validation")

// Controller is the one live instance per process of the node's
// controller state, guarded by a single coarse mutex: contention is
// acceptable here because the network is I/O-bound.
type Controller struct {
	mu sync.Mutex

	headers       map[hashid.ID]header.Header
	tallestHeader hashid.ID
	validBlocks   map[hashid.ID]*block.Block
	blocksOnHold  map[hashid.ID]*block.Block
	pendingBlocks map[hashid.ID][]hashid.ID

	utxoSet *utxo.Set
	wallet  *wallet.Wallet
	mempool *mempool.Mempool

	pool        *peerpool.Pool
	headerStore *blockstore.HeaderStore
	blockStore  *blockstore.BlockStore

	startTimestamp uint32
	testnet        bool
	log            slog.Logger
	statusCh       chan<- string
}

// New builds a controller over the given peer pool, on-disk stores,
// wallet and UTXO set. statusCh may be nil, in which case status updates
// are dropped rather than blocking.
func New(pool *peerpool.Pool, utxoSet *utxo.Set, w *wallet.Wallet, headerStore *blockstore.HeaderStore, blockStore *blockstore.BlockStore, startTimestamp uint32, testnet bool, log slog.Logger, statusCh chan<- string) *Controller {
	if log == nil {
		log = slog.Disabled
	}
	return &Controller{
		headers:        make(map[hashid.ID]header.Header),
		validBlocks:    make(map[hashid.ID]*block.Block),
		blocksOnHold:   make(map[hashid.ID]*block.Block),
		pendingBlocks:  make(map[hashid.ID][]hashid.ID),
		utxoSet:        utxoSet,
		wallet:         w,
		mempool:        mempool.New(),
		pool:           pool,
		headerStore:    headerStore,
		blockStore:     blockStore,
		startTimestamp: startTimestamp,
		testnet:        testnet,
		log:            log,
		statusCh:       statusCh,
	}
}

func (c *Controller) notifyStatus(msg string) {
	if c.statusCh == nil {
		return
	}
	select {
	case c.statusCh <- msg:
	default:
	}
}

// StartSync replays on-disk backups, if present, then kicks off live IBD
// by requesting headers from every connected peer: replay the headers
// backup, replay the blocks backup, then send getheaders(tallest_header)
// to all peers. Scheduling the periodic refresh is the caller's
// responsibility (see RunPeriodicRefresh).
func (c *Controller) StartSync() error {
	c.mu.Lock()

	if headers, err := c.headerStore.Load(); err == nil && len(headers) > 0 {
		c.notifyStatus("Reading headers from backup file...")
		for _, h := range headers {
			id := h.Hash()
			c.headers[id] = h
			c.tallestHeader = id
		}
		c.notifyStatus("Read headers from backup file.")
	}

	if blocks, err := c.blockStore.Load(); err == nil && len(blocks) > 0 {
		c.notifyStatus("Found blocks backup file, reading blocks...")
		for _, b := range blocks {
			c.readBackupBlock(b)
		}
		c.notifyStatus("Read blocks from backup file.")
	}

	tallest := c.tallestHeader
	c.mu.Unlock()

	return c.sendGetHeaders(tallest)
}

// readBackupBlock replays one block read from the on-disk blocks backup.
// Invalid or already-known blocks are silently dropped: the same
// validateBlock duplicate check that guards live block handling guards
// backup replay too, so replaying a block already seen live is a no-op.
// Caller must hold mu.
func (c *Controller) readBackupBlock(b *block.Block) {
	if err := c.validateBlock(b); err != nil {
		return
	}
	if _, ok := c.validBlocks[b.Header.PrevBlock]; ok {
		c.addToValidBlocks(b)
	} else {
		c.putBlockOnHold(b)
	}
}

// RunDispatcher drains the peer pool's event stream and applies each
// message to controller state, one at a time, until done is closed. This
// is the single message-dispatcher thread.
func (c *Controller) RunDispatcher(done <-chan struct{}) {
	events := c.pool.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Dispatch(ev)
		case <-done:
			return
		}
	}
}

// RunPeriodicRefresh calls RequestHeaders every interval until done is
// closed. This is the periodic header-refresh thread.
func (c *Controller) RunPeriodicRefresh(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.RequestHeaders(); err != nil {
				c.log.Warnf("periodic header refresh: %v", err)
			}
		case <-done:
			return
		}
	}
}

// Dispatch applies one peer event to controller state. Exported so a
// custom dispatcher loop (or a test) can drive it directly.
func (c *Controller) Dispatch(ev peer.Event) {
	if ev.Err != nil {
		c.handleFailure(ev.Addr, ev.Err)
		return
	}
	switch ev.Envelope.Command {
	case "headers":
		c.handleHeaders(ev.Envelope)
	case "block":
		c.handleBlock(ev.Envelope)
	case "inv":
		c.handleInv(ev.Addr, ev.Envelope)
	case "tx":
		c.handleTx(ev.Envelope)
	case "ping":
		c.handlePing(ev.Addr, ev.Envelope)
	}
}

func (c *Controller) handleFailure(addr string, err error) {
	c.log.Warnf("peer %s failed: %v", addr, err)
	c.pool.OnFailure(addr)
}

func (c *Controller) handlePing(addr string, env network.NetworkEnvelope) {
	pong := &network.PongMessage{Nonce: env.Payload}
	if err := c.pool.SendToSpecific(addr, pong); err != nil {
		c.log.Warnf("pong to %s: %v", addr, err)
	}
}

func (c *Controller) handleInv(addr string, env network.NetworkEnvelope) {
	inv, err := network.ParseInvMessage(bytes.NewReader(env.Payload))
	if err != nil {
		c.log.Warnf("parse inv from %s: %v", addr, err)
		return
	}
	var txItems []network.DataItem
	for _, item := range inv.Items {
		if item.Type == network.DATA_TYPE_TX {
			txItems = append(txItems, item)
		}
	}
	if len(txItems) == 0 {
		return
	}
	getData := network.GetDataMessage{Data: txItems}
	if err := c.pool.SendToSpecific(addr, &getData); err != nil {
		c.log.Warnf("getdata (tx) to %s: %v", addr, err)
	}
}

func (c *Controller) handleTx(env network.NetworkEnvelope) {
	tx, err := transactions.ParseTransaction(bytes.NewReader(env.Payload))
	if err != nil {
		c.log.Warnf("parse tx: %v", err)
		return
	}
	raw, err := tx.Hash()
	if err != nil {
		c.log.Warnf("hash tx: %v", err)
		return
	}
	txid, err := hashid.FromBytes(raw)
	if err != nil {
		c.log.Warnf("tx id: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mempool.Add(&tx); err != nil {
		c.log.Warnf("add tx to mempool: %v", err)
	}
	if c.txInvolvesWallet(&tx) {
		c.utxoSet.ApplyTransaction(txid, &tx, c.testnet)
		c.wallet.RecordHistory(txid, "pending")
		c.log.Infof("pending transaction %s involves this wallet", txid)
	}
}

func (c *Controller) handleBlock(env network.NetworkEnvelope) {
	b, err := block.Parse(bytes.NewReader(env.Payload))
	if err != nil {
		c.log.Warnf("parse block: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateBlock(b); err != nil {
		c.log.Debugf("dropping block: %v", err)
		return
	}
	if err := c.blockStore.Append(b); err != nil {
		c.log.Warnf("append block to backup: %v", err)
	}
	if _, ok := c.validBlocks[b.Header.PrevBlock]; ok {
		c.addToValidBlocks(b)
	} else {
		c.putBlockOnHold(b)
	}
}

// validateBlock rejects duplicates and checks proof of work and the
// merkle root. Caller must hold mu.
func (c *Controller) validateBlock(b *block.Block) error {
	h := b.Header.Hash()
	if _, ok := c.validBlocks[h]; ok {
		return ErrAlreadyExists
	}
	if _, ok := c.blocksOnHold[h]; ok {
		return ErrAlreadyExists
	}
	if !b.Header.CheckProofOfWork() {
		return fmt.Errorf("%w: proof of work", ErrInvalidBlock)
	}
	if !b.ValidateMerkleRoot() {
		return fmt.Errorf("%w: merkle root", ErrInvalidBlock)
	}
	return nil
}

// addToValidBlocks links block into the active chain, expands the UTXO
// set from it, and recursively links any children that were waiting on
// it. Caller must hold mu.
func (c *Controller) addToValidBlocks(b *block.Block) {
	h := b.Header.Hash()
	c.validBlocks[h] = b
	c.expandUTXO(b)

	daysOld := time.Since(b.Header.Time()).Hours() / 24
	if daysOld > 0 {
		c.notifyStatus(fmt.Sprintf("Reading blocks, %.0f days behind", daysOld))
	} else {
		c.notifyStatus("Up to date")
	}

	children, ok := c.pendingBlocks[h]
	if !ok {
		return
	}
	delete(c.pendingBlocks, h)
	for _, childHash := range children {
		if child, ok := c.blocksOnHold[childHash]; ok {
			delete(c.blocksOnHold, childHash)
			c.addToValidBlocks(child)
		}
	}
}

// putBlockOnHold files block away until its parent arrives. Caller must
// hold mu.
func (c *Controller) putBlockOnHold(b *block.Block) {
	h := b.Header.Hash()
	parent := b.Header.PrevBlock
	c.pendingBlocks[parent] = append(c.pendingBlocks[parent], h)
	c.blocksOnHold[h] = b
}

// expandUTXO applies every transaction in block to the UTXO set and
// records wallet history for any transaction touching this wallet's
// address. Caller must hold mu.
func (c *Controller) expandUTXO(b *block.Block) {
	for _, tx := range b.Txs {
		raw, err := tx.Hash()
		if err != nil {
			c.log.Warnf("hash tx in block: %v", err)
			continue
		}
		txid, err := hashid.FromBytes(raw)
		if err != nil {
			continue
		}
		c.utxoSet.ApplyTransaction(txid, tx, c.testnet)
		if c.txInvolvesWallet(tx) {
			c.wallet.RecordHistory(txid, "confirmed")
		}
	}
}

// txInvolvesWallet reports whether any input or output of tx references
// this controller's wallet address.
func (c *Controller) txInvolvesWallet(tx *transactions.Transaction) bool {
	addr := c.wallet.Address()
	for _, in := range tx.Inputs {
		if a, err := in.Address(c.testnet); err == nil && a == addr {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if a, err := out.Address(c.testnet); err == nil && a == addr {
			return true
		}
	}
	return false
}

// handleHeaders implements the on-headers-reception flow.
func (c *Controller) handleHeaders(env network.NetworkEnvelope) {
	hm, err := network.ParseHeadersMessage(bytes.NewReader(env.Payload))
	if err != nil {
		c.log.Warnf("parse headers: %v", err)
		return
	}

	c.mu.Lock()

	previousCount := len(c.headers)

	var toRequest []header.Header
	for _, h := range hm.Blocks {
		if h.TimeStamp <= c.startTimestamp {
			continue
		}
		if _, ok := c.validBlocks[h.Hash()]; ok {
			continue
		}
		toRequest = append(toRequest, h)
	}
	c.requestBlocksFor(toRequest)

	var lastHeader hashid.ID
	for _, h := range hm.Blocks {
		id := h.Hash()
		if _, exists := c.headers[id]; !exists {
			c.headers[id] = h
			if err := c.headerStore.Append(h); err != nil {
				c.log.Warnf("append header to backup: %v", err)
			}
		}
		lastHeader = id
	}

	if len(c.headers) == previousCount {
		c.mu.Unlock()
		return
	}
	c.tallestHeader = lastHeader
	paginated := len(hm.Blocks) == MaxHeaders
	c.mu.Unlock()

	if paginated {
		if err := c.RequestHeaders(); err != nil {
			c.log.Warnf("paginate getheaders: %v", err)
		}
	}
}

// requestBlocksFor issues getdata for headers in batches of
// blocksPerGetData, spread across peers with send_to_any. Caller must
// hold mu (SendToAny locks the pool independently, never the controller).
func (c *Controller) requestBlocksFor(headers []header.Header) {
	for start := 0; start < len(headers); start += blocksPerGetData {
		end := start + blocksPerGetData
		if end > len(headers) {
			end = len(headers)
		}
		getData := network.GetDataMessage{}
		for _, h := range headers[start:end] {
			getData.AddData(network.DATA_TYPE_BLOCK, [32]byte(h.Hash()))
		}
		if err := c.pool.SendToAny(&getData); err != nil {
			c.log.Warnf("getdata (blocks): %v", err)
		}
	}
}

// RequestHeaders sends getheaders(tallest_header) to every connected
// peer.
func (c *Controller) RequestHeaders() error {
	c.mu.Lock()
	tallest := c.tallestHeader
	c.mu.Unlock()
	return c.sendGetHeaders(tallest)
}

func (c *Controller) sendGetHeaders(tallest hashid.ID) error {
	msg := network.NewGetHeadersMessage(70015, [][32]byte{[32]byte(tallest)}, nil)
	c.pool.SendToAll(&msg)
	return nil
}

// Balance returns this node's wallet's balance over the UTXO set, which
// also holds outputs of pending transactions the node has seen for the
// wallet.
func (c *Controller) Balance() uint64 {
	return c.wallet.Balance(c.utxoSet)
}

// GenerateTransaction builds, signs and broadcasts a transaction paying
// amount to recvAddr from the wallet's UTXOs.
func (c *Controller) GenerateTransaction(recvAddr string, amount uint64) error {
	c.mu.Lock()
	tx, err := c.wallet.GenerateTransaction(c.utxoSet, recvAddr, amount)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("controller: generate transaction: %w", err)
	}

	payload, err := tx.Serialize()
	if err != nil {
		return fmt.Errorf("controller: serialize transaction: %w", err)
	}
	msg := network.NewGenericMessage("tx", payload)
	c.pool.SendToAll(&msg)
	return nil
}

// HeaderCount reports how many headers this controller has accepted.
func (c *Controller) HeaderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.headers)
}

// ValidBlockCount reports how many blocks are fully linked into the
// active chain.
func (c *Controller) ValidBlockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.validBlocks)
}
