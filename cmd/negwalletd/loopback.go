package main

import (
	"sync"

	"github.com/decred/negwallet/gateway"
	"github.com/decred/negwallet/txparam"
)

// loopbackGateway is a minimal stand-in for the node client, P2P transport,
// and broadcast bus the specification treats as external collaborators
// (only their contracts, gateway.Gateway, are in scope here). It accepts
// every submitted transaction immediately and reports a kernel proof at
// the next observed tip. It delivers nothing to a peer and writes no peer
// fields, so a sender record, a self-send included, stays in Invitation
// until the peer's public excess, nonce and signature are written into the
// Parameter Store by other means; from there it can pass registration and
// kernel confirmation without a real chain.
type loopbackGateway struct {
	store *txparam.Store

	mu      sync.Mutex
	tip     uint64
	pending map[txparam.TxID][]byte // txID -> kernelID awaiting a tip
}

func newLoopbackGateway(store *txparam.Store) *loopbackGateway {
	return &loopbackGateway{
		store:   store,
		pending: make(map[txparam.TxID][]byte),
	}
}

// SendTxParameters has no real peer to deliver to in this standalone
// daemon; it logs that the parameters were not delivered and reports
// success, so the driver never treats the send as a transport failure. The
// driver calls it for every sender and receiver record, self-tx records
// included.
func (g *loopbackGateway) SendTxParameters(peerID []byte, txID txparam.TxID, params map[txparam.TxParameterID][]byte) (bool, error) {
	log.Debugf("tx %s: loopback gateway has no peer transport, %d params not delivered", txID, len(params))
	return true, nil
}

// RegisterTx simulates an always-accepting node: the transaction is
// considered registered the instant it's submitted.
func (g *loopbackGateway) RegisterTx(txID txparam.TxID, transaction interface{}) error {
	return txparam.Set(g.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk)
}

// ConfirmKernel records kernelID as pending; the next OnTip call reports it
// confirmed at the observed tip, simulating one-block inclusion.
func (g *loopbackGateway) ConfirmKernel(txID txparam.TxID, kernelID []byte) error {
	g.mu.Lock()
	g.pending[txID] = kernelID
	g.mu.Unlock()
	return nil
}

// OnTip is called by the tip-polling loop in main.go, not by the Reactor
// directly (the Reactor only fans Dispatch out to active records; this
// gateway's OnTip is where pending kernels actually get marked confirmed).
func (g *loopbackGateway) OnTip(height uint64) {
	g.mu.Lock()
	g.tip = height
	due := g.pending
	g.pending = make(map[txparam.TxID][]byte)
	g.mu.Unlock()

	for txID := range due {
		if err := txparam.Set(g.store, txID, 0, txparam.KernelProofHeight, height); err != nil {
			log.Errorf("tx %s: unable to record kernel proof height: %v", txID, err)
		}
	}
}

// Tip returns the last height observed by OnTip.
func (g *loopbackGateway) Tip() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tip
}
