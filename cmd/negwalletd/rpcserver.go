package main

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/decred/negwallet/rpc"
	"github.com/decred/negwallet/txnego"
	"github.com/decred/negwallet/txparam"
)

// rpcServer implements rpc.NegotiatorServer (component C7's RPC half),
// translating unary calls into Parameter Store writes plus a Reactor
// dispatch, and tracking which records are still non-terminal so the tip
// loop in main.go knows what to fan OnTip out to.
type rpcServer struct {
	store   *txparam.Store
	driver  *txnego.Driver
	reactor *txnego.Reactor

	mu     sync.Mutex
	active map[txparam.TxID]bool
}

func newRPCServer(store *txparam.Store, driver *txnego.Driver, reactor *txnego.Reactor) *rpcServer {
	return &rpcServer{
		store:   store,
		driver:  driver,
		reactor: reactor,
		active:  make(map[txparam.TxID]bool),
	}
}

func newTxID() (txparam.TxID, error) {
	var id txparam.TxID
	_, err := rand.Read(id[:])
	return id, err
}

// activeTxIDs returns the records the tip loop should still poll.
func (s *rpcServer) activeTxIDs() []txparam.TxID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]txparam.TxID, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

func (s *rpcServer) forget(txID txparam.TxID) {
	s.mu.Lock()
	delete(s.active, txID)
	s.mu.Unlock()
}

// SendTx seeds a new negotiation record from the request and dispatches it
// once; a reply is never waited for synchronously (spec.md 4.6 is a pure
// output port), so the client must poll GetStatus.
func (s *rpcServer) SendTx(ctx context.Context, req *rpc.SendTxRequest) (*rpc.SendTxResponse, error) {
	txID, err := newTxID()
	if err != nil {
		return nil, err
	}

	if err := txparam.Set(s.store, txID, 0, txparam.Amount, req.Amount); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.Fee, req.Fee); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.AssetID, req.AssetID); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.MinHeight, req.MinHeight); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.Lifetime, req.Lifetime); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.IsSender, true); err != nil {
		return nil, err
	}
	if err := txparam.Set(s.store, txID, 0, txparam.IsSelfTx, req.IsSelfTx); err != nil {
		return nil, err
	}
	if len(req.PeerID) > 0 {
		if err := txparam.Set(s.store, txID, 0, txparam.PeerID, req.PeerID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.active[txID] = true
	s.mu.Unlock()

	s.reactor.Dispatch(txID)

	return &rpc.SendTxResponse{TxID: txID}, nil
}

func (s *rpcServer) CancelTx(ctx context.Context, req *rpc.CancelTxRequest) (*rpc.CancelTxResponse, error) {
	if err := s.driver.Cancel(req.TxID); err != nil {
		return nil, err
	}
	s.reactor.Dispatch(req.TxID)
	return &rpc.CancelTxResponse{}, nil
}

func (s *rpcServer) GetStatus(ctx context.Context, req *rpc.GetStatusRequest) (*rpc.GetStatusResponse, error) {
	state, err := s.driver.State(req.TxID)
	if err != nil {
		return nil, err
	}

	resp := &rpc.GetStatusResponse{State: state.String()}

	if state == txnego.Failed {
		reason, _, err := txparam.Get[txnego.FailureReason](s.store, req.TxID, 0, txparam.InternalFailureReason)
		if err != nil {
			return nil, err
		}
		resp.FailureReason = string(reason)
	}

	switch state {
	case txnego.Completed, txnego.Failed, txnego.Canceled:
		s.forget(req.TxID)
	}

	return resp, nil
}
