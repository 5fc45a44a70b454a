// Package gateway implements the Gateway (component C6): the pure output
// port through which the negotiation driver talks to the outside world
// (peer transport, node RPC, chain tip feed). It is intentionally a thin
// interface — every reply arrives back as a parameter write into the
// Parameter Store (component C1), never as a return value the driver blocks
// on, matching spec.md 4.6/5's "pure output port; replies are delivered as
// parameter writes".
package gateway

import (
	"github.com/decred/negwallet/txparam"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// RegisterVerdict is the node's verdict on a submitted transaction.
type RegisterVerdict int

const (
	VerdictOk RegisterVerdict = iota
	VerdictInvalidInput
	VerdictInvalidContext
	VerdictLowFee
	VerdictTooLarge
)

func (v RegisterVerdict) String() string {
	switch v {
	case VerdictOk:
		return "Ok"
	case VerdictInvalidInput:
		return "InvalidInput"
	case VerdictInvalidContext:
		return "InvalidContext"
	case VerdictLowFee:
		return "LowFee"
	case VerdictTooLarge:
		return "TooLarge"
	default:
		return "Unknown"
	}
}

// Gateway is the four-method output port spec.md 4.6 names.
type Gateway interface {
	// SendTxParameters delivers params to peerID over the (assumed
	// confidential, integrity-protected, unordered) sbbs transport. The
	// bool return only reports local send-acceptance, not delivery or
	// peer processing — those surface later as parameter writes.
	SendTxParameters(peerID []byte, txID txparam.TxID, params map[txparam.TxParameterID][]byte) (bool, error)

	// RegisterTx submits transaction to the node. The verdict is not
	// returned synchronously to the caller beyond local submission
	// success; like SendTxParameters the actual verdict is written back
	// via a parameter write (TransactionRegistered) once observed.
	RegisterTx(txID txparam.TxID, transaction interface{}) error

	// ConfirmKernel asks the node for an inclusion proof of kernelID.
	// The proof height (or explicit not-found-at-height signal) is
	// written back as KernelProofHeight/KernelUnconfirmedHeight.
	ConfirmKernel(txID txparam.TxID, kernelID []byte) error

	// OnTip is called by the daemon's tip loop whenever the chain tip
	// advances.
	OnTip(height uint64)
}

// Peer identifies the counterparty of a message; it carries only the
// peer's ID.
type Peer struct {
	ID []byte
}
