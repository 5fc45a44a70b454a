// Package keykeeper implements the Key Keeper (component C2): an oracle for
// scalar/point/signature operations that never exposes private material to
// its callers. A concrete LocalKeeper derives everything deterministically
// from a master seed; Worker wraps any Keeper to give it the asynchronous,
// threaded shape spec.md 4.2/5 describes for a keeper living on another
// thread or device.
package keykeeper

import (
	"github.com/decred/negwallet/schnorr"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Status is the outcome of a key-keeper operation.
type Status int

const (
	// Ok indicates successful completion.
	Ok Status = iota
	// InProgress indicates the operation has not yet completed; this is
	// a suspension signal, never an error (spec.md 7).
	InProgress
	// UserAbort indicates the operator explicitly declined the
	// operation (e.g. on a hardware device); maps to Canceled.
	UserAbort
	// Unspecified indicates an otherwise-uncategorized failure.
	Unspecified
	// DeviceLost indicates the keeper's backing device is unreachable.
	DeviceLost
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case InProgress:
		return "InProgress"
	case UserAbort:
		return "UserAbort"
	case DeviceLost:
		return "DeviceLost"
	default:
		return "Unspecified"
	}
}

// Error wraps a non-Ok, non-InProgress status as an error value.
type Error struct {
	Status Status
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return "key keeper: " + e.Status.String()
	}
	return "key keeper: " + e.Status.String() + ": " + e.Reason
}

// NonceSlot identifies a persisted per-device entropy reservoir. Once
// allocated for a record it is never reused, even across restarts (P3).
type NonceSlot uint32

// Coin is the minimal coin shape the keeper needs to derive keys/outputs:
// just enough to identify which owned key path backs a commitment.
type Coin struct {
	ID      uint64
	Amount  uint64
	AssetID uint64
}

// Output is a generated commitment plus its range proof, as produced by
// GenerateOutputs. The range proof is treated as an opaque blob: its
// construction/verification is one of the assumed primitives (spec.md 6.3).
type Output struct {
	Commitment schnorr.Point
	RangeProof []byte
}

// KernelParams fixes the non-confidential part of the kernel that a
// signature binds to.
type KernelParams struct {
	Fee       uint64
	MinHeight uint64
	MaxHeight uint64
	AssetID   uint64
}

// SignSenderRequest drives SignSender. On the initial (pre-commit) round
// only a nonce slot and the input/output set are needed; on the final round
// the peer's aggregated contributions and the kernel id are required too.
type SignSenderRequest struct {
	Inputs, Outputs []Coin
	NonceSlot       NonceSlot
	Kernel          KernelParams
	Initial         bool

	// Populated only when Initial == false.
	AggregateExcess schnorr.Point
	AggregateNonce  schnorr.Point
	KernelID        []byte
}

// SignSenderResult carries back whatever SignSenderRequest.Initial allows
// the keeper to produce.
type SignSenderResult struct {
	ExcessPub schnorr.Point // X_me
	NoncePub  schnorr.Point // R_me
	Offset    schnorr.Scalar

	// PartialSig is only populated when the request was non-initial.
	PartialSig schnorr.Scalar
}

// SignReceiverRequest drives SignReceiver. Like SignSenderRequest, it has
// an Initial round (excess/nonce only, KernelID not yet fixed) and a final
// round (Initial == false) that binds the partial signature and payment
// proof to KernelID.
type SignReceiverRequest struct {
	Inputs, Outputs []Coin
	NonceSlot       NonceSlot
	Kernel          KernelParams
	Initial         bool

	// Populated only when Initial == false.
	AggregateExcess schnorr.Point
	AggregateNonce  schnorr.Point
	KernelID        []byte

	// Amount/SenderPeerID feed the payment-proof digest; the proof itself
	// is signed with the same excess key whose public point (ExcessPub) the
	// sender already has as PeerPublicExcess, so no separate identity key
	// needs to be exchanged to verify it.
	Amount       uint64
	SenderPeerID []byte
}

// SignReceiverResult is the receiver's full contribution: its excess/nonce,
// its partial signature, and the payment-proof signature binding its
// acceptance of (amount, kernelID, sender).
type SignReceiverResult struct {
	ExcessPub    schnorr.Point
	NoncePub     schnorr.Point
	PartialSig   schnorr.Scalar
	PaymentProof schnorr.Signature
}

// SignAssetKernelRequest/Result are the asset-control-kernel analogues of
// SignSender, included per spec.md 4.2 ("signAssetKernel(...) — analogous,
// for asset control kernels"). Asset issuance/registration is itself out of
// scope (spec.md 1), so this operation exists for interface completeness
// but is not driven by the Simple/Split negotiation in this repository.
type SignAssetKernelRequest struct {
	AssetID  uint64
	Kernel   KernelParams
	KernelID []byte
}

type SignAssetKernelResult struct {
	ExcessPub  schnorr.Point
	NoncePub   schnorr.Point
	PartialSig schnorr.Scalar
}

// Keeper is the synchronous capability surface. Every method either
// completes (Status Ok and a usable result) or fails terminally (non-Ok
// Status via *Error); InProgress is never returned by a synchronous Keeper
// directly, it only ever shows up across the asynchronous Worker boundary.
type Keeper interface {
	DeriveSbbsKey(ownID uint64) (schnorr.Scalar, error)
	GeneratePublicKeys(coinIDs []uint64, createCoinKey bool) ([]schnorr.Point, error)
	GenerateOutputs(schemeHeight uint64, coins []Coin) ([]Output, error)
	SignSender(req SignSenderRequest) (SignSenderResult, error)
	SignReceiver(req SignReceiverRequest) (SignReceiverResult, error)
	SignAssetKernel(req SignAssetKernelRequest) (SignAssetKernelResult, error)
	AllocateNonceSlot() (NonceSlot, error)
	GenerateNonce(slot NonceSlot) (schnorr.Point, error)
}
