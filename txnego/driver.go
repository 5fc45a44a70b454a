// Package txnego implements the Negotiation Driver (component C5) and the
// single-threaded cooperative Reactor that schedules it (component C10).
// The driver's single entrypoint, Update, is edge-triggered: it is called
// after any relevant parameter change (local write, inbound peer message,
// chain tip advance, key-keeper completion), reads everything it needs from
// the Parameter Store, and returns without blocking — either Continue(with
// the trigger kind it's now waiting on) or Done(with a terminal status).
// This directly generalizes the teacher's fundingmanager pattern of
// edge-triggered processFundingMsg / timeout-goroutine re-entry.
package txnego

import (
	"fmt"

	"github.com/decred/negwallet/coinselect"
	"github.com/decred/negwallet/gateway"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/schnorr"
	"github.com/decred/negwallet/txbuilder"
	"github.com/decred/negwallet/txparam"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// State is the negotiation record's position in the state machine
// (spec.md 4.5).
type State int

const (
	Initial State = iota
	Invitation
	InvitationConfirmation
	Registration
	KernelConfirmation
	Completed
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Invitation:
		return "Invitation"
	case InvitationConfirmation:
		return "InvitationConfirmation"
	case Registration:
		return "Registration"
	case KernelConfirmation:
		return "KernelConfirmation"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// FailureReason is the error taxonomy persisted as InternalFailureReason
// (spec.md 7).
type FailureReason string

const (
	ReasonNoInputs                FailureReason = "NoInputs"
	ReasonCanceled                FailureReason = "Canceled"
	ReasonMaxHeightIsUnacceptable FailureReason = "MaxHeightIsUnacceptable"
	ReasonInvalidPeerSignature    FailureReason = "InvalidPeerSignature"
	ReasonNoPaymentProof          FailureReason = "NoPaymentProof"
	ReasonInvalidKernelProof      FailureReason = "InvalidKernelProof"
	ReasonFailedToSendParameters  FailureReason = "FailedToSendParameters"
	ReasonFailedToRegister        FailureReason = "FailedToRegister"
	ReasonInvalidTransaction      FailureReason = "InvalidTransaction"
	ReasonTransactionExpired      FailureReason = "TransactionExpired"
	ReasonNotEnoughDataForProof   FailureReason = "NotEnoughDataForProof"
	ReasonKeyKeeperError          FailureReason = "KeyKeeperError"
)

// NextTrigger names the class of event the driver is now suspended on.
type NextTrigger int

const (
	TriggerImmediate NextTrigger = iota
	TriggerKeyKeeperCompletion
	TriggerPeerParamWrite
	TriggerNextTip
)

func (t NextTrigger) String() string {
	switch t {
	case TriggerImmediate:
		return "Immediate"
	case TriggerKeyKeeperCompletion:
		return "KeyKeeperCompletion"
	case TriggerPeerParamWrite:
		return "PeerParamWrite"
	case TriggerNextTip:
		return "NextTip"
	default:
		return "Unknown"
	}
}

// Outcome is what Update returns: either still in flight (Continue) or
// terminal (Done). It is never an error return in the Go sense — a failed
// negotiation is a Done outcome with Status Failed, not a returned error.
// Update only returns a non-nil error for unexpected local faults (e.g. a
// Parameter Store I/O failure), which the Reactor logs; it does not re-run
// the record until the next dispatch.
type Outcome struct {
	Continue bool
	Trigger  NextTrigger
	Status   State
	Reason   FailureReason
}

// Driver bundles the collaborators a record's transitions need. It carries
// no per-record state itself (spec.md 5): everything is read fresh from the
// Store at the top of Update.
type Driver struct {
	Store   *txparam.Store
	Builder *txbuilder.Builder
	Coins   *CoinReleaser
	Gateway gateway.Gateway

	// Tip is read at the top of every Update call to evaluate expiry and
	// drive KernelConfirmation polling.
	Tip func() uint64
}

// CoinReleaser is the subset of the wallet coin store the driver needs
// directly (releasing reservations on failure, marking spent on
// completion), kept narrow so txnego doesn't need to import the wallet
// package's full surface.
type CoinReleaser struct {
	Release     func(ids []uint64) error
	Spend       func(ids []uint64) error
	Confirm     func(ids []uint64) error
	NewCoinID   func() (uint64, error)
	AddIncoming func(id, amount, assetID uint64) error
}

// Record is the fixed, never-renegotiated parameters of a transaction,
// read once at the top of Update from the Parameter Store's mandatory
// fields.
type Record struct {
	Amount    uint64
	Fee       uint64
	AssetID   uint64
	MinHeight uint64
	Lifetime  uint64
	IsSender  bool
	IsSelfTx  bool
}

func loadRecord(s *txparam.Store, txID txparam.TxID) (Record, error) {
	var r Record
	var err error
	if r.Amount, err = txparam.GetMandatory[uint64](s, txID, 0, txparam.Amount); err != nil {
		return r, err
	}
	if r.Fee, err = txparam.GetMandatory[uint64](s, txID, 0, txparam.Fee); err != nil {
		return r, err
	}
	r.AssetID, _, err = txparam.Get[uint64](s, txID, 0, txparam.AssetID)
	if err != nil {
		return r, err
	}
	if r.MinHeight, err = txparam.GetMandatory[uint64](s, txID, 0, txparam.MinHeight); err != nil {
		return r, err
	}
	r.Lifetime, _, err = txparam.Get[uint64](s, txID, 0, txparam.Lifetime)
	if err != nil {
		return r, err
	}
	if r.IsSender, err = txparam.GetMandatory[bool](s, txID, 0, txparam.IsSender); err != nil {
		return r, err
	}
	r.IsSelfTx, _, err = txparam.Get[bool](s, txID, 0, txparam.IsSelfTx)
	return r, err
}

func loadState(s *txparam.Store, txID txparam.TxID) (State, error) {
	st, ok, err := txparam.Get[State](s, txID, 0, txparam.State)
	if err != nil {
		return Initial, err
	}
	if !ok {
		return Initial, nil
	}
	return st, nil
}

func (d *Driver) setState(txID txparam.TxID, st State) error {
	return txparam.Set(d.Store, txID, 0, txparam.State, st)
}

// State reports the record's current position in the state machine, for
// callers (the daemon's RPC surface) that only need to observe progress
// without driving it.
func (d *Driver) State(txID txparam.TxID) (State, error) {
	return loadState(d.Store, txID)
}

func (d *Driver) fail(txID txparam.TxID, record Record, inputs []uint64, reason FailureReason) (Outcome, error) {
	log.Warnf("tx %s: failing with reason %s", txID, reason)
	if err := txparam.Set(d.Store, txID, 0, txparam.InternalFailureReason, reason); err != nil {
		return Outcome{}, err
	}
	if err := d.setState(txID, Failed); err != nil {
		return Outcome{}, err
	}
	if reason != ReasonFailedToSendParameters && len(inputs) > 0 && d.Coins != nil {
		if err := d.Coins.Release(inputs); err != nil {
			log.Errorf("tx %s: unable to release coins on failure: %v", txID, err)
		}
	}
	return Outcome{Continue: false, Status: Failed, Reason: reason}, nil
}

// newOwnCoinID allocates a fresh wallet coin id for a newly minted output
// (a receiver's full-amount coin or a sender's change) and registers it as
// Incoming, pending the kernel confirmation that moves it to Available.
func (d *Driver) newOwnCoinID(amount, assetID uint64) (uint64, error) {
	if d.Coins == nil || d.Coins.NewCoinID == nil || d.Coins.AddIncoming == nil {
		return 0, fmt.Errorf("driver has no coin allocator wired")
	}
	id, err := d.Coins.NewCoinID()
	if err != nil {
		return 0, err
	}
	if err := d.Coins.AddIncoming(id, amount, assetID); err != nil {
		return 0, err
	}
	return id, nil
}

// keeperErrToOutcome recognizes an in-progress key-keeper suspension versus
// a terminal key-keeper failure.
func keeperErrToOutcome(err error) (suspend bool) {
	kerr, ok := err.(*keykeeper.Error)
	return ok && kerr.Status == keykeeper.InProgress
}

// Update is the driver's single entrypoint, per spec.md 4.5. It must never
// be called re-entrantly for the same txID while a previous call is still
// logically in flight; the Reactor enforces that by tracking one in-flight
// call per txID (spec.md 5).
func (d *Driver) Update(txID txparam.TxID) (Outcome, error) {
	record, err := loadRecord(d.Store, txID)
	if err != nil {
		return Outcome{}, err
	}

	state, err := loadState(d.Store, txID)
	if err != nil {
		return Outcome{}, err
	}

	if state != Completed && state != Failed && state != Canceled {
		if expired, outcome, err := d.checkExpiry(txID, record, state); expired {
			return outcome, err
		}
	}

	switch state {
	case Initial:
		return d.stepInitial(txID, record)
	case Invitation:
		return d.stepInvitation(txID, record)
	case InvitationConfirmation:
		return d.stepInvitationConfirmation(txID, record)
	case Registration:
		return d.stepRegistration(txID, record)
	case KernelConfirmation:
		return d.stepKernelConfirmation(txID, record)
	case Completed, Failed, Canceled:
		return Outcome{Continue: false, Status: state}, nil
	default:
		return Outcome{}, fmt.Errorf("tx %s: unknown state %v", txID, state)
	}
}

// checkExpiry implements spec.md 4.5's expiry rule: past MaxHeight with no
// registration verdict yet fails TransactionExpired, except once the record
// has reached KernelConfirmation (which never expires by height alone).
func (d *Driver) checkExpiry(txID txparam.TxID, record Record, state State) (bool, Outcome, error) {
	if state == KernelConfirmation {
		return false, Outcome{}, nil
	}
	if _, seen, err := txparam.Get[gateway.RegisterVerdict](d.Store, txID, 0, txparam.TransactionRegistered); err != nil || seen {
		return false, Outcome{}, err
	}
	maxHeight, ok, err := txparam.Get[uint64](d.Store, txID, 0, txparam.MaxHeight)
	if err != nil || !ok {
		return false, Outcome{}, err
	}
	if d.Tip == nil {
		return false, Outcome{}, nil
	}
	if d.Tip() <= maxHeight {
		return false, Outcome{}, nil
	}

	inputs, _, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.Inputs)
	outcome, err := d.fail(txID, record, inputs, ReasonTransactionExpired)
	return true, outcome, err
}

// stepInitial covers Initial (sender), Initial (receiver, self-tx) and
// Initial (receiver, peer-initiated), per spec.md 4.5.
func (d *Driver) stepInitial(txID txparam.TxID, record Record) (Outcome, error) {
	if err := txparam.Set(d.Store, txID, 0, txparam.Status, "InProgress"); err != nil {
		return Outcome{}, err
	}

	if record.IsSender {
		return d.stepInitialSender(txID, record)
	}
	return d.stepInitialReceiver(txID, record)
}

func (d *Driver) stepInitialSender(txID txparam.TxID, record Record) (Outcome, error) {
	inputs, err := d.Builder.SelectInputs(txID, 0, record.AssetID, record.Amount+record.Fee, 1)
	if err != nil {
		if _, ok := err.(*coinselect.ErrNoInputs); ok {
			return d.fail(txID, record, nil, ReasonNoInputs)
		}
		return Outcome{}, err
	}
	slot, err := d.Builder.GenerateNonce(txID, 0)
	if err != nil {
		return Outcome{}, err
	}

	res, err := d.Builder.SignSenderInitial(txID, 0, keykeeper.SignSenderRequest{Kernel: keykeeper.KernelParams{
		Fee: record.Fee, AssetID: record.AssetID,
	}, NonceSlot: slot})
	if err != nil {
		if keeperErrToOutcome(err) {
			return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Initial}, nil
		}
		return d.fail(txID, record, inputs, ReasonKeyKeeperError)
	}

	if err := txparam.Set(d.Store, txID, 0, txparam.PublicExcess, res.ExcessPub); err != nil {
		return Outcome{}, err
	}
	if err := d.setState(txID, Invitation); err != nil {
		return Outcome{}, err
	}

	ok, err := d.Gateway.SendTxParameters(nil, txID, nil)
	if err != nil || !ok {
		return d.fail(txID, record, inputs, ReasonFailedToSendParameters)
	}

	return Outcome{Continue: true, Trigger: TriggerNextTip, Status: Invitation}, nil
}

func (d *Driver) stepInitialReceiver(txID txparam.TxID, record Record) (Outcome, error) {
	if record.Amount == 0 || record.Fee == 0 {
		return d.fail(txID, record, nil, ReasonNotEnoughDataForProof)
	}

	ownIDs, haveOwnIDs, err := txparam.Get[[]uint64](d.Store, txID, 0, txparam.OwnOutputCoinIDs)
	if err != nil {
		return Outcome{}, err
	}
	if !haveOwnIDs {
		coinID, err := d.newOwnCoinID(record.Amount, record.AssetID)
		if err != nil {
			return Outcome{}, err
		}
		ownIDs = []uint64{coinID}
		if err := txparam.Set(d.Store, txID, 0, txparam.OwnOutputCoinIDs, ownIDs); err != nil {
			return Outcome{}, err
		}
	}

	coins := []keykeeper.Coin{{ID: ownIDs[0], Amount: record.Amount, AssetID: record.AssetID}}
	if _, err := d.Builder.CreateOutputs(txID, 0, record.MinHeight, coins); err != nil {
		if keeperErrToOutcome(err) {
			return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Initial}, nil
		}
		return d.fail(txID, record, nil, ReasonKeyKeeperError)
	}

	peerExcess, err := txparam.GetMandatory[schnorr.Point](d.Store, txID, 0, txparam.PeerPublicExcess)
	if err != nil {
		return Outcome{}, err
	}
	peerNonce, err := txparam.GetMandatory[schnorr.Point](d.Store, txID, 0, txparam.PeerPublicNonce)
	if err != nil {
		return Outcome{}, err
	}

	// The receiver has no separate max-height proposal from the sender to
	// min() against yet (it arrives, if at all, over the same wire round
	// this reply is part of), so it proposes against itself: MinHeight and
	// Lifetime are the same shared fields the sender reads for its own
	// proposal, so both sides land on the identical max height. Recording
	// it here is also what surfaces it to the peer as PeerMaxHeight, the
	// same convention PublicExcess/PublicNonce already rely on.
	tip := uint64(0)
	if d.Tip != nil {
		tip = d.Tip()
	}
	maxHeight, err := d.Builder.UpdateMaxHeight(txID, 0,
		record.MinHeight+record.Lifetime, record.MinHeight+record.Lifetime, record.MinHeight, record.Lifetime, tip)
	if err != nil {
		return d.fail(txID, record, nil, ReasonMaxHeightIsUnacceptable)
	}

	slot, err := d.Builder.GenerateNonce(txID, 0)
	if err != nil {
		return Outcome{}, err
	}

	kernelParams := keykeeper.KernelParams{Fee: record.Fee, AssetID: record.AssetID}
	initial, err := d.Builder.SignReceiverInitial(txID, 0, keykeeper.SignReceiverRequest{
		Kernel:    kernelParams,
		NonceSlot: slot,
	})
	if err != nil {
		if keeperErrToOutcome(err) {
			return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Initial}, nil
		}
		return d.fail(txID, record, nil, ReasonKeyKeeperError)
	}

	kernel, err := d.Builder.CreateKernel(txID, 0, record.Fee, record.MinHeight, maxHeight, record.AssetID,
		initial.ExcessPub, peerExcess, initial.NoncePub, peerNonce)
	if err != nil {
		return Outcome{}, err
	}

	_, err = d.Builder.SignReceiverFinal(txID, 0, keykeeper.SignReceiverRequest{
		Kernel:          kernelParams,
		NonceSlot:       slot,
		KernelID:        kernel.ID(),
		AggregateExcess: peerExcess,
		AggregateNonce:  peerNonce,
		Amount:          record.Amount,
	})
	if err != nil {
		if keeperErrToOutcome(err) {
			return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Initial}, nil
		}
		return d.fail(txID, record, nil, ReasonKeyKeeperError)
	}

	if err := d.setState(txID, InvitationConfirmation); err != nil {
		return Outcome{}, err
	}

	ok, err := d.Gateway.SendTxParameters(nil, txID, nil)
	if err != nil || !ok {
		return d.fail(txID, record, nil, ReasonFailedToSendParameters)
	}

	if proto, ok, _ := txparam.Get[uint32](d.Store, txID, 0, txparam.PeerProtoVersion); ok && proto >= 2 {
		if err := txparam.Set(d.Store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk); err != nil {
			return Outcome{}, err
		}
		if err := d.setState(txID, KernelConfirmation); err != nil {
			return Outcome{}, err
		}
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil
	}

	return Outcome{Continue: true, Trigger: TriggerPeerParamWrite, Status: InvitationConfirmation}, nil
}

// stepInvitation is the sender's reaction to the peer's reply, per
// spec.md 4.5.
func (d *Driver) stepInvitation(txID txparam.TxID, record Record) (Outcome, error) {
	peerExcess, ok, err := txparam.Get[schnorr.Point](d.Store, txID, 0, txparam.PeerPublicExcess)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{Continue: true, Trigger: TriggerPeerParamWrite, Status: Invitation}, nil
	}
	peerNonce, err := txparam.GetMandatory[schnorr.Point](d.Store, txID, 0, txparam.PeerPublicNonce)
	if err != nil {
		return Outcome{}, err
	}
	peerSig, err := txparam.GetMandatory[schnorr.Scalar](d.Store, txID, 0, txparam.PeerSignature)
	if err != nil {
		return Outcome{}, err
	}

	inputs, _, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.Inputs)

	peerMaxHeight, err := txparam.GetMandatory[uint64](d.Store, txID, 0, txparam.PeerMaxHeight)
	if err != nil {
		return Outcome{}, err
	}
	tip := uint64(0)
	if d.Tip != nil {
		tip = d.Tip()
	}
	maxHeight, err := d.Builder.UpdateMaxHeight(txID, 0,
		record.MinHeight+record.Lifetime, peerMaxHeight, record.MinHeight, record.Lifetime, tip)
	if err != nil {
		return d.fail(txID, record, inputs, ReasonMaxHeightIsUnacceptable)
	}

	myExcess, err := txparam.GetMandatory[schnorr.Point](d.Store, txID, 0, txparam.PublicExcess)
	if err != nil {
		return Outcome{}, err
	}
	myNonce, err := txparam.GetMandatory[schnorr.Point](d.Store, txID, 0, txparam.PublicNonce)
	if err != nil {
		return Outcome{}, err
	}

	kernel, err := d.Builder.CreateKernel(txID, 0, record.Fee, record.MinHeight, maxHeight, record.AssetID,
		myExcess, peerExcess, myNonce, peerNonce)
	if err != nil {
		return Outcome{}, err
	}

	if !txbuilder.IsPeerSignatureValid(peerSig, peerNonce, peerExcess, kernel.AggregateExcess, kernel.AggregateNonce, kernel.ID()) {
		return d.fail(txID, record, inputs, ReasonInvalidPeerSignature)
	}

	if !record.IsSelfTx {
		proof, ok, err := txparam.Get[schnorr.Signature](d.Store, txID, 0, txparam.PaymentConfirmation)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return d.fail(txID, record, inputs, ReasonNoPaymentProof)
		}
		digest := schnorr.PaymentConfirmationDigest(kernel.ID(), record.Amount, nil)
		if !schnorr.VerifyMessage(peerExcess, digest, proof) {
			return d.fail(txID, record, inputs, ReasonNoPaymentProof)
		}
	}

	// GenerateNonce returns the slot recorded in Initial; it does not
	// allocate a new one on re-entry.
	slot, err := d.Builder.GenerateNonce(txID, 0)
	if err != nil {
		return Outcome{}, err
	}

	// Kernel here must match the zero-height KernelParams SignSenderInitial
	// signed with above: excessScalar is derived from the full KernelParams
	// (including heights), so a round-trip through a different MinHeight/
	// MaxHeight would make this round's excess scalar disagree with the one
	// already folded into kernel.AggregateExcess as X_me.
	mySig, err := d.Builder.SignSenderFinal(txID, 0, keykeeper.SignSenderRequest{
		Kernel:          keykeeper.KernelParams{Fee: record.Fee, AssetID: record.AssetID},
		NonceSlot:       slot,
		AggregateExcess: kernel.AggregateExcess,
		AggregateNonce:  kernel.AggregateNonce,
		KernelID:        kernel.ID(),
	})
	if err != nil {
		if keeperErrToOutcome(err) {
			return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Invitation}, nil
		}
		return d.fail(txID, record, inputs, ReasonKeyKeeperError)
	}

	if _, err := d.Builder.FinalizeSignature(txID, 0, mySig, peerSig); err != nil {
		return Outcome{}, err
	}

	outputs, ok, err := txparam.Get[[]keykeeper.Output](d.Store, txID, 0, txparam.Outputs)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		change, err := d.Builder.AddChange(txID, 0)
		if err != nil {
			return Outcome{}, err
		}
		if change > 0 {
			changeID, err := d.newOwnCoinID(change, record.AssetID)
			if err != nil {
				return Outcome{}, err
			}
			if err := txparam.Set(d.Store, txID, 0, txparam.OwnOutputCoinIDs, []uint64{changeID}); err != nil {
				return Outcome{}, err
			}
			outputs, err = d.Builder.CreateOutputs(txID, 0, record.MinHeight,
				[]keykeeper.Coin{{ID: changeID, Amount: change, AssetID: record.AssetID}})
			if err != nil {
				if keeperErrToOutcome(err) {
					return Outcome{Continue: true, Trigger: TriggerKeyKeeperCompletion, Status: Invitation}, nil
				}
				return d.fail(txID, record, inputs, ReasonKeyKeeperError)
			}
		}
	}
	offset, err := txparam.GetMandatory[schnorr.Scalar](d.Store, txID, 0, txparam.Offset)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := d.Builder.CreateTransaction(txID, 0, inputs, outputs, kernel, offset); err != nil {
		return Outcome{}, err
	}

	// Offline-validate the finalized aggregate signature with the same
	// predicate the node runs, before ever submitting: s*G == R + c*X for
	// the combined (s, R, X), c = Challenge(X, R, kernelId).
	finalSig, err := txparam.GetMandatory[schnorr.Scalar](d.Store, txID, 0, txparam.Signature)
	if err != nil {
		return Outcome{}, err
	}
	if !txbuilder.IsPeerSignatureValid(finalSig, kernel.AggregateNonce, kernel.AggregateExcess,
		kernel.AggregateExcess, kernel.AggregateNonce, kernel.ID()) {
		return d.fail(txID, record, inputs, ReasonInvalidTransaction)
	}

	if err := d.setState(txID, Registration); err != nil {
		return Outcome{}, err
	}

	if err := d.Gateway.RegisterTx(txID, nil); err != nil {
		return d.fail(txID, record, inputs, ReasonFailedToRegister)
	}

	return Outcome{Continue: true, Trigger: TriggerPeerParamWrite, Status: Registration}, nil
}

func (d *Driver) stepInvitationConfirmation(txID txparam.TxID, record Record) (Outcome, error) {
	verdict, ok, err := txparam.Get[gateway.RegisterVerdict](d.Store, txID, 0, txparam.TransactionRegistered)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{Continue: true, Trigger: TriggerPeerParamWrite, Status: InvitationConfirmation}, nil
	}
	if verdict != gateway.VerdictOk {
		return d.fail(txID, record, nil, ReasonFailedToRegister)
	}
	if err := d.setState(txID, KernelConfirmation); err != nil {
		return Outcome{}, err
	}
	return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil
}

// stepRegistration implements spec.md 4.5's verdict handling: Ok advances,
// transient InvalidContext (with no prior unconfirmed sighting) retries on
// the next tip, anything else is terminal.
func (d *Driver) stepRegistration(txID txparam.TxID, record Record) (Outcome, error) {
	verdict, ok, err := txparam.Get[gateway.RegisterVerdict](d.Store, txID, 0, txparam.TransactionRegistered)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{Continue: true, Trigger: TriggerPeerParamWrite, Status: Registration}, nil
	}

	inputs, _, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.Inputs)

	switch verdict {
	case gateway.VerdictOk:
		if err := d.setState(txID, KernelConfirmation); err != nil {
			return Outcome{}, err
		}
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil

	case gateway.VerdictInvalidContext:
		if _, seen, _ := txparam.Get[uint64](d.Store, txID, 0, txparam.KernelUnconfirmedHeight); seen {
			return d.fail(txID, record, inputs, ReasonFailedToRegister)
		}
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: Registration}, nil

	default:
		return d.fail(txID, record, inputs, ReasonFailedToRegister)
	}
}

// stepKernelConfirmation polls for inclusion on each tip; once a proof
// height is observed, the transaction completes.
func (d *Driver) stepKernelConfirmation(txID txparam.TxID, record Record) (Outcome, error) {
	kernelID, ok, err := txparam.Get[[]byte](d.Store, txID, 0, txparam.KernelID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil
	}

	if err := d.Gateway.ConfirmKernel(txID, kernelID); err != nil {
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil
	}

	proofHeight, ok, err := txparam.Get[uint64](d.Store, txID, 0, txparam.KernelProofHeight)
	if err != nil {
		return Outcome{}, err
	}
	if !ok || proofHeight == 0 {
		return Outcome{Continue: true, Trigger: TriggerNextTip, Status: KernelConfirmation}, nil
	}

	inputs, _, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.Inputs)
	if record.IsSender && len(inputs) > 0 && d.Coins != nil {
		if err := d.Coins.Spend(inputs); err != nil {
			log.Errorf("tx %s: unable to mark coins spent: %v", txID, err)
		}
	}
	if d.Coins != nil {
		// Own newly minted coins (a receiver's full amount, or a sender's
		// change) are Incoming until the kernel they depend on confirms.
		outputIDs, _, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.OwnOutputCoinIDs)
		if len(outputIDs) > 0 {
			if err := d.Coins.Confirm(outputIDs); err != nil {
				log.Errorf("tx %s: unable to confirm received coins: %v", txID, err)
			}
		}
	}

	if err := txparam.Set(d.Store, txID, 0, txparam.Status, "Completed"); err != nil {
		return Outcome{}, err
	}
	if err := d.setState(txID, Completed); err != nil {
		return Outcome{}, err
	}
	return Outcome{Continue: false, Status: Completed}, nil
}

// Cancel implements spec.md 5's cancellation rule: refused once the record
// has reached Registration or beyond, since the sender can no longer
// unilaterally undo a broadcast transaction.
func (d *Driver) Cancel(txID txparam.TxID) error {
	state, err := loadState(d.Store, txID)
	if err != nil {
		return err
	}
	if state == Registration || state == KernelConfirmation || state == Completed {
		return fmt.Errorf("tx %s: cannot cancel once submitted (state %s)", txID, state)
	}

	if err := txparam.Set(d.Store, txID, 0, txparam.Status, "Canceled"); err != nil {
		return err
	}
	if err := d.setState(txID, Canceled); err != nil {
		return err
	}

	if inputs, ok, _ := txparam.Get[[]uint64](d.Store, txID, 0, txparam.Inputs); ok && d.Coins != nil {
		return d.Coins.Release(inputs)
	}
	return nil
}
