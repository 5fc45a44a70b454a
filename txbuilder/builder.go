// Package txbuilder implements the Transaction Builder (component C4): the
// idempotent, re-entrant operations that turn a selected coin set into a
// signed, submittable transaction. Every operation re-checks the Parameter
// Store before computing anything, so calling it twice for the same record
// is always safe — the driver (txnego) may re-invoke any of these after a
// suspend/resume cycle without double-spending coins or re-deriving a fresh
// nonce.
package txbuilder

import (
	"fmt"

	"github.com/decred/negwallet/coinselect"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/schnorr"
	"github.com/decred/negwallet/txparam"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Kernel is the non-confidential part of a transaction's kernel: what gets
// hashed into the kernel id and ultimately broadcast.
type Kernel struct {
	Fee             uint64
	MinHeight       uint64
	MaxHeight       uint64
	AssetID         uint64
	AggregateExcess schnorr.Point
	AggregateNonce  schnorr.Point
	Signature       schnorr.Scalar
}

// ID computes H(X, R, fee, minH, maxH, assetId), per spec.md 4.4.6.
func (k Kernel) ID() []byte {
	var buf [32]byte
	feeB := encodeUint64(k.Fee)
	minB := encodeUint64(k.MinHeight)
	maxB := encodeUint64(k.MaxHeight)
	assetB := encodeUint64(k.AssetID)
	s := schnorr.HashToScalar(
		k.AggregateExcess.SerializeCompressed(),
		k.AggregateNonce.SerializeCompressed(),
		feeB, minB, maxB, assetB,
	)
	b := s.Bytes()
	copy(buf[:], b[:])
	return buf[:]
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

// Transaction is the final on-wire shape emitted by createTransaction.
type Transaction struct {
	Inputs  []uint64
	Outputs []keykeeper.Output
	Kernel  Kernel
	Offset  schnorr.Scalar
}

// Builder holds the collaborators every operation needs; it carries no
// per-record state of its own (spec.md 5: "it never holds cross-call
// in-memory state except the shared builder instance" — the state lives in
// the Parameter Store, keyed by txId).
type Builder struct {
	Store    *txparam.Store
	Keeper   keykeeper.Keeper
	Coins    coinselect.Source
	Estimate func() coinselect.SizeEstimator
}

// ErrMaxHeightUnacceptable is returned by UpdateMaxHeight when the agreed
// max height would already be behind the chain tip.
type ErrMaxHeightUnacceptable struct {
	MaxHeight, Tip uint64
}

func (e *ErrMaxHeightUnacceptable) Error() string {
	return fmt.Sprintf("max height %d is not acceptable at tip %d", e.MaxHeight, e.Tip)
}

// SelectInputs invokes the coin selector once and records Inputs. Re-running
// it for a record that already has Inputs recorded is a no-op, which is
// what makes it safe to call again after a driver re-entry.
func (b *Builder) SelectInputs(txID txparam.TxID, subTxID uint32, assetID, amount, feeRatePerByte uint64) ([]uint64, error) {
	if ids, ok, err := txparam.Get[[]uint64](b.Store, txID, subTxID, txparam.Inputs); err != nil {
		return nil, err
	} else if ok {
		return ids, nil
	}

	selected, change, err := coinselect.Select(b.Coins, assetID, amount, feeRatePerByte, nil, b.Estimate)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(selected))
	for i, c := range selected {
		ids[i] = c.ID
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Inputs, ids); err != nil {
		return nil, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.ChangeOutputs, change); err != nil {
		return nil, err
	}

	log.Debugf("tx %s: selected %d inputs, change %d", txID, len(ids), change)
	return ids, nil
}

// AddChange reports the change amount a prior SelectInputs computed. It
// creates no coin: the caller mints the change coin for a non-zero amount
// and leaves the commitment/range-proof generation to CreateOutputs — Outputs
// is reserved for the []keykeeper.Output shape everywhere in this package,
// never a bare amount. A zero change amount means this record has no
// change output at all.
func (b *Builder) AddChange(txID txparam.TxID, subTxID uint32) (uint64, error) {
	return txparam.GetMandatory[uint64](b.Store, txID, subTxID, txparam.ChangeOutputs)
}

// GenerateNonce reserves a nonce slot via the keeper and records it. Once a
// slot is recorded for a record it is reused on every re-entry, never
// re-allocated (P3).
func (b *Builder) GenerateNonce(txID txparam.TxID, subTxID uint32) (keykeeper.NonceSlot, error) {
	if slot, ok, err := txparam.Get[keykeeper.NonceSlot](b.Store, txID, subTxID, txparam.NonceSlot); err != nil {
		return 0, err
	} else if ok {
		return slot, nil
	}

	slot, err := b.Keeper.AllocateNonceSlot()
	if err != nil {
		return 0, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.NonceSlot, slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// CreateOutputs materializes commitments/range-proofs for coins via the
// keeper and records the result. Callers driving an asynchronous keeper
// should treat a returned InProgress *keykeeper.Error as a suspend signal,
// not a failure.
func (b *Builder) CreateOutputs(txID txparam.TxID, subTxID uint32, schemeHeight uint64, coins []keykeeper.Coin) ([]keykeeper.Output, error) {
	if outs, ok, err := txparam.Get[[]keykeeper.Output](b.Store, txID, subTxID, txparam.Outputs); err != nil {
		return nil, err
	} else if ok {
		return outs, nil
	}

	outs, err := b.Keeper.GenerateOutputs(schemeHeight, coins)
	if err != nil {
		return nil, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Outputs, outs); err != nil {
		return nil, err
	}
	return outs, nil
}

// SignSenderInitial performs the pre-commit round of sender signing:
// deriving this party's excess/nonce public points without yet binding a
// signature to a kernel id (spec.md 4.2).
func (b *Builder) SignSenderInitial(txID txparam.TxID, subTxID uint32, req keykeeper.SignSenderRequest) (keykeeper.SignSenderResult, error) {
	if pub, ok, err := txparam.Get[schnorr.Point](b.Store, txID, subTxID, txparam.PublicExcess); err != nil {
		return keykeeper.SignSenderResult{}, err
	} else if ok {
		nonce, err := txparam.GetMandatory[schnorr.Point](b.Store, txID, subTxID, txparam.PublicNonce)
		if err != nil {
			return keykeeper.SignSenderResult{}, err
		}
		offset, err := txparam.GetMandatory[schnorr.Scalar](b.Store, txID, subTxID, txparam.Offset)
		if err != nil {
			return keykeeper.SignSenderResult{}, err
		}
		return keykeeper.SignSenderResult{ExcessPub: pub, NoncePub: nonce, Offset: offset}, nil
	}

	req.Initial = true
	res, err := b.Keeper.SignSender(req)
	if err != nil {
		return keykeeper.SignSenderResult{}, err
	}

	if err := txparam.Set(b.Store, txID, subTxID, txparam.PublicExcess, res.ExcessPub); err != nil {
		return keykeeper.SignSenderResult{}, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.PublicNonce, res.NoncePub); err != nil {
		return keykeeper.SignSenderResult{}, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Offset, res.Offset); err != nil {
		return keykeeper.SignSenderResult{}, err
	}
	return res, nil
}

// SignSenderFinal performs the post-aggregation round, producing the
// partial signature bound against the peer-completed kernel.
func (b *Builder) SignSenderFinal(txID txparam.TxID, subTxID uint32, req keykeeper.SignSenderRequest) (schnorr.Scalar, error) {
	if s, ok, err := txparam.Get[schnorr.Scalar](b.Store, txID, subTxID, txparam.PartialSignature); err != nil {
		return schnorr.Scalar{}, err
	} else if ok {
		return s, nil
	}

	req.Initial = false
	res, err := b.Keeper.SignSender(req)
	if err != nil {
		return schnorr.Scalar{}, err
	}

	if err := txparam.Set(b.Store, txID, subTxID, txparam.PartialSignature, res.PartialSig); err != nil {
		return schnorr.Scalar{}, err
	}
	return res.PartialSig, nil
}

// SignReceiverInitial performs the receiver's key-generation round, before
// the kernel's final max height (and so its id) is known. Mirrors
// SignSenderInitial.
func (b *Builder) SignReceiverInitial(txID txparam.TxID, subTxID uint32, req keykeeper.SignReceiverRequest) (keykeeper.SignReceiverResult, error) {
	if pub, ok, err := txparam.Get[schnorr.Point](b.Store, txID, subTxID, txparam.PublicExcess); err != nil {
		return keykeeper.SignReceiverResult{}, err
	} else if ok {
		nonce, err := txparam.GetMandatory[schnorr.Point](b.Store, txID, subTxID, txparam.PublicNonce)
		if err != nil {
			return keykeeper.SignReceiverResult{}, err
		}
		return keykeeper.SignReceiverResult{ExcessPub: pub, NoncePub: nonce}, nil
	}

	req.Initial = true
	res, err := b.Keeper.SignReceiver(req)
	if err != nil {
		return keykeeper.SignReceiverResult{}, err
	}

	if err := txparam.Set(b.Store, txID, subTxID, txparam.PublicExcess, res.ExcessPub); err != nil {
		return keykeeper.SignReceiverResult{}, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.PublicNonce, res.NoncePub); err != nil {
		return keykeeper.SignReceiverResult{}, err
	}
	return res, nil
}

// SignReceiverFinal performs the receiver's signing round once the kernel
// id is fixed, producing the partial signature and payment proof bound to
// it. Mirrors SignSenderFinal.
func (b *Builder) SignReceiverFinal(txID txparam.TxID, subTxID uint32, req keykeeper.SignReceiverRequest) (keykeeper.SignReceiverResult, error) {
	if sig, ok, err := txparam.Get[schnorr.Scalar](b.Store, txID, subTxID, txparam.PartialSignature); err != nil {
		return keykeeper.SignReceiverResult{}, err
	} else if ok {
		excess, err := txparam.GetMandatory[schnorr.Point](b.Store, txID, subTxID, txparam.PublicExcess)
		if err != nil {
			return keykeeper.SignReceiverResult{}, err
		}
		nonce, err := txparam.GetMandatory[schnorr.Point](b.Store, txID, subTxID, txparam.PublicNonce)
		if err != nil {
			return keykeeper.SignReceiverResult{}, err
		}
		proof, err := txparam.GetMandatory[schnorr.Signature](b.Store, txID, subTxID, txparam.PaymentConfirmation)
		if err != nil {
			return keykeeper.SignReceiverResult{}, err
		}
		return keykeeper.SignReceiverResult{
			ExcessPub: excess, NoncePub: nonce, PartialSig: sig, PaymentProof: proof,
		}, nil
	}

	req.Initial = false
	res, err := b.Keeper.SignReceiver(req)
	if err != nil {
		return keykeeper.SignReceiverResult{}, err
	}

	if err := txparam.Set(b.Store, txID, subTxID, txparam.PartialSignature, res.PartialSig); err != nil {
		return keykeeper.SignReceiverResult{}, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.PaymentConfirmation, res.PaymentProof); err != nil {
		return keykeeper.SignReceiverResult{}, err
	}
	return res, nil
}

// CreateKernel fixes the kernel's non-confidential fields and the kernel id,
// aggregating the local and peer excess/nonce points.
func (b *Builder) CreateKernel(txID txparam.TxID, subTxID uint32, fee, minHeight, maxHeight, assetID uint64,
	myExcess, peerExcess, myNonce, peerNonce schnorr.Point) (Kernel, error) {

	if id, ok, err := txparam.Get[[]byte](b.Store, txID, subTxID, txparam.KernelID); err != nil {
		return Kernel{}, err
	} else if ok {
		k := Kernel{
			Fee: fee, MinHeight: minHeight, MaxHeight: maxHeight, AssetID: assetID,
			AggregateExcess: schnorr.AddPoints(myExcess, peerExcess),
			AggregateNonce:  schnorr.AddPoints(myNonce, peerNonce),
		}
		_ = id
		return k, nil
	}

	k := Kernel{
		Fee: fee, MinHeight: minHeight, MaxHeight: maxHeight, AssetID: assetID,
		AggregateExcess: schnorr.AddPoints(myExcess, peerExcess),
		AggregateNonce:  schnorr.AddPoints(myNonce, peerNonce),
	}
	id := k.ID()
	if err := txparam.Set(b.Store, txID, subTxID, txparam.KernelID, id); err != nil {
		return Kernel{}, err
	}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Kernel, k); err != nil {
		return Kernel{}, err
	}
	return k, nil
}

// UpdateMaxHeight sets max height to min(local proposal, peer proposal,
// minHeight+lifetime), failing ErrMaxHeightUnacceptable if that result has
// already passed the chain tip.
func (b *Builder) UpdateMaxHeight(txID txparam.TxID, subTxID uint32,
	localProposal, peerProposal, minHeight, lifetime, tip uint64) (uint64, error) {

	if h, ok, err := txparam.Get[uint64](b.Store, txID, subTxID, txparam.MaxHeight); err != nil {
		return 0, err
	} else if ok {
		return h, nil
	}

	max := localProposal
	if peerProposal < max {
		max = peerProposal
	}
	if cap := minHeight + lifetime; cap < max {
		max = cap
	}

	if max < tip {
		return 0, &ErrMaxHeightUnacceptable{MaxHeight: max, Tip: tip}
	}

	if err := txparam.Set(b.Store, txID, subTxID, txparam.MaxHeight, max); err != nil {
		return 0, err
	}
	return max, nil
}

// IsPeerSignatureValid verifies s_peer*G == R_peer + c*X_peer where
// c = H(X, R, kernelId), the aggregated X/R (spec.md 4.4.8).
func IsPeerSignatureValid(peerSig schnorr.Scalar, peerNonce, peerExcess, aggExcess, aggNonce schnorr.Point, kernelID []byte) bool {
	return schnorr.VerifyPartial(peerSig, peerNonce, peerExcess, aggExcess, aggNonce, kernelID)
}

// FinalizeSignature sets s = s_me + s_peer and persists it.
func (b *Builder) FinalizeSignature(txID txparam.TxID, subTxID uint32, mySig, peerSig schnorr.Scalar) (schnorr.Scalar, error) {
	if s, ok, err := txparam.Get[schnorr.Scalar](b.Store, txID, subTxID, txparam.Signature); err != nil {
		return schnorr.Scalar{}, err
	} else if ok {
		return s, nil
	}

	s := schnorr.AddScalars(mySig, peerSig)
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Signature, s); err != nil {
		return schnorr.Scalar{}, err
	}
	return s, nil
}

// CreateTransaction emits the full on-wire transaction.
func (b *Builder) CreateTransaction(txID txparam.TxID, subTxID uint32, inputs []uint64,
	outputs []keykeeper.Output, kernel Kernel, offset schnorr.Scalar) (Transaction, error) {

	if tx, ok, err := txparam.Get[Transaction](b.Store, txID, subTxID, txparam.Transaction); err != nil {
		return Transaction{}, err
	} else if ok {
		return tx, nil
	}

	tx := Transaction{Inputs: inputs, Outputs: outputs, Kernel: kernel, Offset: offset}
	if err := txparam.Set(b.Store, txID, subTxID, txparam.Transaction, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}
