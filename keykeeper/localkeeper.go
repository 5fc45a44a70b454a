package keykeeper

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/negwallet/schnorr"
)

var slotBucketName = []byte("keeper-nonce-slots")

// LocalKeeper is a Keeper implementation that derives every scalar
// deterministically from a single master seed, the way the teacher's
// DcrWallet derives private keys from the base wallet's seed
// (lnwallet/dcrwallet/signer.go DerivePrivKey) rather than storing them
// individually. It never returns a private scalar to its caller: only
// public points, signatures, and opaque output blobs leave this type.
type LocalKeeper struct {
	masterSeed [32]byte

	db walletdb.DB

	mu        sync.Mutex
	nextSlot  uint32
	slotCache map[NonceSlot][32]byte
}

// NewLocalKeeper creates a keeper seeded from masterSeed, persisting nonce
// slot seeds into db (walletdb.DB, shared with the Parameter Store's
// backend per spec.md 6.4: "key-keeper nonce seeds... persisted").
func NewLocalKeeper(masterSeed [32]byte, db walletdb.DB) (*LocalKeeper, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(slotBucketName)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize nonce slot bucket: %w", err)
	}

	k := &LocalKeeper{
		masterSeed: masterSeed,
		db:         db,
		slotCache:  make(map[NonceSlot][32]byte),
	}

	if err := k.loadNextSlot(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *LocalKeeper) loadNextSlot() error {
	return walletdb.View(k.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(slotBucketName)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, _ []byte) error {
			idx := binary.BigEndian.Uint32(key)
			if idx+1 > k.nextSlot {
				k.nextSlot = idx + 1
			}
			return nil
		})
	})
}

// AllocateNonceSlot reserves a fresh slot and persists a freshly sampled
// 32-byte seed for it. Per P3, a slot is never handed out twice: the
// counter only ever increases, even across restarts (loadNextSlot scans
// the persisted high-water mark).
func (k *LocalKeeper) AllocateNonceSlot() (NonceSlot, error) {
	seed, err := schnorr.RandScalar()
	if err != nil {
		return 0, &Error{Status: Unspecified, Reason: err.Error()}
	}
	var seedBytes [32]byte
	seed.PutBytes(&seedBytes)

	k.mu.Lock()
	slot := NonceSlot(k.nextSlot)
	k.nextSlot++
	k.mu.Unlock()

	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(slot))

	err = walletdb.Update(k.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(slotBucketName)
		if bucket == nil {
			return fmt.Errorf("nonce slot bucket missing")
		}
		return bucket.Put(key, seedBytes[:])
	}, func() {})
	if err != nil {
		return 0, &Error{Status: Unspecified, Reason: err.Error()}
	}

	k.mu.Lock()
	k.slotCache[slot] = seedBytes
	k.mu.Unlock()

	return slot, nil
}

func (k *LocalKeeper) slotSeed(slot NonceSlot) ([32]byte, error) {
	k.mu.Lock()
	seed, ok := k.slotCache[slot]
	k.mu.Unlock()
	if ok {
		return seed, nil
	}

	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(slot))

	var seedBytes [32]byte
	err := walletdb.View(k.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(slotBucketName)
		if bucket == nil {
			return fmt.Errorf("nonce slot bucket missing")
		}
		v := bucket.Get(key)
		if v == nil {
			return fmt.Errorf("unknown nonce slot %d", slot)
		}
		copy(seedBytes[:], v)
		return nil
	})
	if err != nil {
		return seedBytes, err
	}

	k.mu.Lock()
	k.slotCache[slot] = seedBytes
	k.mu.Unlock()

	return seedBytes, nil
}

func (k *LocalKeeper) nonceScalar(slot NonceSlot) (schnorr.Scalar, error) {
	seed, err := k.slotSeed(slot)
	if err != nil {
		return schnorr.Scalar{}, &Error{Status: Unspecified, Reason: err.Error()}
	}
	return schnorr.HashToScalar(seed[:], []byte("nonce")), nil
}

// GenerateNonce returns the public nonce point for slot, deriving the
// private nonce scalar from the slot's persisted seed without exposing it.
func (k *LocalKeeper) GenerateNonce(slot NonceSlot) (schnorr.Point, error) {
	nonce, err := k.nonceScalar(slot)
	if err != nil {
		return schnorr.Point{}, err
	}
	return schnorr.ScalarBaseMult(nonce), nil
}

// blindingScalar derives the deterministic per-coin blinding factor used to
// build the excess. It is a function purely of the coin id and the master
// seed, so re-deriving it for the same coin set always yields the same
// value (invariant 2).
func (k *LocalKeeper) blindingScalar(coinID uint64) schnorr.Scalar {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], coinID)
	return schnorr.HashToScalar(k.masterSeed[:], []byte("blind"), buf[:])
}

func (k *LocalKeeper) offsetScalar(inputs, outputs []Coin, kernel KernelParams) schnorr.Scalar {
	ids := coinIDs(inputs, outputs)
	return schnorr.HashToScalar(k.masterSeed[:], []byte("offset"), idBytes(ids), kernelParamBytes(kernel))
}

func coinIDs(inputs, outputs []Coin) []uint64 {
	ids := make([]uint64, 0, len(inputs)+len(outputs))
	for _, c := range inputs {
		ids = append(ids, c.ID)
	}
	for _, c := range outputs {
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func idBytes(ids []uint64) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint64(buf[i*8:], id)
	}
	return buf
}

func kernelParamBytes(k KernelParams) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], k.Fee)
	binary.BigEndian.PutUint64(buf[8:16], k.MinHeight)
	binary.BigEndian.PutUint64(buf[16:24], k.MaxHeight)
	binary.BigEndian.PutUint64(buf[24:32], k.AssetID)
	return buf
}

// excessScalar is the net private excess contributed by this party: the sum
// of output blinding factors minus the sum of input blinding factors, minus
// the kernel offset pulled out for privacy. Computing it twice from the
// same (inputs, outputs, kernel) always yields the same value.
func (k *LocalKeeper) excessScalar(inputs, outputs []Coin, kernel KernelParams) schnorr.Scalar {
	var sum schnorr.Scalar
	for _, c := range outputs {
		b := k.blindingScalar(c.ID)
		sum = schnorr.AddScalars(sum, b)
	}
	for _, c := range inputs {
		b := k.blindingScalar(c.ID)
		b.Negate()
		sum = schnorr.AddScalars(sum, b)
	}

	offset := k.offsetScalar(inputs, outputs, kernel)
	offset.Negate()
	sum = schnorr.AddScalars(sum, offset)

	return sum
}

// DeriveSbbsKey derives the scalar used to sign/verify payment
// confirmations for ownID, the sbbs-transport identity key (spec.md 4.2).
func (k *LocalKeeper) DeriveSbbsKey(ownID uint64) (schnorr.Scalar, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ownID)
	return schnorr.HashToScalar(k.masterSeed[:], []byte("sbbs"), buf[:]), nil
}

// GeneratePublicKeys derives the public owner key for each coin id.
func (k *LocalKeeper) GeneratePublicKeys(coinIDs []uint64, createCoinKey bool) ([]schnorr.Point, error) {
	out := make([]schnorr.Point, len(coinIDs))
	for i, id := range coinIDs {
		b := k.blindingScalar(id)
		if createCoinKey {
			b = schnorr.HashToScalar(k.masterSeed[:], []byte("coin-key"), idBytes([]uint64{id}))
		}
		out[i] = schnorr.ScalarBaseMult(b)
	}
	return out, nil
}

// GenerateOutputs materializes commitments (and, conceptually, their range
// proofs) for a set of owned coins. Range proof construction is one of the
// assumed primitives (spec.md 6.3); here it is a deterministic stand-in
// blob so tests can assert on its shape without a real bulletproof backend.
func (k *LocalKeeper) GenerateOutputs(schemeHeight uint64, coins []Coin) ([]Output, error) {
	out := make([]Output, len(coins))
	for i, c := range coins {
		b := k.blindingScalar(c.ID)
		proofScalar := schnorr.HashToScalar(
			k.masterSeed[:], []byte("rangeproof"), idBytes([]uint64{c.ID}),
		)
		proofBytes := proofScalar.Bytes()
		out[i] = Output{
			Commitment: schnorr.ScalarBaseMult(b),
			RangeProof: proofBytes[:],
		}
	}
	return out, nil
}

// SignSender implements the two-round sender signing contract (spec.md
// 4.2): Initial returns only the public commitments, the final round adds
// the partial signature bound against the aggregated (X, R, kernelID).
func (k *LocalKeeper) SignSender(req SignSenderRequest) (SignSenderResult, error) {
	excess := k.excessScalar(req.Inputs, req.Outputs, req.Kernel)
	nonce, err := k.nonceScalar(req.NonceSlot)
	if err != nil {
		return SignSenderResult{}, err
	}

	res := SignSenderResult{
		ExcessPub: schnorr.ScalarBaseMult(excess),
		NoncePub:  schnorr.ScalarBaseMult(nonce),
		Offset:    k.offsetScalar(req.Inputs, req.Outputs, req.Kernel),
	}

	if req.Initial {
		return res, nil
	}

	res.PartialSig = schnorr.Sign(excess, nonce, req.AggregateExcess, req.AggregateNonce, req.KernelID)
	return res, nil
}

// SignReceiver mirrors the two-round sender contract: Initial derives the
// receiver's excess/nonce before the kernel height is settled, the final
// round signs and produces the payment proof against the fixed KernelID.
// The nonce slot must be allocated by the caller (keykeeper.AllocateNonceSlot
// via the builder's GenerateNonce) and reused across both rounds, the same
// way the sender's NonceSlot is threaded through SignSenderInitial/Final.
func (k *LocalKeeper) SignReceiver(req SignReceiverRequest) (SignReceiverResult, error) {
	excess := k.excessScalar(req.Inputs, req.Outputs, req.Kernel)
	nonce, err := k.nonceScalar(req.NonceSlot)
	if err != nil {
		return SignReceiverResult{}, err
	}

	res := SignReceiverResult{
		ExcessPub: schnorr.ScalarBaseMult(excess),
		NoncePub:  schnorr.ScalarBaseMult(nonce),
	}

	if req.Initial {
		return res, nil
	}

	aggExcess := schnorr.AddPoints(req.AggregateExcess, res.ExcessPub)
	aggNonce := schnorr.AddPoints(req.AggregateNonce, res.NoncePub)

	res.PartialSig = schnorr.Sign(excess, nonce, aggExcess, aggNonce, req.KernelID)

	// Signed with excess, not a separate sbbs identity key: the sender
	// verifies the proof against PeerPublicExcess (the only receiver public
	// key it has), so that is the key the proof must be checkable against.
	digest := schnorr.PaymentConfirmationDigest(req.KernelID, req.Amount, req.SenderPeerID)
	proof, err := schnorr.SignMessage(excess, digest)
	if err != nil {
		return SignReceiverResult{}, &Error{Status: Unspecified, Reason: err.Error()}
	}
	res.PaymentProof = proof

	return res, nil
}

// SignAssetKernel is the analogue of SignSender for asset control kernels.
// Asset issuance is out of scope for the Simple/Split negotiation this
// repository drives (spec.md 1), so this method exists to satisfy the
// Keeper interface but is unused by txnego.
func (k *LocalKeeper) SignAssetKernel(req SignAssetKernelRequest) (SignAssetKernelResult, error) {
	var empty []Coin
	excess := k.excessScalar(empty, empty, req.Kernel)
	slot, err := k.AllocateNonceSlot()
	if err != nil {
		return SignAssetKernelResult{}, err
	}
	nonce, err := k.nonceScalar(slot)
	if err != nil {
		return SignAssetKernelResult{}, err
	}

	excessPub := schnorr.ScalarBaseMult(excess)
	noncePub := schnorr.ScalarBaseMult(nonce)

	return SignAssetKernelResult{
		ExcessPub:  excessPub,
		NoncePub:   noncePub,
		PartialSig: schnorr.Sign(excess, nonce, excessPub, noncePub, req.KernelID),
	}, nil
}

var _ Keeper = (*LocalKeeper)(nil)
