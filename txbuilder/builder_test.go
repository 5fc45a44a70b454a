package txbuilder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/decred/negwallet/coinselect"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/schnorr"
	"github.com/decred/negwallet/txparam"
	"github.com/stretchr/testify/require"
)

type flatEstimator struct{ inputs, outputs int }

func (e *flatEstimator) AddInput()                       { e.inputs++ }
func (e *flatEstimator) AddOutput()                       { e.outputs++ }
func (e *flatEstimator) Fee(feeRatePerByte uint64) uint64 { return 0 }

func newFlatEstimator() coinselect.SizeEstimator { return &flatEstimator{} }

type memSource struct {
	coins map[uint64]coinselect.Coin
}

func newMemSource(coins ...coinselect.Coin) *memSource {
	m := &memSource{coins: make(map[uint64]coinselect.Coin)}
	for _, c := range coins {
		m.coins[c.ID] = c
	}
	return m
}

func (m *memSource) AvailableCoins(assetID uint64, exclude map[uint64]bool) ([]coinselect.Coin, error) {
	var out []coinselect.Coin
	for id, c := range m.coins {
		if exclude[id] || c.AssetID != assetID || c.Status != coinselect.Available {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memSource) MarkOutgoing(ids []uint64) error {
	for _, id := range ids {
		c := m.coins[id]
		c.Status = coinselect.Outgoing
		m.coins[id] = c
	}
	return nil
}

func newTestBuilder(t *testing.T, coins ...coinselect.Coin) (*Builder, txparam.TxID) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "builder.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := txparam.NewStore(db)
	require.NoError(t, err)

	var seed [32]byte
	seed[0] = 3
	keeper, err := keykeeper.NewLocalKeeper(seed, db)
	require.NoError(t, err)

	b := &Builder{
		Store:    store,
		Keeper:   keeper,
		Coins:    newMemSource(coins...),
		Estimate: newFlatEstimator,
	}

	var txID txparam.TxID
	txID[0] = 1
	return b, txID
}

func TestSelectInputsIsIdempotent(t *testing.T) {
	b, txID := newTestBuilder(t, coinselect.Coin{ID: 1, Amount: 1000, Status: coinselect.Available})

	first, err := b.SelectInputs(txID, 0, 0, 900, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.SelectInputs(txID, 0, 0, 900, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAddChangeReadsWhatSelectInputsRecorded(t *testing.T) {
	b, txID := newTestBuilder(t, coinselect.Coin{ID: 1, Amount: 1000, Status: coinselect.Available})

	_, err := b.SelectInputs(txID, 0, 0, 900, 0)
	require.NoError(t, err)

	change, err := b.AddChange(txID, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(100), change)
}

func TestGenerateNonceReusesSlotAcrossCalls(t *testing.T) {
	b, txID := newTestBuilder(t)

	slot1, err := b.GenerateNonce(txID, 0)
	require.NoError(t, err)
	slot2, err := b.GenerateNonce(txID, 0)
	require.NoError(t, err)

	require.Equal(t, slot1, slot2)
}

func TestCreateOutputsMaterializesOnceAndCaches(t *testing.T) {
	b, txID := newTestBuilder(t)

	coins := []keykeeper.Coin{{ID: 1, Amount: 100, AssetID: 0}}
	first, err := b.CreateOutputs(txID, 0, 5, coins)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.CreateOutputs(txID, 0, 5, coins)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSignSenderInitialIsIdempotent(t *testing.T) {
	b, txID := newTestBuilder(t)

	slot, err := b.GenerateNonce(txID, 0)
	require.NoError(t, err)

	req := keykeeper.SignSenderRequest{Kernel: keykeeper.KernelParams{Fee: 10}, NonceSlot: slot}
	first, err := b.SignSenderInitial(txID, 0, req)
	require.NoError(t, err)
	second, err := b.SignSenderInitial(txID, 0, req)
	require.NoError(t, err)

	require.Equal(t, first.ExcessPub, second.ExcessPub)
	require.Equal(t, first.NoncePub, second.NoncePub)
	require.Equal(t, first.Offset, second.Offset)
}

func TestSignSenderFinalIsIdempotent(t *testing.T) {
	b, txID := newTestBuilder(t)

	slot, err := b.GenerateNonce(txID, 0)
	require.NoError(t, err)

	req := keykeeper.SignSenderRequest{Kernel: keykeeper.KernelParams{Fee: 10}, NonceSlot: slot}
	_, err = b.SignSenderInitial(txID, 0, req)
	require.NoError(t, err)

	req.AggregateExcess = schnorr.ScalarBaseMult(mustRandScalar(t))
	req.AggregateNonce = schnorr.ScalarBaseMult(mustRandScalar(t))
	req.KernelID = []byte("kernel")

	first, err := b.SignSenderFinal(txID, 0, req)
	require.NoError(t, err)
	second, err := b.SignSenderFinal(txID, 0, req)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestSignReceiverIsIdempotent(t *testing.T) {
	b, txID := newTestBuilder(t)

	slot, err := b.GenerateNonce(txID, 0)
	require.NoError(t, err)

	req := keykeeper.SignReceiverRequest{Kernel: keykeeper.KernelParams{Fee: 10}, NonceSlot: slot}
	_, err = b.SignReceiverInitial(txID, 0, req)
	require.NoError(t, err)

	req.AggregateExcess = schnorr.ScalarBaseMult(mustRandScalar(t))
	req.AggregateNonce = schnorr.ScalarBaseMult(mustRandScalar(t))
	req.KernelID = []byte("kernel")
	req.Amount = 500

	first, err := b.SignReceiverFinal(txID, 0, req)
	require.NoError(t, err)
	second, err := b.SignReceiverFinal(txID, 0, req)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestUpdateMaxHeightPicksTheMinimumOfAllCaps(t *testing.T) {
	b, txID := newTestBuilder(t)

	h, err := b.UpdateMaxHeight(txID, 0, 500, 400, 5, 100, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(105), h, "lifetime cap (minHeight+lifetime) is the smallest of the three")

	// Re-entry returns the persisted value, ignoring new arguments.
	h2, err := b.UpdateMaxHeight(txID, 0, 1, 1, 1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}

func TestUpdateMaxHeightRejectsValueBehindTip(t *testing.T) {
	b, txID := newTestBuilder(t)

	_, err := b.UpdateMaxHeight(txID, 0, 50, 60, 5, 10, 1000)
	require.Error(t, err)

	var target *ErrMaxHeightUnacceptable
	require.ErrorAs(t, err, &target)
}

func TestFinalizeSignatureIsIdempotent(t *testing.T) {
	b, txID := newTestBuilder(t)

	a := mustRandScalar(t)
	c := mustRandScalar(t)

	first, err := b.FinalizeSignature(txID, 0, a, c)
	require.NoError(t, err)
	second, err := b.FinalizeSignature(txID, 0, a, c)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestCreateTransactionIsEmittedOnce(t *testing.T) {
	b, txID := newTestBuilder(t)

	kernel := Kernel{Fee: 10, MinHeight: 1, MaxHeight: 100}
	offset := mustRandScalar(t)

	first, err := b.CreateTransaction(txID, 0, []uint64{1, 2}, nil, kernel, offset)
	require.NoError(t, err)

	// Passing different args on re-entry still returns the cached value.
	second, err := b.CreateTransaction(txID, 0, []uint64{99}, nil, Kernel{}, schnorr.Scalar{})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestIsPeerSignatureValidAcceptsAndRejects(t *testing.T) {
	sk := mustRandScalar(t)
	nonce := mustRandScalar(t)
	pub := schnorr.ScalarBaseMult(sk)
	r := schnorr.ScalarBaseMult(nonce)
	kernelID := []byte("kernel-id")

	s := schnorr.Sign(sk, nonce, pub, r, kernelID)

	require.True(t, IsPeerSignatureValid(s, r, pub, pub, r, kernelID))

	bogus := mustRandScalar(t)
	require.False(t, IsPeerSignatureValid(bogus, r, pub, pub, r, kernelID))
}

func mustRandScalar(t *testing.T) schnorr.Scalar {
	t.Helper()
	s, err := schnorr.RandScalar()
	require.NoError(t, err)
	return s
}
