package txnego

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/decred/negwallet/coinselect"
	"github.com/decred/negwallet/gateway"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/schnorr"
	"github.com/decred/negwallet/txbuilder"
	"github.com/decred/negwallet/txparam"
	"github.com/decred/negwallet/wallet"
	"github.com/stretchr/testify/require"
)

type flatEstimator struct{ inputs, outputs int }

func (e *flatEstimator) AddInput()                       { e.inputs++ }
func (e *flatEstimator) AddOutput()                       { e.outputs++ }
func (e *flatEstimator) Fee(feeRatePerByte uint64) uint64 { return 0 }

func newFlatEstimator() coinselect.SizeEstimator { return &flatEstimator{} }

// fakeGateway records every call it sees and lets tests script verdicts by
// writing directly into the store, mimicking "the reply arrived as a
// parameter write" from spec.md 4.6.
type fakeGateway struct {
	sendOk     bool
	sendCalled int
	regErr     error
	regCalled  int
	confirmErr error
}

func (g *fakeGateway) SendTxParameters(peerID []byte, txID txparam.TxID, params map[txparam.TxParameterID][]byte) (bool, error) {
	g.sendCalled++
	return g.sendOk, nil
}

func (g *fakeGateway) RegisterTx(txID txparam.TxID, transaction interface{}) error {
	g.regCalled++
	return g.regErr
}

func (g *fakeGateway) ConfirmKernel(txID txparam.TxID, kernelID []byte) error {
	return g.confirmErr
}

func (g *fakeGateway) OnTip(height uint64) {}

type testHarness struct {
	store   *txparam.Store
	wallet  *wallet.Store
	keeper  *keykeeper.LocalKeeper
	builder *txbuilder.Builder
	gw      *fakeGateway
	driver  *Driver
	tip     uint64
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "nego.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := txparam.NewStore(db)
	require.NoError(t, err)

	ws, err := wallet.NewStore(db)
	require.NoError(t, err)

	var seed [32]byte
	seed[0] = 7
	keeper, err := keykeeper.NewLocalKeeper(seed, db)
	require.NoError(t, err)

	builder := &txbuilder.Builder{
		Store: store, Keeper: keeper, Coins: ws, Estimate: newFlatEstimator,
	}

	gw := &fakeGateway{sendOk: true}

	h := &testHarness{store: store, wallet: ws, keeper: keeper, builder: builder, gw: gw}

	driver := &Driver{
		Store:   store,
		Builder: builder,
		Gateway: gw,
		Coins: &CoinReleaser{
			Release:     ws.ReleaseCoins,
			Spend:       ws.MarkSpent,
			Confirm:     ws.ConfirmIncoming,
			NewCoinID:   ws.AllocateCoinID,
			AddIncoming: ws.AddIncoming,
		},
		Tip: func() uint64 { return h.tip },
	}
	h.driver = driver

	return h
}

func newTxID(b byte) txparam.TxID {
	var id txparam.TxID
	id[0] = b
	return id
}

func setupSenderRecord(t *testing.T, h *testHarness, txID txparam.TxID, amount, fee, minHeight, lifetime uint64) {
	t.Helper()
	require.NoError(t, h.wallet.AddCoin(coinselect.Coin{ID: 1, Amount: amount + fee + 100, Status: coinselect.Available}))

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Amount, amount))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Fee, fee))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MinHeight, minHeight))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Lifetime, lifetime))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSender, true))
}

func TestInitialSenderSelectsInputsAndMovesToInvitation(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(1)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.True(t, outcome.Continue)
	require.Equal(t, Invitation, outcome.Status)

	inputs, ok, err := txparam.Get[[]uint64](h.store, txID, 0, txparam.Inputs)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, inputs, 1)
	require.Equal(t, 1, h.gw.sendCalled)
}

func TestInitialSenderIsIdempotentOnReentry(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(2)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	_, err := h.driver.Update(txID)
	require.NoError(t, err)

	inputsBefore, _, err := txparam.Get[[]uint64](h.store, txID, 0, txparam.Inputs)
	require.NoError(t, err)

	// Re-entering from Invitation with no new peer data should just keep
	// waiting, not re-select inputs or re-send.
	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.True(t, outcome.Continue)
	require.Equal(t, Invitation, outcome.Status)

	inputsAfter, _, err := txparam.Get[[]uint64](h.store, txID, 0, txparam.Inputs)
	require.NoError(t, err)
	require.Equal(t, inputsBefore, inputsAfter)
	require.Equal(t, 1, h.gw.sendCalled)
}

func TestNoInputsFailsAndReleasesNothing(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(3)
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Amount, uint64(1_000_000)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Fee, uint64(10)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MinHeight, uint64(5)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSender, true))

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Failed, outcome.Status)

	reason, err := txparam.GetMandatory[FailureReason](h.store, txID, 0, txparam.InternalFailureReason)
	require.NoError(t, err)
	require.Equal(t, ReasonNoInputs, reason)
}

func TestSendFailureKeepsCoinsReservedUntilCancel(t *testing.T) {
	// Per spec.md 7: transport failures in sendTxParameters are terminal
	// but do not release coins until explicit cancellation, since the
	// peer may still complete from state it already holds.
	h := newHarness(t)
	h.gw.sendOk = false
	txID := newTxID(4)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Failed, outcome.Status)

	coins, err := h.wallet.AvailableCoins(0, nil)
	require.NoError(t, err)
	require.Len(t, coins, 0, "coins stay reserved after a send failure, pending explicit cancellation")
}

func TestExpiryFailsTransactionPastMaxHeight(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(5)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	_, err := h.driver.Update(txID)
	require.NoError(t, err)

	// MaxHeight is only agreed during stepInvitation once the peer
	// replies; simulate that having already happened so the expiry
	// check (which runs before state dispatch) has something to compare
	// the tip against.
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MaxHeight, uint64(200)))
	h.tip = 1_000_000

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Failed, outcome.Status)

	reason, err := txparam.GetMandatory[FailureReason](h.store, txID, 0, txparam.InternalFailureReason)
	require.NoError(t, err)
	require.Equal(t, ReasonTransactionExpired, reason)

	coins, err := h.wallet.AvailableCoins(0, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)
}

func TestCancelBeforeRegistrationReleasesCoins(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(6)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	_, err := h.driver.Update(txID)
	require.NoError(t, err)

	require.NoError(t, h.driver.Cancel(txID))

	state, err := loadState(h.store, txID)
	require.NoError(t, err)
	require.Equal(t, Canceled, state)

	coins, err := h.wallet.AvailableCoins(0, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)
}

func TestCancelRefusedOnceRegistered(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(7)
	require.NoError(t, h.driver.setState(txID, Registration))

	err := h.driver.Cancel(txID)
	require.Error(t, err)
}

func TestTamperedPeerSignatureFailsInvitation(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(8)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	_, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Invitation, mustState(t, h, txID))

	peerExcess := schnorr.ScalarBaseMult(mustRand(t))
	peerNonce := schnorr.ScalarBaseMult(mustRand(t))
	bogusSig := mustRand(t)

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.PeerPublicExcess, peerExcess))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.PeerPublicNonce, peerNonce))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.PeerSignature, bogusSig))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.PeerMaxHeight, uint64(1000)))

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Failed, outcome.Status)

	reason, err := txparam.GetMandatory[FailureReason](h.store, txID, 0, txparam.InternalFailureReason)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidPeerSignature, reason)
}

func mustState(t *testing.T, h *testHarness, txID txparam.TxID) State {
	t.Helper()
	s, err := loadState(h.store, txID)
	require.NoError(t, err)
	return s
}

func mustRand(t *testing.T) schnorr.Scalar {
	t.Helper()
	s, err := schnorr.RandScalar()
	require.NoError(t, err)
	return s
}

// bridgeToPeer copies one harness's own negotiated fields into the
// other's Peer-prefixed slots, standing in for the out-of-scope sbbs wire
// transport spec.md treats as opaque: whatever a party writes under its own
// key arrives at the other side under the Peer-prefixed one.
func bridgeToPeer(t *testing.T, from, to *testHarness, txID txparam.TxID) {
	t.Helper()
	if excess, ok, err := txparam.Get[schnorr.Point](from.store, txID, 0, txparam.PublicExcess); err == nil && ok {
		require.NoError(t, txparam.Set(to.store, txID, 0, txparam.PeerPublicExcess, excess))
	}
	if nonce, ok, err := txparam.Get[schnorr.Point](from.store, txID, 0, txparam.PublicNonce); err == nil && ok {
		require.NoError(t, txparam.Set(to.store, txID, 0, txparam.PeerPublicNonce, nonce))
	}
	if sig, ok, err := txparam.Get[schnorr.Scalar](from.store, txID, 0, txparam.PartialSignature); err == nil && ok {
		require.NoError(t, txparam.Set(to.store, txID, 0, txparam.PeerSignature, sig))
	}
	if mh, ok, err := txparam.Get[uint64](from.store, txID, 0, txparam.MaxHeight); err == nil && ok {
		require.NoError(t, txparam.Set(to.store, txID, 0, txparam.PeerMaxHeight, mh))
	}
	// PaymentConfirmation is carried over unprefixed, per spec.md's
	// recognized peer-message id list.
	if proof, ok, err := txparam.Get[schnorr.Signature](from.store, txID, 0, txparam.PaymentConfirmation); err == nil && ok {
		require.NoError(t, txparam.Set(to.store, txID, 0, txparam.PaymentConfirmation, proof))
	}
}

func newReceiverHarness(t *testing.T, txID txparam.TxID, amount, fee, minHeight, lifetime uint64) *testHarness {
	t.Helper()
	h := newHarness(t)
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Amount, amount))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Fee, fee))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MinHeight, minHeight))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Lifetime, lifetime))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSender, false))
	return h
}

// TestFullTwoPartyHappyPathReachesCompleted drives a sender harness and a
// receiver harness, each with its own store/keeper/wallet, through the
// entire negotiation by hand-bridging the peer fields a real sbbs
// transport would carry. It is scenario 2 of spec.md 8 and exercises P2
// (coin conservation) and P6 (aggregated/partial signature validity) across
// a genuine two-party exchange rather than a single-sided simulation.
func TestFullTwoPartyHappyPathReachesCompleted(t *testing.T) {
	const amount, fee, minHeight, lifetime = 1000, 10, 5, 100

	txID := newTxID(100)
	sender := newHarness(t)
	setupSenderRecord(t, sender, txID, amount, fee, minHeight, lifetime)
	receiver := newReceiverHarness(t, txID, amount, fee, minHeight, lifetime)

	// Sender: Initial -> Invitation.
	outcome, err := sender.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Invitation, outcome.Status)

	bridgeToPeer(t, sender, receiver, txID)

	// Receiver: Initial -> InvitationConfirmation.
	outcome, err = receiver.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, InvitationConfirmation, outcome.Status)

	bridgeToPeer(t, receiver, sender, txID)

	// Sender: Invitation -> Registration (validates the receiver's partial
	// signature and payment proof against the now-shared kernel id).
	outcome, err = sender.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Registration, outcome.Status)
	require.Equal(t, 1, sender.gw.regCalled)

	// The external node notifies both parties that registration succeeded.
	require.NoError(t, txparam.Set(sender.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk))
	require.NoError(t, txparam.Set(receiver.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk))

	outcome, err = sender.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, KernelConfirmation, outcome.Status)

	outcome, err = receiver.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, KernelConfirmation, outcome.Status)

	// The kernel confirms on-chain at some later height.
	require.NoError(t, txparam.Set(sender.store, txID, 0, txparam.KernelProofHeight, uint64(1050)))
	require.NoError(t, txparam.Set(receiver.store, txID, 0, txparam.KernelProofHeight, uint64(1050)))

	outcome, err = sender.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Completed, outcome.Status)

	outcome, err = receiver.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Completed, outcome.Status)

	// P6: the finalized aggregate signature actually verifies against the
	// aggregate excess/nonce and kernel id, the same predicate the node
	// would run, not just that the state machine reached Completed.
	kernel, err := txparam.GetMandatory[txbuilder.Kernel](sender.store, txID, 0, txparam.Kernel)
	require.NoError(t, err)
	finalSig, err := txparam.GetMandatory[schnorr.Scalar](sender.store, txID, 0, txparam.Signature)
	require.NoError(t, err)
	require.True(t, schnorr.VerifyPartial(finalSig, kernel.AggregateNonce, kernel.AggregateExcess,
		kernel.AggregateExcess, kernel.AggregateNonce, kernel.ID()))

	// P2: the sender's change and the receiver's full amount are each
	// available, and no coin was created or destroyed beyond the fee.
	senderCoins, err := sender.wallet.AvailableCoins(0, nil)
	require.NoError(t, err)
	require.Len(t, senderCoins, 1)
	require.Equal(t, uint64(amount+fee+100-amount-fee), senderCoins[0].Amount)

	receiverCoins, err := receiver.wallet.AvailableCoins(0, nil)
	require.NoError(t, err)
	require.Len(t, receiverCoins, 1)
	require.Equal(t, uint64(amount), receiverCoins[0].Amount)
}

// TestSelfSendSplitReachesCompleted exercises the degenerate self-tx case
// (spec.md 1's "the degenerate Split which reuses it with PeerID = MyID")
// from the sender's side: the sender record carries IsSelfTx, a second
// harness answers as the receiving half, and the sender skips payment-proof
// verification on its way from Invitation to Completed.
func TestSelfSendSplitReachesCompleted(t *testing.T) {
	const amount, fee, minHeight, lifetime = 500, 5, 5, 100

	h := newHarness(t)
	txID := newTxID(101)
	setupSenderRecord(t, h, txID, amount, fee, minHeight, lifetime)
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSelfTx, true))

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Invitation, outcome.Status)

	// The same wallet answers its own invitation: manufacture the receiver
	// side of the exchange by hand against a second in-process keeper/store
	// sharing nothing but the bridged peer fields, the same as the
	// two-party test, but drive it to InvitationConfirmation only — what
	// matters here is that the *sender* skips payment-proof verification.
	receiver := newReceiverHarness(t, txID, amount, fee, minHeight, lifetime)
	require.NoError(t, txparam.Set(receiver.store, txID, 0, txparam.IsSelfTx, true))
	bridgeToPeer(t, h, receiver, txID)

	outcome, err = receiver.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, InvitationConfirmation, outcome.Status)

	bridgeToPeer(t, receiver, h, txID)

	outcome, err = h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Registration, outcome.Status, "self-tx still validates the peer signature but not a payment proof")

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk))
	outcome, err = h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, KernelConfirmation, outcome.Status)

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.KernelProofHeight, uint64(1050)))
	outcome, err = h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Completed, outcome.Status)
}

// TestTransientInvalidContextRetriesThenSucceeds covers spec.md 7's
// transient-vs-terminal InvalidContext distinction: the first sighting with
// no prior KernelUnconfirmedHeight retries, a later Ok verdict still
// completes the registration step normally.
func TestTransientInvalidContextRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(102)
	require.NoError(t, h.driver.setState(txID, Registration))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Amount, uint64(1000)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Fee, uint64(10)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MinHeight, uint64(5)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSender, true))

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictInvalidContext))

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.True(t, outcome.Continue, "first InvalidContext sighting with no prior unconfirmed height is transient")
	require.Equal(t, Registration, outcome.Status)

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.TransactionRegistered, gateway.VerdictOk))

	outcome, err = h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, KernelConfirmation, outcome.Status)
}

// TestAssetTransferCarriesAssetID exercises a non-zero AssetID end to end
// through input selection, avoiding any cross-asset mixing.
func TestAssetTransferCarriesAssetID(t *testing.T) {
	const assetID = 7

	h := newHarness(t)
	txID := newTxID(103)
	require.NoError(t, h.wallet.AddCoin(coinselect.Coin{ID: 1, Amount: 2000, AssetID: assetID, Status: coinselect.Available}))

	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Amount, uint64(1000)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Fee, uint64(10)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.MinHeight, uint64(5)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.Lifetime, uint64(100)))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.IsSender, true))
	require.NoError(t, txparam.Set(h.store, txID, 0, txparam.AssetID, uint64(assetID)))

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.Equal(t, Invitation, outcome.Status)

	inputs, ok, err := txparam.Get[[]uint64](h.store, txID, 0, txparam.Inputs)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, inputs, 1)
	require.Equal(t, uint64(1), inputs[0])
}

// TestReentryIsIdempotent covers P1: repeated Update calls on a
// not-yet-advanced state never change the persisted excess or nonce, and
// never resend to the peer a second time.
func TestReentryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(104)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	_, err := h.driver.Update(txID)
	require.NoError(t, err)

	excessBefore, _, err := txparam.Get[schnorr.Point](h.store, txID, 0, txparam.PublicExcess)
	require.NoError(t, err)
	nonceBefore, _, err := txparam.Get[schnorr.Point](h.store, txID, 0, txparam.PublicNonce)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.driver.Update(txID)
		require.NoError(t, err)
	}

	excessAfter, _, err := txparam.Get[schnorr.Point](h.store, txID, 0, txparam.PublicExcess)
	require.NoError(t, err)
	nonceAfter, _, err := txparam.Get[schnorr.Point](h.store, txID, 0, txparam.PublicNonce)
	require.NoError(t, err)

	require.Equal(t, excessBefore, excessAfter)
	require.Equal(t, nonceBefore, nonceAfter)
	require.Equal(t, 1, h.gw.sendCalled, "re-entry must not resend parameters to the peer")
}

// TestTerminalStatesAreMonotonic covers P5: once a record reaches a
// terminal state, further Update calls never move it elsewhere.
func TestTerminalStatesAreMonotonic(t *testing.T) {
	h := newHarness(t)
	txID := newTxID(105)
	setupSenderRecord(t, h, txID, 1000, 10, 5, 100)

	require.NoError(t, h.driver.Cancel(txID))
	state, err := loadState(h.store, txID)
	require.NoError(t, err)
	require.Equal(t, Canceled, state)

	outcome, err := h.driver.Update(txID)
	require.NoError(t, err)
	require.False(t, outcome.Continue)
	require.Equal(t, Canceled, outcome.Status)

	state, err = loadState(h.store, txID)
	require.NoError(t, err)
	require.Equal(t, Canceled, state)
}

var _ gateway.Gateway = (*fakeGateway)(nil)
