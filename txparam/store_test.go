package txparam

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "txparams.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	txID[0] = 0x01

	require.NoError(t, Set(store, txID, 0, Amount, uint64(100_000)))

	got, ok, err := Get[uint64](store, txID, 0, Amount)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100_000), got)
}

func TestGetMissingIsNotError(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	_, ok, err := Get[uint64](store, txID, 0, Fee)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMandatoryFailsWhenAbsent(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	_, err := GetMandatory[uint64](store, txID, 0, Fee)
	require.Error(t, err)

	var missing *MissingParameter
	require.ErrorAs(t, err, &missing)
	require.Equal(t, Fee, missing.Key)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	require.NoError(t, Set(store, txID, 0, Fee, uint64(10)))
	require.NoError(t, store.Delete(txID, 0, Fee))
	require.NoError(t, store.Delete(txID, 0, Fee))

	_, ok, err := Get[uint64](store, txID, 0, Fee)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestObserverFiresOnlyForInterestingKeys(t *testing.T) {
	store := openTestStore(t)

	var notified []TxParameterID
	unsub := store.Subscribe(func(_ TxID, _ uint32, key TxParameterID) {
		notified = append(notified, key)
	})
	defer unsub()

	var txID TxID
	require.NoError(t, Set(store, txID, 0, Amount, uint64(1))) // interesting
	require.NoError(t, Set(store, txID, 0, Offset, []byte{1})) // not interesting

	require.Equal(t, []TxParameterID{Amount}, notified)
}

func TestSubTxIDsAreIndependent(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	require.NoError(t, Set(store, txID, 0, NonceSlot, uint32(1)))
	require.NoError(t, Set(store, txID, 1, NonceSlot, uint32(2)))

	a, _, err := Get[uint32](store, txID, 0, NonceSlot)
	require.NoError(t, err)
	b, _, err := Get[uint32](store, txID, 1, NonceSlot)
	require.NoError(t, err)

	require.Equal(t, uint32(1), a)
	require.Equal(t, uint32(2), b)
}

func TestReplayingSameWriteIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	var txID TxID
	require.NoError(t, Set(store, txID, 0, Amount, uint64(42)))
	require.NoError(t, Set(store, txID, 0, Amount, uint64(42)))

	got, ok, err := Get[uint64](store, txID, 0, Amount)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)
}
