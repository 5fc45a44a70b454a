// Package txparam implements the Parameter Store (component C1): a
// persistent, typed key/value map scoped per transaction id, shared between
// the negotiation driver and the asynchronous key keeper.
package txparam

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/slog"
)

// log is the package-level logger, replaced via UseLogger once the daemon's
// root logger is wired up. It is disabled by default.
var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// txParamsBucket is the single top level bucket holding every transaction's
// parameters, each transaction getting its own nested bucket keyed by TxID.
var txParamsBucket = []byte("tx-params")

// TxID is the 128-bit identifier of a transaction negotiation record.
type TxID [16]byte

// String renders the id as hex, the form used in logs and wire messages.
func (id TxID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// MissingParameter is returned by GetMandatory when a required key has no
// value recorded for a transaction.
type MissingParameter struct {
	TxID TxID
	Key  TxParameterID
}

func (e *MissingParameter) Error() string {
	return fmt.Sprintf("missing mandatory parameter %s for tx %s", e.Key, e.TxID)
}

// Observer is notified after a write to one of the curated "interesting"
// keys commits. Observers are called synchronously on the writer's
// goroutine, so a slow observer delays the writer's return and a panicking
// one panics the writer.
type Observer func(txID TxID, subTxID uint32, key TxParameterID)

// Store is the durable, per-transaction parameter map described in
// spec.md 4.1. All reads/writes are serialized through walletdb, which
// gives per-call atomicity; batched cross-call atomicity is not offered or
// required.
type Store struct {
	db walletdb.DB

	mu        sync.Mutex
	observers []Observer
}

// NewStore opens (creating if necessary) the parameter store backed by db.
func NewStore(db walletdb.DB) (*Store, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(txParamsBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize tx-params bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Subscribe registers obs to be called after every write to an interesting
// key. It returns a function that unregisters obs.
func (s *Store) Subscribe(obs Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, obs)
	idx := len(s.observers) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.observers[idx] = nil
	}
}

func (s *Store) notify(txID TxID, subTxID uint32, key TxParameterID) {
	if !IsInteresting(key) {
		return
	}

	s.mu.Lock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range obs {
		if o == nil {
			continue
		}
		o(txID, subTxID, key)
	}
}

// recordKey builds the bucket key for (subTxID, key): a 4-byte big-endian
// sub-transaction index followed by a 4-byte big-endian parameter id, so
// that ForEach iteration naturally groups by sub-transaction.
func recordKey(subTxID uint32, key TxParameterID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], subTxID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(key))
	return buf
}

func (s *Store) txBucket(tx walletdb.ReadWriteTx, txID TxID, create bool) (walletdb.ReadWriteBucket, error) {
	top := tx.ReadWriteBucket(txParamsBucket)
	if top == nil {
		return nil, fmt.Errorf("tx-params top level bucket missing")
	}

	if create {
		return top.CreateBucketIfNotExists(txID[:])
	}
	return top.NestedReadWriteBucket(txID[:]), nil
}

// Set persists value under (txID, subTxID, key), overwriting any prior
// value. The write is durable and atomic with respect to the caller by the
// time Set returns, per invariant 1 of spec.md 3.
func Set[T any](s *Store, txID TxID, subTxID uint32, key TxParameterID, value T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("unable to encode %s: %w", key, err)
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket, err := s.txBucket(tx, txID, true)
		if err != nil {
			return err
		}
		return bucket.Put(recordKey(subTxID, key), buf.Bytes())
	}, func() {})
	if err != nil {
		return err
	}

	log.Tracef("tx %s: set %s (sub %d)", txID, key, subTxID)
	s.notify(txID, subTxID, key)
	return nil
}

// Get returns the value stored under (txID, subTxID, key). The second
// return value is false when nothing has been recorded; this is not an
// error condition.
func Get[T any](s *Store, txID TxID, subTxID uint32, key TxParameterID) (T, bool, error) {
	var zero T

	var raw []byte
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		top := tx.ReadBucket(txParamsBucket)
		if top == nil {
			return nil
		}
		bucket := top.NestedReadBucket(txID[:])
		if bucket == nil {
			return nil
		}
		v := bucket.Get(recordKey(subTxID, key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return zero, false, err
	}
	if raw == nil {
		return zero, false, nil
	}

	var value T
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&value); err != nil {
		// A corrupt/incompatible encoding is treated like an absent
		// value, per the open-question resolution in DESIGN.md: we
		// never surface decode errors as hard failures for a key
		// that is semantically "just not there yet".
		log.Warnf("tx %s: unable to decode %s, treating as absent: %v",
			txID, key, err)
		return zero, false, nil
	}

	return value, true, nil
}

// GetMandatory is like Get but fails with *MissingParameter when the key has
// no recorded value.
func GetMandatory[T any](s *Store, txID TxID, subTxID uint32, key TxParameterID) (T, error) {
	value, ok, err := Get[T](s, txID, subTxID, key)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, &MissingParameter{TxID: txID, Key: key}
	}
	return value, nil
}

// Delete removes any value stored under (txID, subTxID, key). Deleting an
// absent key is a no-op.
func (s *Store) Delete(txID TxID, subTxID uint32, key TxParameterID) error {
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket, err := s.txBucket(tx, txID, false)
		if err != nil {
			return err
		}
		if bucket == nil {
			return nil
		}
		return bucket.Delete(recordKey(subTxID, key))
	}, func() {})
	if err != nil {
		return err
	}

	s.notify(txID, subTxID, key)
	return nil
}

// Purge removes every parameter recorded for txID. Callers must only do
// this for terminal records (Completed, Failed, Canceled), per the
// lifecycle rule in spec.md 3.
func (s *Store) Purge(txID TxID) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		top := tx.ReadWriteBucket(txParamsBucket)
		if top == nil {
			return nil
		}
		if top.NestedReadWriteBucket(txID[:]) == nil {
			return nil
		}
		return top.DeleteNestedBucket(txID[:])
	}, func() {})
}
