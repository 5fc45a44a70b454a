// Package wallet implements the wallet-level coin table and address book
// (component C9): the durable state backing the Coin Selector (C3) and the
// address resolution the negotiation driver needs to decide "is this my own
// expired address" before sending. It is walletdb-backed like the Parameter
// Store (C1), and every mutation is a single transactional call, per
// spec.md 5's "Coin table: every mutation is a single transactional call to
// the wallet db."
package wallet

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/negwallet/coinselect"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

var (
	coinsBucketName   = []byte("coins")
	addressBucketName = []byte("addresses")
	coinSeqBucketName = []byte("coin-id-seq")
	coinSeqKey        = []byte("next")
)

// Address is an entry in the address book: an owned or peer-owned
// destination, with an optional expiry past which it may no longer be used
// as a send target (spec.md 3: "forbid sending to expired owned address").
type Address struct {
	Key     []byte
	Owned   bool
	Label   string
	Expiry  uint64 // height; 0 means never expires
	PeerID  []byte
}

// ErrAddressExpired is returned by CheckSendable for an owned address past
// its expiry height.
type ErrAddressExpired struct {
	Key     []byte
	Expiry  uint64
	Current uint64
}

func (e *ErrAddressExpired) Error() string {
	return fmt.Sprintf("address expired at height %d (current %d)", e.Expiry, e.Current)
}

// Store is the coin table + address book, backed by db.
type Store struct {
	db walletdb.DB

	mu sync.Mutex
}

// NewStore opens (creating if necessary) the wallet's coin and address
// buckets.
func NewStore(db walletdb.DB) (*Store, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if _, err := tx.CreateTopLevelBucket(coinsBucketName); err != nil {
			return err
		}
		if _, err := tx.CreateTopLevelBucket(addressBucketName); err != nil {
			return err
		}
		_, err := tx.CreateTopLevelBucket(coinSeqBucketName)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize wallet buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// AllocateCoinID hands out a fresh, never-reused coin id for a newly minted
// output (a sender's change or a receiver's full-amount coin), the same
// high-water-mark persistence pattern as the key keeper's nonce slots.
func (s *Store) AllocateCoinID() (uint64, error) {
	var id uint64
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(coinSeqBucketName)
		if v := bucket.Get(coinSeqKey); v != nil {
			id = binary.BigEndian.Uint64(v) + 1
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, id)
		return bucket.Put(coinSeqKey, buf)
	}, func() {})
	return id, err
}

func coinKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// AddCoin inserts a new coin, e.g. a freshly received one, or a change
// output minted by this wallet's own send.
func (s *Store) AddCoin(c coinselect.Coin) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(coinsBucketName)
		return putCoin(bucket, c)
	}, func() {})
}

// AddIncoming registers a coin id (already allocated via AllocateCoinID) as
// Incoming: not yet spendable, pending the kernel confirmation that will
// move it to Available via ConfirmIncoming.
func (s *Store) AddIncoming(id, amount, assetID uint64) error {
	return s.AddCoin(coinselect.Coin{ID: id, Amount: amount, AssetID: assetID, Status: coinselect.Incoming})
}

// AvailableCoins implements coinselect.Source: every coin of the requested
// asset id that is not already excluded and has Status == Available.
func (s *Store) AvailableCoins(assetID uint64, exclude map[uint64]bool) ([]coinselect.Coin, error) {
	var out []coinselect.Coin
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(coinsBucketName)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			c, err := decodeCoin(v)
			if err != nil {
				return err
			}
			if exclude[c.ID] || c.AssetID != assetID || c.Status != coinselect.Available {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// MarkOutgoing implements coinselect.Source: atomically flips every listed
// coin id to Outgoing, in a single walletdb transaction (spec.md 5).
func (s *Store) MarkOutgoing(ids []uint64) error {
	return s.setStatus(ids, coinselect.Outgoing)
}

// MarkSpent moves coins from Outgoing to Spent once their kernel is
// confirmed.
func (s *Store) MarkSpent(ids []uint64) error {
	return s.setStatus(ids, coinselect.Spent)
}

// ReleaseCoins returns coins to Available, e.g. on cancellation or a failed
// negotiation record (spec.md 3's Outgoing invariant: "until the tx
// completes or fails, then it returns to Available").
func (s *Store) ReleaseCoins(ids []uint64) error {
	return s.setStatus(ids, coinselect.Available)
}

// ConfirmIncoming moves a receiver's freshly-created coins from Incoming to
// Available once the kernel proof height is known.
func (s *Store) ConfirmIncoming(ids []uint64) error {
	return s.setStatus(ids, coinselect.Available)
}

func (s *Store) setStatus(ids []uint64, status coinselect.Status) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(coinsBucketName)
		if bucket == nil {
			return fmt.Errorf("coins bucket missing")
		}
		for _, id := range ids {
			v := bucket.Get(coinKey(id))
			if v == nil {
				return fmt.Errorf("unknown coin %d", id)
			}
			c, err := decodeCoin(v)
			if err != nil {
				return err
			}
			c.Status = status
			if err := putCoin(bucket, c); err != nil {
				return err
			}
		}
		return nil
	}, func() {})
}

func putCoin(bucket walletdb.ReadWriteBucket, c coinselect.Coin) error {
	buf := make([]byte, 33)
	binary.BigEndian.PutUint64(buf[0:8], c.Amount)
	binary.BigEndian.PutUint64(buf[8:16], c.AssetID)
	binary.BigEndian.PutUint64(buf[16:24], c.Maturity)
	buf[24] = byte(c.Status)
	binary.BigEndian.PutUint64(buf[25:33], c.ID)
	return bucket.Put(coinKey(c.ID), buf)
}

func decodeCoin(v []byte) (coinselect.Coin, error) {
	if len(v) != 33 {
		return coinselect.Coin{}, fmt.Errorf("corrupt coin record (len %d)", len(v))
	}
	return coinselect.Coin{
		Amount:   binary.BigEndian.Uint64(v[0:8]),
		AssetID:  binary.BigEndian.Uint64(v[8:16]),
		Maturity: binary.BigEndian.Uint64(v[16:24]),
		Status:   coinselect.Status(v[24]),
		ID:       binary.BigEndian.Uint64(v[25:33]),
	}, nil
}

// PutAddress records or updates an address book entry. The wire layout is
// [owned(1)][expiry(8)][labelLen(4)][label][peerID]: labelLen is required
// because Label and PeerID are both variable-length and otherwise
// unsplittable on decode.
func (s *Store) PutAddress(addr Address) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(addressBucketName)
		buf := make([]byte, 13+len(addr.Label)+len(addr.PeerID))
		if addr.Owned {
			buf[0] = 1
		}
		binary.BigEndian.PutUint64(buf[1:9], addr.Expiry)
		binary.BigEndian.PutUint32(buf[9:13], uint32(len(addr.Label)))
		copy(buf[13:], []byte(addr.Label))
		copy(buf[13+len(addr.Label):], addr.PeerID)
		return bucket.Put(addr.Key, buf)
	}, func() {})
}

// GetAddress fetches an address book entry, auto-creating a non-owned entry
// for an unknown peer address, per spec.md 3's "auto-create entry for peer
// address".
func (s *Store) GetAddress(key []byte) (Address, error) {
	var addr Address
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(addressBucketName)
		v := bucket.Get(key)
		if v == nil {
			addr = Address{Key: key, Owned: false}
			buf := make([]byte, 13)
			return bucket.Put(key, buf)
		}
		labelLen := binary.BigEndian.Uint32(v[9:13])
		label := append([]byte(nil), v[13:13+labelLen]...)
		peerID := append([]byte(nil), v[13+labelLen:]...)
		addr = Address{
			Key:    append([]byte(nil), key...),
			Owned:  v[0] == 1,
			Expiry: binary.BigEndian.Uint64(v[1:9]),
			Label:  string(label),
			PeerID: peerID,
		}
		return nil
	}, func() {})
	return addr, err
}

// CheckSendable forbids sending to an expired owned address, per spec.md 3.
func (s *Store) CheckSendable(key []byte, currentHeight uint64) error {
	addr, err := s.GetAddress(key)
	if err != nil {
		return err
	}
	if addr.Owned && addr.Expiry != 0 && currentHeight > addr.Expiry {
		return &ErrAddressExpired{Key: key, Expiry: addr.Expiry, Current: currentHeight}
	}
	return nil
}

var _ coinselect.Source = (*Store)(nil)
