// Package blockchain persists decided anchor leaves and an advisory snapshot
// of the consensus state using BadgerDB. Consensus treats durability here as
// advisory: a failed write is logged by the caller and the protocol moves on.
package blockchain

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/meridian-bft/meridian"
)

// Key prefixes for BadgerDB.
const (
	leafPrefix = "leaf:" // leaf:<commit> -> RLP-encoded leaf
	viewPrefix = "view:" // view:<view> -> leaf commitment

	// Metadata keys.
	anchorKey          = "meta:anchor"
	highQCKey          = "state:high_qc"
	lockedViewKey      = "state:locked_view"
	lastDecidedViewKey = "state:last_decided_view"
)

// Store is a persistent record of decided leaves keyed by commitment and by
// view, plus the latest anchor and consensus-state snapshot.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store in the given directory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil) // Badger's own logging is disabled.
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open anchor database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreAnchor persists a decided anchor leaf and records it as the latest
// anchor.
func (s *Store) StoreAnchor(leaf meridian.Leaf) error {
	encoded, err := rlp.EncodeToBytes(&leaf)
	if err != nil {
		return fmt.Errorf("failed to encode leaf: %w", err)
	}
	commit := leaf.Commit()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(leafKey(commit), encoded); err != nil {
			return fmt.Errorf("failed to store leaf by commitment: %w", err)
		}
		if err := txn.Set(viewKey(leaf.View), commit[:]); err != nil {
			return fmt.Errorf("failed to store leaf by view: %w", err)
		}
		return txn.Set([]byte(anchorKey), commit[:])
	})
}

// Anchor returns the most recently stored anchor leaf.
func (s *Store) Anchor() (meridian.Leaf, bool, error) {
	var commit meridian.Hash
	found, err := s.getHash([]byte(anchorKey), &commit)
	if err != nil || !found {
		return meridian.Leaf{}, false, err
	}
	return s.Leaf(commit)
}

// Leaf returns a stored leaf by commitment.
func (s *Store) Leaf(commit meridian.Hash) (meridian.Leaf, bool, error) {
	var leaf meridian.Leaf
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(leafKey(commit))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := rlp.DecodeBytes(val, &leaf); err != nil {
				return fmt.Errorf("failed to decode leaf: %w", err)
			}
			found = true
			return nil
		})
	})
	return leaf, found, err
}

// LeafByView returns a stored leaf by its view.
func (s *Store) LeafByView(view meridian.View) (meridian.Leaf, bool, error) {
	var commit meridian.Hash
	found, err := s.getHash(viewKey(view), &commit)
	if err != nil || !found {
		return meridian.Leaf{}, false, err
	}
	return s.Leaf(commit)
}

// SetHighQC saves the highest known quorum certificate.
func (s *Store) SetHighQC(qc meridian.QuorumCert) error {
	encoded, err := rlp.EncodeToBytes(&qc)
	if err != nil {
		return fmt.Errorf("failed to encode QC: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(highQCKey), encoded)
	})
}

// HighQC returns the saved highest quorum certificate.
func (s *Store) HighQC() (meridian.QuorumCert, bool, error) {
	var qc meridian.QuorumCert
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(highQCKey))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := rlp.DecodeBytes(val, &qc); err != nil {
				return fmt.Errorf("failed to decode QC: %w", err)
			}
			found = true
			return nil
		})
	})
	return qc, found, err
}

// SetLockedView saves the locked view.
func (s *Store) SetLockedView(view meridian.View) error {
	return s.setView(lockedViewKey, view)
}

// LockedView returns the saved locked view, defaulting to zero.
func (s *Store) LockedView() (meridian.View, error) {
	return s.getView(lockedViewKey)
}

// SetLastDecidedView saves the decided anchor view.
func (s *Store) SetLastDecidedView(view meridian.View) error {
	return s.setView(lastDecidedViewKey, view)
}

// LastDecidedView returns the saved decided anchor view, defaulting to zero.
func (s *Store) LastDecidedView() (meridian.View, error) {
	return s.getView(lastDecidedViewKey)
}

func (s *Store) setView(key string, view meridian.View) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(view))
		return txn.Set([]byte(key), buf[:])
	})
}

func (s *Store) getView(key string) (meridian.View, error) {
	var view meridian.View
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("invalid view length: %d", len(val))
			}
			view = meridian.View(binary.LittleEndian.Uint64(val))
			return nil
		})
	})
	return view, err
}

func (s *Store) getHash(key []byte, out *meridian.Hash) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 32 {
				return fmt.Errorf("invalid hash length: %d", len(val))
			}
			copy(out[:], val)
			found = true
			return nil
		})
	})
	return found, err
}

func leafKey(commit meridian.Hash) []byte {
	key := make([]byte, len(leafPrefix)+32)
	copy(key, leafPrefix)
	copy(key[len(leafPrefix):], commit[:])
	return key
}

func viewKey(view meridian.View) []byte {
	key := make([]byte, len(viewPrefix)+8)
	copy(key, viewPrefix)
	binary.LittleEndian.PutUint64(key[len(viewPrefix):], uint64(view))
	return key
}
