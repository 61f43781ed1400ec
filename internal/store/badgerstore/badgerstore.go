// Package badgerstore is the local indexed-key-value PersistentStore
// backend, built on github.com/dgraph-io/badger/v4. Badger has one flat
// keyspace rather than named object stores, so KindUser and KindKeyStore
// are modeled as key prefixes inside one database directory named
// "web3mq_mls_<user_id>".
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/germtb/mlsclient/internal/errs"
	"github.com/germtb/mlsclient/internal/store"
)

const (
	prefixUser     = "USER:"
	prefixKeyStore = "KS:"
)

// Store wraps one Badger database per user_id.
type Store struct {
	Dir string
	db  *badger.DB
}

// Open opens (creating if necessary) the Badger database for userID under
// rootDir, named "web3mq_mls_<user_id>".
func Open(rootDir, userID string) (*Store, error) {
	dbDir := filepath.Join(rootDir, fmt.Sprintf("web3mq_mls_%s", userID))
	opts := badger.DefaultOptions(dbDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrOpenDB, err)
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "dir": dbDir}).Debug("opened badger store")
	return &Store{Dir: dbDir, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(kind store.Kind) []byte {
	switch kind {
	case store.KindKeyStore:
		return []byte(prefixKeyStore)
	default:
		return []byte(prefixUser)
	}
}

// Put writes data under the key prefix for kind, overwriting any prior value.
func (s *Store) Put(_ context.Context, userID string, kind store.Kind, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(kind), data)
	})
}

// Get reads the value stored under the key prefix for kind. A missing value
// yields (nil, false, nil).
func (s *Store) Get(_ context.Context, userID string, kind store.Kind) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(kind))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return out, true, nil
}
