package store

import (
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("bvm_vars")

// BoltStore persists variables in a single go.etcd.io/bbolt bucket, keyed
// by the contract_id||tag||payload convention (spec §3/§6). bbolt's
// single-writer-transaction model is a direct fit for §5's ordering rule
// ("SaveVar writes are observable immediately to subsequent LoadVars
// within the same transaction"): every Put/Delete here commits its own
// bbolt Update before returning.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open bbolt db %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "store: create bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "store: get")
	}
	return out, out != nil, nil
}

func (s *BoltStore) Put(key, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
	if err != nil {
		return errors.Wrap(err, "store: put")
	}
	return nil
}

func (s *BoltStore) Delete(key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
	if err != nil {
		return errors.Wrap(err, "store: delete")
	}
	return nil
}
