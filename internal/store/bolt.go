package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketCollections = []byte("collections")

// BoltBackend stores each collection snapshot as one JSON value in a bbolt file.
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (or creates) the bbolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(_ context.Context, c Collection) ([]json.RawMessage, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCollections)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", bucketCollections)
		}
		// Values are only valid inside the transaction.
		if v := bucket.Get([]byte(c)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", c, err)
	}
	return decodeSnapshot(data)
}

func (b *BoltBackend) Put(_ context.Context, c Collection, records []json.RawMessage) error {
	data, err := encodeSnapshot(records)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCollections)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", bucketCollections)
		}
		return bucket.Put([]byte(c), data)
	})
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return ErrClosed
		}
		return fmt.Errorf("failed to write collection %s: %w", c, err)
	}
	return nil
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
