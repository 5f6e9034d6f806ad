package db

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is the embedded single-file backend used for single-node
// deployments and local development. Bolt serialises write transactions,
// so a read-check-write inside one Update call is atomic.
type BoltStore struct {
	DB *bolt.DB
}

// OpenBolt opens (or creates) the database file and ensures every bucket
// exists.
func OpenBolt(path string, buckets ...string) (*BoltStore, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &BoltStore{DB: bdb}, nil
}

func (s *BoltStore) Close() error {
	return s.DB.Close()
}

// Ping implements Pinger with a no-op read transaction.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.DB.View(func(*bolt.Tx) error { return nil })
}
