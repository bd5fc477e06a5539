package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Store is the persistence surface used by subsystems: alert history, the
// notifier's delivery queue and per-module configuration records all live in
// named buckets. Keys created through Create are zero-padded sequence numbers
// so bucket iteration preserves insertion order.
type Store interface {
	CreateBucket(bucket string) error
	Create(bucket string, fn func(id string) interface{}) error
	Get(bucket, id string, v interface{}) error
	Update(bucket, id string, v interface{}) error
	Delete(bucket, id string) error
	List(bucket string, fn func(id string, v []byte) error) error
	Close() error
}

type boltStore struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bolt database at path.
func Open(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) CreateBucket(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
}

func (s *boltStore) Create(bucket string, fn func(id string) interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id := fmt.Sprintf("%016x", seq)
		data, err := json.Marshal(fn(id))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *boltStore) Get(bucket, id string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %q not found in bucket %q", id, bucket)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *boltStore) Update(bucket, id string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("record %q not found in bucket %q", id, bucket)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *boltStore) Delete(bucket, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		return b.Delete([]byte(id))
	})
}

func (s *boltStore) List(bucket string, fn func(id string, v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

func (s *boltStore) Close() error { return s.db.Close() }
