package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("cache_entries")

// Disk is the durable tier of the cache.
type Disk interface {
	// Load returns nil, nil when the key is absent.
	Load(key string) (*Entry, error)
	Store(e *Entry) error
	Delete(keys ...string) error
	Clear() error
	ForEach(fn func(e *Entry) error) error
	Close() error
}

// BoltDisk keeps cache entries in a bbolt file.
type BoltDisk struct {
	db *bolt.DB
}

func NewBoltDisk(dir string) (*BoltDisk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, "cache.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketEntries, err)
	}
	return &BoltDisk{db: db}, nil
}

func (d *BoltDisk) Load(key string) (*Entry, error) {
	var entry *Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry %s: %w", key, err)
	}
	return entry, nil
}

func (d *BoltDisk) Store(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(e.Key), data)
	})
}

func (d *BoltDisk) Delete(keys ...string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDisk) Clear() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketEntries)
		return err
	})
}

func (d *BoltDisk) ForEach(fn func(e *Entry) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt cache entry %s: %w", k, err)
			}
			return fn(&e)
		})
	})
}

func (d *BoltDisk) Close() error {
	return d.db.Close()
}
