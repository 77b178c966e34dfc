package engine

import (
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

var boltBucket = []byte("kv")

// boltEngine satisfies Engine by delegating to an embedded bbolt
// database. bbolt syncs every committed transaction, so its mutations
// carry a stronger durability guarantee than the kvs backend's.
type boltEngine struct {
	db *bolt.DB
}

// openBolt opens (or creates) a bbolt database inside dir.
func openBolt(dir string) (*boltEngine, error) {
	db, err := bolt.Open(filepath.Join(dir, "bolt.db"), 0600, nil)
	if err != nil {
		return nil, api.E(api.Io, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, api.E(api.Io, err)
	}

	return &boltEngine{db: db}, nil
}

func (e *boltEngine) Get(key string) (string, bool, error) {
	var value string
	var found bool

	err := e.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, api.E(api.Io, err)
	}

	return value, found, nil
}

func (e *boltEngine) Set(key, value string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return api.E(api.Io, err)
	}
	return nil
}

func (e *boltEngine) Remove(key string) error {
	var missing bool

	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket.Get([]byte(key)) == nil {
			missing = true
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return api.E(api.Io, err)
	}
	if missing {
		return api.E(api.KeyNotFound, nil)
	}
	return nil
}

func (e *boltEngine) Close() error {
	if err := e.db.Close(); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}
