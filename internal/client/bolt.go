package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltAdapterName is the selector of the bbolt key/value adapter.
const BoltAdapterName = "bolt"

var createdKey = []byte("_created")

// BoltAdapter stores each database as a bbolt file <dir>/<name>.bolt whose
// root bucket is named after the database.
type BoltAdapter struct {
	dir         string
	openTimeout time.Duration
}

// NewBoltAdapter creates an adapter rooted at dir.
func NewBoltAdapter(dir string) *BoltAdapter {
	return &BoltAdapter{dir: dir, openTimeout: 5 * time.Second}
}

// Name returns "bolt".
func (a *BoltAdapter) Name() string { return BoltAdapterName }

// Path returns the file backing name.
func (a *BoltAdapter) Path(name string) string {
	return filepath.Join(a.dir, name+".bolt")
}

// Create creates the file and its root bucket, stamping the creation time
// the first time only.
func (a *BoltAdapter) Create(_ context.Context, name string) error {
	if err := validateLocalName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return fmt.Errorf("creating bolt directory: %w", err)
	}

	db, err := bolt.Open(a.Path(name), 0o600, &bolt.Options{Timeout: a.openTimeout})
	if err != nil {
		return fmt.Errorf("opening bolt database %q: %w", name, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		if b.Get(createdKey) != nil {
			return nil
		}
		now, err := time.Now().UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(createdKey, now)
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("initializing bolt database %q: %w", name, err)
	}
	return nil
}

// Created returns when name was first created.
func (a *BoltAdapter) Created(name string) (time.Time, error) {
	var created time.Time
	if err := validateLocalName(name); err != nil {
		return created, err
	}
	db, err := bolt.Open(a.Path(name), 0o600, &bolt.Options{Timeout: a.openTimeout, ReadOnly: true})
	if err != nil {
		return created, err
	}
	defer db.Close() //nolint:errcheck

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("bolt database %q has no root bucket", name)
		}
		return created.UnmarshalBinary(b.Get(createdKey))
	})
	return created, err
}

// Destroy removes the database file.
func (a *BoltAdapter) Destroy(_ context.Context, name string) error {
	if err := validateLocalName(name); err != nil {
		return err
	}
	if err := os.Remove(a.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", filepath.Base(a.Path(name)), err)
	}
	return nil
}
