package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltDirPerm is the permission mode for the database directory.
	boltDirPerm = fs.FileMode(0o700)

	// boltFilePerm is the permission mode for the database file.
	boltFilePerm = fs.FileMode(0o600)

	// defaultBoltOpenTimeout bounds the wait for the file lock.
	defaultBoltOpenTimeout = 5 * time.Second
)

var credentialsBucket = []byte("credentials")

// BoltStore keeps the record in a local bbolt database. Useful for
// single-host deployments without a cloud secret store.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating credential store directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating credentials bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Name returns the backend name
func (b *BoltStore) Name() string {
	return "file"
}

// Get reads the record stored under name.
func (b *BoltStore) Get(_ context.Context, name string) (Record, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(credentialsBucket).Get([]byte(name)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Record{}, &StoreError{Backend: b.Name(), Op: "get", Name: name, Err: err}
	}
	if raw == nil {
		return Record{}, ErrNotFound
	}

	rec, err := Unmarshal(string(raw))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: b.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put overwrites the record stored under name.
func (b *BoltStore) Put(_ context.Context, name string, rec Record) error {
	raw, err := Marshal(rec)
	if err == nil {
		err = b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(credentialsBucket).Put([]byte(name), []byte(raw))
		})
	}
	if err != nil {
		return &StoreError{Backend: b.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func defaultBoltPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "gatewayauth", "credentials.db")
	}
	return filepath.Join(home, ".gatewayauth", "credentials.db")
}

// NewBoltStoreFactory adapts OpenBoltStore to the registry.
//
// Recognised settings: path, open_timeout.
func NewBoltStoreFactory(settings map[string]interface{}) (Store, error) {
	return OpenBoltStore(
		stringSetting(settings, "path", defaultBoltPath()),
		durationSetting(settings, "open_timeout", defaultBoltOpenTimeout),
	)
}
