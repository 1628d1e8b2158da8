package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName  = "receipts"
	settingsBucketName = "settings"
)

// Fixed keys under which the credential and provider selection persist
const (
	settingsKeyAPIKey   = "api_key"
	settingsKeyProvider = "provider"
	settingsKeyModel    = "model"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt item, assigning its insertion sequence on
	// first save
	SaveReceipt(item *Item) error

	// GetReceipt retrieves a receipt item by ID
	GetReceipt(id string) (*Item, error)

	// ListReceipts returns all receipt items in insertion order
	ListReceipts() ([]*Item, error)

	// DeleteReceipt removes a receipt item; absent IDs are not an error
	DeleteReceipt(id string) error

	// DeleteAllReceipts removes every receipt item
	DeleteAllReceipts() error

	// GetSettings retrieves the stored extraction settings
	GetSettings() (Settings, error)

	// SaveSettings stores the extraction settings
	SaveSettings(settings Settings) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt item to the database
func (b *BoltDB) SaveReceipt(item *Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		if item.Seq == 0 {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("assigning sequence: %w", err)
			}
			item.Seq = seq
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(item.ID), data)
	})
}

// GetReceipt retrieves a receipt item by ID
func (b *BoltDB) GetReceipt(id string) (*Item, error) {
	var item *Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt not found: %s", id)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListReceipts returns all receipt items sorted by insertion order
func (b *BoltDB) ListReceipts() ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

// DeleteReceipt removes a receipt item from the database. Deleting an absent
// ID is a no-op.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.Delete([]byte(id))
	})
}

// DeleteAllReceipts removes every receipt item from the database
func (b *BoltDB) DeleteAllReceipts() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(receiptBucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(receiptBucketName))
		return err
	})
}

// GetSettings retrieves the stored extraction settings; missing keys read as
// empty values
func (b *BoltDB) GetSettings() (Settings, error) {
	var settings Settings
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		settings.APIKey = string(bucket.Get([]byte(settingsKeyAPIKey)))
		settings.Provider = string(bucket.Get([]byte(settingsKeyProvider)))
		settings.Model = string(bucket.Get([]byte(settingsKeyModel)))
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings stores the extraction settings under their fixed keys
func (b *BoltDB) SaveSettings(settings Settings) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		if err := bucket.Put([]byte(settingsKeyAPIKey), []byte(settings.APIKey)); err != nil {
			return err
		}
		if err := bucket.Put([]byte(settingsKeyProvider), []byte(settings.Provider)); err != nil {
			return err
		}
		return bucket.Put([]byte(settingsKeyModel), []byte(settings.Model))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
