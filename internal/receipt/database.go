package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket = "receipts"
	itemsBucket    = "items"
)

// ErrNotFound is returned when no receipt exists for the given id.
var ErrNotFound = errors.New("receipt not found")

// DB defines the persistence operations for receipts and their line items.
type DB interface {
	// SaveReceipt writes a full receipt record.
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID.
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts.
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its items.
	DeleteReceipt(id string) error

	// UpdateReceipt applies a partial update in a single transaction and
	// returns the updated record.
	UpdateReceipt(id string, update Update) (*Receipt, error)

	// ReplaceItems stores the receipt's line items, preserving order.
	ReplaceItems(id string, items []Item) error

	// GetItems returns the receipt's line items in stored order.
	GetItems(id string) ([]Item, error)

	// Close closes the database.
	Close() error
}

// BoltDB implements DB on bbolt.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the receipt database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucket)); err != nil {
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

// SaveReceipt writes a full receipt record.
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID.
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts.
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its items.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(itemsBucket)).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(receiptsBucket)).Delete([]byte(id))
	})
}

// UpdateReceipt applies a partial update: only fields present in the update
// are written, everything else is left untouched. Read and write happen in
// one transaction.
func (b *BoltDB) UpdateReceipt(id string, update Update) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}

		if update.Status != nil {
			receipt.Status = *update.Status
		}
		if update.StoreName != nil {
			receipt.StoreName = *update.StoreName
		}
		if update.PurchaseDate != nil {
			receipt.PurchaseDate = *update.PurchaseDate
		}
		if update.TotalAmount != nil {
			receipt.TotalAmount = *update.TotalAmount
		}
		if update.RawText != nil {
			receipt.RawText = *update.RawText
		}
		if update.OcrConfidence != nil {
			receipt.OcrConfidence = *update.OcrConfidence
		}
		if update.ProcessingTimeMs != nil {
			receipt.ProcessingTimeMs = *update.ProcessingTimeMs
		}
		if update.FailedReason != nil {
			receipt.FailedReason = *update.FailedReason
		}
		receipt.UpdatedAt = time.Now()

		updated, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ReplaceItems stores the receipt's line items as one ordered record.
func (b *BoltDB) ReplaceItems(id string, items []Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemsBucket))
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshaling items: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
}

// GetItems returns the receipt's line items in stored order.
func (b *BoltDB) GetItems(id string) ([]Item, error) {
	items := make([]Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(itemsBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &items)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
