package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// Status says whether a receipt made it to the sink
type Status string

const (
	Accepted Status = "accepted"
	Rejected Status = "rejected"
)

// ErrNotFound is returned when no entry has the requested ID
var ErrNotFound = errors.New("journal entry not found")

// Entry records the outcome of one submitted receipt. Image bytes are never stored.
type Entry struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	Filename   string          `json:"filename,omitempty"`
	Status     Status          `json:"status"`
	Record     *receipt.Record `json:"record,omitempty"`
	Sheet      string          `json:"sheet,omitempty"`
	Rows       int             `json:"rows,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message"`
	// RawResponse is the model's unmodified answer, kept for rejections
	RawResponse string `json:"raw_response,omitempty"`
}

// Store defines the journal operations
type Store interface {
	// Save writes an entry under its ID and status
	Save(entry *Entry) error

	// Get retrieves an entry by ID
	Get(id string) (*Entry, error)

	// List returns all entries with the given status, oldest first
	List(status Status) ([]*Entry, error)

	// Close closes the journal
	Close() error
}

// BoltDB implements the Store interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the journal at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, status := range []Status{Accepted, Rejected} {
			if _, err := tx.CreateBucketIfNotExists([]byte(status)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Save writes an entry to the bucket for its status
func (b *BoltDB) Save(entry *Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("journal entry has no id")
	}
	bucketName, err := bucketFor(entry.Status)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return tx.Bucket(bucketName).Put([]byte(entry.ID), data)
	})
}

// Get retrieves an entry by ID from either bucket
func (b *BoltDB) Get(id string) (*Entry, error) {
	var entry *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		for _, status := range []Status{Accepted, Rejected} {
			data := tx.Bucket([]byte(status)).Get([]byte(id))
			if data == nil {
				continue
			}
			return json.Unmarshal(data, &entry)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns every entry with status, oldest first
func (b *BoltDB) List(status Status) ([]*Entry, error) {
	bucketName, err := bucketFor(status)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0)
	err = b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ReceivedAt.Before(entries[j].ReceivedAt)
	})
	return entries, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func bucketFor(status Status) ([]byte, error) {
	switch status {
	case Accepted, Rejected:
		return []byte(status), nil
	default:
		return nil, fmt.Errorf("unknown journal status %q", status)
	}
}
