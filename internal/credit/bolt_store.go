package credit

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const debitBucketName = "credit_debits"

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(debitBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// RecordDebit durably records a confirmed reservation
func (b *BoltStore) RecordDebit(reservation *Reservation) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(debitBucketName))
		data, err := json.Marshal(reservation)
		if err != nil {
			return fmt.Errorf("marshaling reservation: %w", err)
		}
		return bucket.Put([]byte(reservation.ID), data)
	})
}

// ListDebits returns all durably recorded debits
func (b *BoltStore) ListDebits() ([]*Reservation, error) {
	var debits []*Reservation
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(debitBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var reservation Reservation
			if err := json.Unmarshal(v, &reservation); err != nil {
				return fmt.Errorf("unmarshaling reservation: %w", err)
			}
			debits = append(debits, &reservation)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return debits, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
