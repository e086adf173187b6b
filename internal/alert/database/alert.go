package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/database"
	bolt "go.etcd.io/bbolt"
)

const (
	activeBucket  = "alert:active:"
	historyBucket = "alert:history:"
)

type FilterFn func(alert model.Alert) bool

func New(db *database.DB) *DB {
	return &DB{sDB: db}
}

type DB struct {
	sDB *database.DB
}

func (db *DB) StoreActive(_ context.Context, alert model.Alert) error {
	bytes, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(activeBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put([]byte(alert.ID), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// Resolve stamps the alert and moves it from the active bucket to the
// historical one inside a single transaction.
func (db *DB) Resolve(_ context.Context, alert model.Alert, resolvedAt time.Time) error {
	alert.Resolved = true
	alert.ResolvedAt = &resolvedAt
	bytes, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		if active := tx.Bucket([]byte(activeBucket)); active != nil {
			if err := active.Delete([]byte(alert.ID)); err != nil {
				return fmt.Errorf("unable delete: %w", err)
			}
		}
		history, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := history.Put([]byte(alert.ID), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (db *DB) FindActive(_ context.Context, filter FilterFn) ([]model.Alert, error) {
	return db.find(activeBucket, filter)
}

func (db *DB) FindHistory(_ context.Context, filter FilterFn) ([]model.Alert, error) {
	return db.find(historyBucket, filter)
}

// FindByID looks an alert up in the active set first, then history.
func (db *DB) FindByID(_ context.Context, alertID string) (*model.Alert, error) {
	var found *model.Alert
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		for _, name := range []string{activeBucket, historyBucket} {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			v := b.Get([]byte(alertID))
			if v == nil {
				continue
			}
			var alert model.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			found = &alert
			return nil
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return found, nil
}

func (db *DB) find(bucket string, filter FilterFn) ([]model.Alert, error) {
	var list []model.Alert
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var alert model.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			if filter == nil || filter(alert) {
				list = append(list, alert)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return list, nil
}
