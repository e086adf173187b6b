package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/learning/model"
	bolt "go.etcd.io/bbolt"
)

const (
	eventBucketPrefix = "drift:events:"
	flagBucket        = "retrain:flags:"
)

func New(db *database.DB) *DB {
	return &DB{sDB: db}
}

type DB struct {
	sDB *database.DB
}

func eventBucket(unitID string) string {
	return eventBucketPrefix + unitID
}

func tsKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", t.UnixNano(), id))
}

func (db *DB) AppendEvent(_ context.Context, event model.Event) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(eventBucket(event.UnitID)))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put(tsKey(event.CreatedAt, event.ID.String()), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// FindEventsByUnit returns drift events newest first, up to limit;
// limit <= 0 means everything.
func (db *DB) FindEventsByUnit(_ context.Context, unitID string, limit int) ([]model.Event, error) {
	var list []model.Event
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventBucket(unitID)))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var event model.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			list = append(list, event)
			if limit > 0 && len(list) >= limit {
				return nil
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return list, nil
}

func (db *DB) StoreFlag(_ context.Context, flag model.RetrainFlag) error {
	bytes, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(flagBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put([]byte(flag.UnitID), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (db *DB) DeleteFlag(_ context.Context, unitID string) error {
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(flagBucket))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(unitID)); err != nil {
			return fmt.Errorf("unable delete: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (db *DB) FindFlag(_ context.Context, unitID string) (*model.RetrainFlag, error) {
	var found *model.RetrainFlag
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(flagBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(unitID))
		if v == nil {
			return nil
		}
		var flag model.RetrainFlag
		if err := json.Unmarshal(v, &flag); err != nil {
			return fmt.Errorf("json unmarshal error, %q", err)
		}
		found = &flag
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return found, nil
}

func (db *DB) FindFlags(_ context.Context) ([]model.RetrainFlag, error) {
	var list []model.RetrainFlag
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(flagBucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var flag model.RetrainFlag
			if err := json.Unmarshal(v, &flag); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			list = append(list, flag)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return list, nil
}
