package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/metric/model"
	bolt "go.etcd.io/bbolt"
)

const (
	seriesKeys      = "snapshot:keys:"
	seriesPrefix    = "snapshot:"
	perfPrefix      = "performance:"
	dashboardBucket = "dashboard:"
)

type FilterFn func(snapshot model.Snapshot) bool

func New(db *database.DB) *DB {
	return &DB{sDB: db}
}

type DB struct {
	sDB *database.DB
}

func seriesBucket(metricType model.Type, unitID string) string {
	return seriesPrefix + string(metricType) + ":" + unitID
}

// tsKey produces keys that sort by creation time under a bolt cursor.
func tsKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", t.UnixNano(), id))
}

func tsPrefix(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}

func (db *DB) Keys() ([]string, error) {
	var bucketKeys []string
	err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seriesKeys))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			bucketKeys = append(bucketKeys, string(k))
		}
		return nil
	})

	return bucketKeys, err
}

func (db *DB) AppendMany(_ context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := db.sDB.DB.Batch(func(tx *bolt.Tx) error {
		for _, snapshot := range snapshots {
			name := seriesBucket(snapshot.MetricType, snapshot.UnitID)
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("create bucket: %w", err)
			}
			bytes, err := json.Marshal(snapshot)
			if err != nil {
				return err
			}
			if err := b.Put(tsKey(snapshot.CreatedAt, snapshot.ID.String()), bytes); err != nil {
				return fmt.Errorf("put to bucket error: %w", err)
			}
			keys, err := tx.CreateBucketIfNotExists([]byte(seriesKeys))
			if err != nil {
				return fmt.Errorf("unable create series keys bucket: %w", err)
			}
			if err := keys.Put([]byte(name), []byte{0x0}); err != nil {
				return fmt.Errorf("unable put to series keys bucket: %w", err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}

	return nil
}

// FindSince returns snapshots for one series created at or after since,
// oldest first.
func (db *DB) FindSince(_ context.Context, metricType model.Type, unitID string, since time.Time) ([]model.Snapshot, error) {
	var list []model.Snapshot
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seriesBucket(metricType, unitID)))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(tsPrefix(since)); k != nil; k, v = c.Next() {
			var snapshot model.Snapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			list = append(list, snapshot)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}

	return list, nil
}

// DeleteOutdated drops snapshot rows older than the cutoff from every
// series.
func (db *DB) DeleteOutdated(_ context.Context, olderThan time.Time) error {
	keys, err := db.Keys()
	if err != nil {
		return fmt.Errorf("unable to fetch series keys: %v", err)
	}
	cutoff := tsPrefix(olderThan)
	if err := db.sDB.DB.Batch(func(tx *bolt.Tx) error {
		for _, key := range keys {
			b := tx.Bucket([]byte(key))
			if b == nil {
				continue
			}
			c := b.Cursor()
			var outdated [][]byte
			for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
				outdated = append(outdated, append([]byte(nil), k...))
			}
			for _, k := range outdated {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("unable delete: %w", err)
				}
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (db *DB) AppendPerformance(_ context.Context, performance model.Performance) error {
	bytes, err := json.Marshal(performance)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(perfPrefix + performance.UnitID))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put(tsKey(performance.CreatedAt, performance.ID.String()), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// FindPerformanceByUnit returns up to limit most recent performance
// rows for the unit, newest first.
func (db *DB) FindPerformanceByUnit(_ context.Context, unitID string, limit int) ([]model.Performance, error) {
	var list []model.Performance
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(perfPrefix + unitID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(list) >= limit {
				break
			}
			var performance model.Performance
			if err := json.Unmarshal(v, &performance); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			list = append(list, performance)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return list, nil
}

func (db *DB) StoreDashboard(_ context.Context, dashboard model.Dashboard) error {
	bytes, err := json.Marshal(dashboard)
	if err != nil {
		return err
	}
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(dashboardBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put(tsKey(dashboard.CreatedAt, "dashboard"), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (db *DB) LatestDashboard(_ context.Context) (*model.Dashboard, error) {
	var dashboard *model.Dashboard
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dashboardBucket))
		if b == nil {
			return nil
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return nil
		}
		var d model.Dashboard
		if err := json.Unmarshal(v, &d); err != nil {
			return fmt.Errorf("json unmarshal error, %q", err)
		}
		dashboard = &d
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return dashboard, nil
}
