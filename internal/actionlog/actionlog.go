package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketActions = []byte("actions")

// Action types written by the engine
const (
	ActionVariantsGenerated     = "variants_generated"
	ActionMonitoringStarted     = "monitoring_started"
	ActionMonitoringStopped     = "monitoring_stopped"
	ActionAlert                 = "performance_alert"
	ActionWinnerSelected        = "winner_selected"
	ActionOptimizationGenerated = "optimization_generated"
)

// Entry statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is an audit record of an automated or administrative action
type Entry struct {
	ID          string         `json:"id"`
	SalonID     string         `json:"salon_id"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	TriggeredBy string         `json:"triggered_by"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink receives audit entries
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// ListFilter contains filters for listing entries
type ListFilter struct {
	SalonID    string
	ActionType string
	Limit      int
	Offset     int
}

// BoltLog stores entries in BoltDB keyed by creation time
type BoltLog struct {
	db *bolt.DB
}

// Open opens (or creates) the action log database at path
func Open(path string) (*BoltLog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create actionlog directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open actionlog database: %w", err)
	}

	log, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

// New creates an action log on an already opened BoltDB instance
func New(db *bolt.DB) (*BoltLog, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketActions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create actions bucket: %w", err)
	}

	return &BoltLog{db: db}, nil
}

// DB returns the underlying BoltDB handle
func (l *BoltLog) DB() *bolt.DB {
	return l.db
}

// Close closes the underlying database
func (l *BoltLog) Close() error {
	return l.db.Close()
}

// Record stores an entry, filling in ID, status and timestamp when empty
func (l *BoltLog) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = StatusCompleted
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).Put(makeIndexKey(entry.CreatedAt, entry.ID), data)
	})
}

// List returns entries matching the filter, newest first
func (l *BoltLog) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var entries []*Entry

	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketActions).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}

			if filter.SalonID != "" && e.SalonID != filter.SalonID {
				continue
			}
			if filter.ActionType != "" && e.ActionType != filter.ActionType {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			entries = append(entries, &e)
			if filter.Limit > 0 && len(entries) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// Prune deletes entries created before cutoff and returns how many were removed
func (l *BoltLog) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	limit := makeIndexKey(cutoff, "")

	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActions)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(limit) {
				break
			}
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// fixed-width UTC timestamp so keys sort chronologically
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(keyTimeLayout) + ":" + id)
}

// Nop discards every entry
type Nop struct{}

// Record implements Sink
func (Nop) Record(context.Context, Entry) error { return nil }
