package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/log"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEvents = []byte("events")
)

// DefaultJournalLimit caps how many events the journal retains
const DefaultJournalLimit = 1000

// Journal persists failover events in a local BoltDB file
type Journal struct {
	db    *bolt.DB
	limit int
}

// OpenJournal opens or creates the journal in dataDir
func OpenJournal(dataDir string, limit int) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if limit <= 0 {
		limit = DefaultJournalLimit
	}

	dbPath := filepath.Join(dataDir, "rookery.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEvents, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, limit: limit}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores an event, dropping the oldest ones beyond the limit
func (j *Journal) Append(event *events.Event) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		c := b.Cursor()
		excess := -j.limit
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			excess++
		}
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// List returns up to limit of the most recent events, oldest first.
// A limit of zero returns everything retained.
func (j *Journal) List(limit int) ([]*events.Event, error) {
	var result []*events.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(result) >= limit {
				break
			}
			var event events.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			result = append(result, &event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(result)-1; i < k; i, k = i+1, k-1 {
		result[i], result[k] = result[k], result[i]
	}
	return result, nil
}

// Record appends every event received on sub until it is closed
func (j *Journal) Record(sub events.Subscriber) {
	for event := range sub {
		if err := j.Append(event); err != nil {
			log.Logger.Error().
				Str("component", "journal").
				Str("event", string(event.Type)).
				Err(err).
				Msg("Failed to persist event")
		}
	}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
