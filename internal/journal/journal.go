// Package journal keeps an append-only, on-disk log of emitted watch events
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// BucketEvents stores journaled events keyed by time
const BucketEvents = "events"

// Journal manages the BoltDB file events are appended to
type Journal struct {
	db      *bolt.DB
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	isOpen  bool
	options *Options
}

// Options represents journal options
type Options struct {
	Path     string        `json:"path"`
	FileMode uint32        `json:"file_mode"`
	Timeout  time.Duration `json:"timeout"`
	ReadOnly bool          `json:"read_only"`
	NoSync   bool          `json:"no_sync"`
	Logger   *zap.Logger   `json:"-"`
}

// DefaultOptions returns default journal options
func DefaultOptions() *Options {
	home, _ := os.UserHomeDir()
	return &Options{
		Path:     filepath.Join(home, ".pulsewatch", "journal.db"),
		FileMode: 0600,
		Timeout:  1 * time.Second,
	}
}

// Query selects journaled events
type Query struct {
	Since time.Time          // Zero means from the beginning
	Types []models.EventType // Empty means every type
	Limit int                // Keep only the most recent Limit matches; zero means all
}

// Summary describes the journal contents
type Summary struct {
	Total  int                      `json:"total" yaml:"total"`
	ByType map[models.EventType]int `json:"by_type" yaml:"by_type"`
	First  time.Time                `json:"first,omitempty" yaml:"first,omitempty"`
	Last   time.Time                `json:"last,omitempty" yaml:"last,omitempty"`
}

// New creates a journal; call Open before use
func New(options *Options) *Journal {
	if options == nil {
		options = DefaultOptions()
	}

	log := options.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Journal{
		path:    options.Path,
		logger:  log,
		options: options,
	}
}

// Open opens the journal file, creating it when needed
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isOpen {
		return nil
	}

	if !j.options.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(j.path, os.FileMode(j.options.FileMode), &bolt.Options{
		Timeout:  j.options.Timeout,
		ReadOnly: j.options.ReadOnly,
		NoSync:   j.options.NoSync,
	})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	j.db = db

	if !j.options.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(BucketEvents))
			return err
		})
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to create bucket %s: %w", BucketEvents, err)
		}
	}

	j.isOpen = true
	j.logger.Debug("Journal opened", zap.String("path", j.path))
	return nil
}

// Close closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.isOpen {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}

	j.isOpen = false
	j.logger.Debug("Journal closed", zap.String("path", j.path))
	return nil
}

// IsOpen checks if the journal is open
func (j *Journal) IsOpen() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isOpen
}

// Path returns the journal file location
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) transaction(writable bool, fn func(*bolt.Tx) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.isOpen {
		return fmt.Errorf("journal is not open")
	}
	if writable {
		return j.db.Update(fn)
	}
	return j.db.View(fn)
}

// eventKey orders events by time; the ID keeps equal timestamps apart
func eventKey(event models.Event) []byte {
	key := make([]byte, 8, 8+len(event.ID))
	binary.BigEndian.PutUint64(key, uint64(event.Timestamp.UnixNano()))
	return append(key, event.ID...)
}

func timeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

// Append stores an event
func (j *Journal) Append(event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return j.transaction(true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketEvents))
		if b == nil {
			return fmt.Errorf("bucket %s not found", BucketEvents)
		}
		return b.Put(eventKey(event), data)
	})
}

// List returns the events matching q, oldest first
func (j *Journal) List(q Query) ([]models.Event, error) {
	types := make(map[models.EventType]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}
	var since []byte
	if !q.Since.IsZero() {
		since = timeKey(q.Since)
	}

	var events []models.Event
	err := j.transaction(false, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketEvents))
		if b == nil {
			return nil
		}

		// Walk newest first so a limit stops early
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if since != nil && bytes.Compare(k[:8], since) < 0 {
				break
			}

			var event models.Event
			if err := json.Unmarshal(v, &event); err != nil {
				j.logger.Warn("Skipping unreadable journal entry", zap.Error(err))
				continue
			}
			if len(types) > 0 && !types[event.Type] {
				continue
			}

			events = append(events, event)
			if q.Limit > 0 && len(events) == q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// Count returns the number of journaled events
func (j *Journal) Count() (int, error) {
	count := 0
	err := j.transaction(false, func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(BucketEvents)); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	return count, err
}

// Summary counts events per type and reports the time span they cover
func (j *Journal) Summary() (*Summary, error) {
	summary := &Summary{ByType: make(map[models.EventType]int)}

	err := j.transaction(false, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketEvents))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var event models.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return nil
			}
			summary.Total++
			summary.ByType[event.Type]++
			if summary.First.IsZero() {
				summary.First = event.Timestamp
			}
			summary.Last = event.Timestamp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Clear removes every journaled event
func (j *Journal) Clear() error {
	return j.transaction(true, func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(BucketEvents)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(BucketEvents))
		return err
	})
}

// Backup writes a consistent copy of the journal to path
func (j *Journal) Backup(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	return j.transaction(false, func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}
