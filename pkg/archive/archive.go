// Package archive persists analysis snapshots so past query results can be
// listed and re-fetched. The analysis engine itself is purely in-memory;
// this store is the optional collaborator that outlives a session.
package archive

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"loglens/pkg/record"
	"loglens/pkg/stats"
)

const snapPrefix = "snap:"

// ErrNotFound is returned when no snapshot has the requested ID.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one archived analysis: the filtered records together with the
// query that produced them and their statistics.
type Snapshot struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Source    string           `json:"source"`
	Query     string           `json:"query,omitempty"`
	Records   []record.Record  `json:"records"`
	Stats     stats.Statistics `json:"stats"`
}

// Summary describes a snapshot without its record payload, for listings.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"`
	Query       string    `json:"query,omitempty"`
	RecordCount int       `json:"record_count"`
}

// Config holds store configuration.
type Config struct {
	DBPath        string
	RetentionDays int   // snapshots older than this are pruned; 0 disables
	RetentionSize int64 // prune oldest when the db exceeds this many bytes; 0 disables
}

// Store is a badger-backed snapshot archive.
type Store struct {
	db            *badger.DB
	retentionDays int
	retentionSize int64
}

// Open opens (creating if needed) the archive at cfg.DBPath and enforces
// the retention policy once.
func Open(cfg Config) (*Store, error) {
	dbPath := expandPath(cfg.DBPath)
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening archive db: %w", err)
	}

	s := &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
		retentionSize: cfg.RetentionSize,
	}
	if err := s.Prune(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pruning archive: %w", err)
	}
	return s, nil
}

// Save stores a snapshot, assigning its ID and creation time.
func (s *Store) Save(snap *Snapshot) error {
	snap.ID = newID()
	snap.CreatedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	key := fmt.Sprintf("%s%d:%s", snapPrefix, snap.CreatedAt.UnixNano(), snap.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot with the given ID, or ErrNotFound.
func (s *Store) Get(id string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := s.findKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap = &Snapshot{}
			return json.Unmarshal(val, snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns snapshot summaries, newest first.
func (s *Store) List() ([]Summary, error) {
	var summaries []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapPrefix)
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					return nil // skip unreadable entries
				}
				summaries = append(summaries, Summary{
					ID:          snap.ID,
					Name:        snap.Name,
					CreatedAt:   snap.CreatedAt,
					Source:      snap.Source,
					Query:       snap.Query,
					RecordCount: len(snap.Records),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return summaries, err
}

// Delete removes the snapshot with the given ID, or returns ErrNotFound.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := s.findKey(txn, id)
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// Prune enforces the retention policy: first drops snapshots past the age
// limit, then drops oldest snapshots while the db exceeds the size limit.
func (s *Store) Prune() error {
	if s.retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UnixNano()
		if err := s.deleteWhere(func(createdAt int64) bool {
			return createdAt < cutoff
		}); err != nil {
			return err
		}
	}

	if s.retentionSize > 0 {
		lsm, vlog := s.db.Size()
		excess := lsm + vlog - s.retentionSize
		if excess > 0 {
			return s.deleteOldest(excess)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// findKey locates the full key for a snapshot ID. Keys embed the creation
// timestamp, so lookup by bare ID is a prefix scan.
func (s *Store) findKey(txn *badger.Txn, id string) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(snapPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if strings.HasSuffix(string(key), ":"+id) {
			return it.Item().KeyCopy(nil), nil
		}
	}
	return nil, ErrNotFound
}

// deleteWhere removes snapshots whose creation time satisfies drop.
func (s *Store) deleteWhere(drop func(createdAt int64) bool) error {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if drop(keyCreatedAt(key)) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteOldest removes oldest snapshots until approximately targetBytes of
// stored data has been reclaimed.
func (s *Store) deleteOldest(targetBytes int64) error {
	var keys [][]byte
	var reclaimed int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
			reclaimed += it.Item().EstimatedSize()
			if reclaimed >= targetBytes {
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// keyCreatedAt extracts the creation timestamp embedded in a snapshot key,
// snap:{unixnano}:{id}.
func keyCreatedAt(key []byte) int64 {
	rest := strings.TrimPrefix(string(key), snapPrefix)
	parts := strings.SplitN(rest, ":", 2)
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// newID creates a random snapshot ID.
func newID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
