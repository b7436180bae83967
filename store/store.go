// Package store persists finished call transcripts in a local BadgerDB.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const callPrefix = "call/"

// Call is one recorded call: its identifier, when it started, and the
// reconciled transcript lines at the moment it ended.
type Call struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Lines     []string  `json:"lines"`
}

// Options configures the history store.
type Options struct {
	// Dir is the directory for the database files. Required unless
	// InMemory is set.
	Dir string

	// InMemory keeps the database in memory only. Used in tests.
	InMemory bool
}

// Store is a call-history store backed by BadgerDB v4.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the history database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveCall records one finished call. Keys embed the start time so an
// iteration in key order is an iteration in chronological order.
func (s *Store) SaveCall(id string, startedAt time.Time, lines []string) error {
	val, err := json.Marshal(Call{ID: id, StartedAt: startedAt, Lines: lines})
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}
	key := callKey(id, startedAt)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// Recent returns up to n calls, newest first. n <= 0 returns all.
func (s *Store) Recent(n int) ([]Call, error) {
	var calls []Call
	prefix := []byte(callPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// In reverse mode the seek key must sort after every call key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if n > 0 && len(calls) >= n {
				break
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var c Call
			if err := json.Unmarshal(val, &c); err != nil {
				slog.Warn("skipping undecodable call record", "key", string(it.Item().Key()), "error", err)
				continue
			}
			calls = append(calls, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return calls, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func callKey(id string, startedAt time.Time) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", callPrefix, startedAt.UnixNano(), id)
}

// slogLogger adapts badger's logger interface to slog, dropping its
// chatty info and debug output.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...interface{}) {
	slog.Error("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Warningf(f string, v ...interface{}) {
	slog.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Infof(string, ...interface{})  {}
func (slogLogger) Debugf(string, ...interface{}) {}
