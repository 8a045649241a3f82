// Package store persists the set of files the monitor has already reported,
// so a restart does not announce the whole download tree as new.
package store

import (
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Key prefixes for different data types
const (
	prefixSeen = "s:" // Seen files: s:<rel path> -> size, mtime
	prefixMeta = "m:" // Metadata
)

const primedKey = prefixMeta + "primed"

// Store is the seen-file index backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Primed reports whether Replace has run at least once.
func (s *Store) Primed() bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(primedKey))
		return err
	})
	return err == nil
}

// Seen returns every recorded file keyed by relative path.
func (s *Store) Seen() (map[string]types.FileEntry, error) {
	seen := make(map[string]types.FileEntry)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSeen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			path := string(item.Key()[len(prefixSeen):])

			err := item.Value(func(val []byte) error {
				seen[path] = decodeEntry(path, val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return seen, err
}

// Count returns the number of recorded files.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSeen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Diff returns the entries of current that are not recorded, sorted by path.
func (s *Store) Diff(current []types.FileEntry) ([]types.FileEntry, error) {
	seen, err := s.Seen()
	if err != nil {
		return nil, err
	}

	added := []types.FileEntry{}
	for _, e := range current {
		if _, ok := seen[e.Path]; !ok {
			added = append(added, e)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })
	return added, nil
}

// Replace makes entries the recorded set: paths no longer present are
// dropped and the store is marked primed.
func (s *Store) Replace(entries []types.FileEntry) error {
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keep[e.Path] = struct{}{}
	}

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSeen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := keep[string(key[len(prefixSeen):])]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := wb.Set([]byte(prefixSeen+e.Path), encodeEntry(e)); err != nil {
			return err
		}
	}

	stamp := make([]byte, 8)
	binary.BigEndian.PutUint64(stamp, uint64(time.Now().Unix()))
	if err := wb.Set([]byte(primedKey), stamp); err != nil {
		return err
	}

	return wb.Flush()
}

// Reset drops every recorded file and the primed marker.
func (s *Store) Reset() error {
	err := s.db.DropPrefix([]byte(prefixSeen))
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(primedKey))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// encodeEntry packs size and mtime (unix nanoseconds) into 16 bytes.
func encodeEntry(e types.FileEntry) []byte {
	val := make([]byte, 16)
	binary.BigEndian.PutUint64(val[0:8], uint64(e.Size))
	binary.BigEndian.PutUint64(val[8:16], uint64(e.ModTime.UnixNano()))
	return val
}

func decodeEntry(path string, val []byte) types.FileEntry {
	e := types.FileEntry{Path: path}
	if len(val) < 16 {
		return e
	}
	e.Size = int64(binary.BigEndian.Uint64(val[0:8]))
	e.ModTime = time.Unix(0, int64(binary.BigEndian.Uint64(val[8:16])))
	return e
}
