// Package store keeps validated configuration snapshots in a Badger
// database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes.
const (
	prefixSnapshot = "s:" // s:<id> -> Snapshot JSON
	prefixPath     = "p:" // p:<path>\x00<created> -> id
	prefixMeta     = "m:" // metadata such as the schema version
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the effective configuration of a document at one point in
// time together with its validation outcome.
type Snapshot struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Created   time.Time `json:"created"`
	Effective string    `json:"effective"`
	Valid     bool      `json:"valid"`
	Errors    int       `json:"errors"`
	Warnings  int       `json:"warnings"`
}

// Store is the snapshot database.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func snapshotKey(id string) []byte {
	return []byte(prefixSnapshot + id)
}

// pathKey orders a path's snapshots by creation time. The timestamp is
// zero-padded so lexical order matches chronological order.
func pathKey(path string, created time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d", prefixPath, path, created.UnixNano()))
}

func pathPrefix(path string) []byte {
	return []byte(prefixPath + path + "\x00")
}

// Put stores snap, assigning an id and creation time when unset.
func (s *Store) Put(snap *Snapshot) error {
	if snap.Path == "" {
		return errors.New("snapshot path cannot be empty")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Created.IsZero() {
		snap.Created = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(snap.ID), data); err != nil {
			return err
		}
		return txn.Set(pathKey(snap.Path, snap.Created), []byte(snap.ID))
	})
}

// Get returns the snapshot with id.
func (s *Store) Get(id string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		snap, err = get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func get(txn *badger.Txn, id string) (*Snapshot, error) {
	item, err := txn.Get(snapshotKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	}); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns snapshots newest first. A limit of zero or less returns all.
func (s *Store) List(limit int) ([]*Snapshot, error) {
	var results []*Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixSnapshot)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					return nil //nolint:nilerr // malformed values are skipped
				}
				results = append(results, &snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListByPath returns the snapshots of path, newest first.
func (s *Store) ListByPath(path string) ([]*Snapshot, error) {
	var results []*Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := pathIDs(txn, path)
		if err != nil {
			return err
		}
		for _, id := range ids {
			snap, err := get(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(results)
	return results, nil
}

// pathIDs returns the ids indexed under path, oldest first.
func pathIDs(txn *badger.Txn, path string) ([]string, error) {
	var ids []string

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := pathPrefix(path)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Latest returns the newest snapshot of path.
func (s *Store) Latest(path string) (*Snapshot, error) {
	snaps, err := s.ListByPath(path)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: no snapshot of %s", ErrNotFound, path)
	}
	return snaps[0], nil
}

// Delete removes the snapshot with id and its index entry.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		snap, err := get(txn, id)
		if err != nil {
			return err
		}
		return deleteSnapshot(txn, snap)
	})
}

func deleteSnapshot(txn *badger.Txn, snap *Snapshot) error {
	if err := txn.Delete(snapshotKey(snap.ID)); err != nil {
		return err
	}
	return txn.Delete(pathKey(snap.Path, snap.Created))
}

// Prune keeps the newest keep snapshots of every path and deletes the rest.
// It returns the number of snapshots removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}

	all, err := s.List(0)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]int)
	var doomed []*Snapshot
	for _, snap := range all {
		seen[snap.Path]++
		if seen[snap.Path] > keep {
			doomed = append(doomed, snap)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, snap := range doomed {
			if err := deleteSnapshot(txn, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSnapshot)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Paths returns every path with at least one snapshot, sorted.
func (s *Store) Paths() ([]string, error) {
	all, err := s.List(0)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, snap := range all {
		set[snap.Path] = struct{}{}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func sortNewestFirst(snaps []*Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Created.After(snaps[j].Created)
	})
}
