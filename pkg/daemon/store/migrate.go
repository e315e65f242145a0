package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// MigrationProgress reports how far a migration got.
type MigrationProgress struct {
	FromVersion int
	ToVersion   int
	Total       int64
	Done        int64
	CurrentPath string
}

// MigrationProgressFunc receives progress updates.
type MigrationProgressFunc func(MigrationProgress)

// progressEvery is how many snapshots pass between progress callbacks.
const progressEvery = 1000

// Migrate brings the database to CurrentSchemaVersion and returns the
// number of migrations run. A new, empty database is stamped with the
// current version without running any.
func (s *Store) Migrate(ctx context.Context, onProgress MigrationProgressFunc) (int, error) {
	from := 0
	if schema := s.GetSchema(); schema != nil {
		from = schema.Version
	} else if s.hasSnapshots() {
		from = 1
	}

	if from == 0 {
		return 0, s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
	}
	if from >= CurrentSchemaVersion {
		return 0, nil
	}

	run := 0
	for version := from + 1; version <= CurrentSchemaVersion; version++ {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		var err error
		switch version {
		case 2:
			err = s.migrateToV2(ctx, onProgress)
		}
		if err != nil {
			return run, err
		}

		if err := s.SetSchema(&Schema{Version: version, UpdatedAt: time.Now()}); err != nil {
			return run, err
		}
		run++
	}
	return run, nil
}

// migrateToV2 builds the per-path index from the stored snapshots.
func (s *Store) migrateToV2(ctx context.Context, onProgress MigrationProgressFunc) error {
	var total int64
	if onProgress != nil {
		n, err := s.Count()
		if err != nil {
			return err
		}
		total = int64(n)
	}

	var snaps []*Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixSnapshot)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var snap Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					return nil //nolint:nilerr // malformed values are skipped
				}
				snaps = append(snaps, &snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, snap := range snaps {
		if snap.Path == "" {
			continue
		}
		if err := wb.Set(pathKey(snap.Path, snap.Created), []byte(snap.ID)); err != nil {
			return err
		}
		done := int64(i + 1)
		if onProgress != nil && done%progressEvery == 0 {
			onProgress(MigrationProgress{FromVersion: 1, ToVersion: 2, Total: total, Done: done, CurrentPath: snap.Path})
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	if onProgress != nil {
		onProgress(MigrationProgress{FromVersion: 1, ToVersion: 2, Total: total, Done: int64(len(snaps))})
	}
	return nil
}
