package store

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
)

// PutWithoutIndex writes snap the way a version 1 database stored it.
func (s *Store) PutWithoutIndex(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.ID), data)
	})
}
