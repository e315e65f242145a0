package store

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - snapshots only
// 2 - adds the per-path index (p:)
const CurrentSchemaVersion = 2

const schemaKey = prefixMeta + "__schema__"

// Schema records the layout version of the database.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the stored schema, or nil when none is recorded.
func (s *Store) GetSchema() *Schema {
	var schema *Schema

	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

// SetSchema records schema.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// NeedsMigration reports whether Migrate has work to do. A database without
// a schema key but with snapshots is a version 1 database.
func (s *Store) NeedsMigration() bool {
	schema := s.GetSchema()
	if schema == nil {
		return s.hasSnapshots()
	}
	return schema.Version < CurrentSchemaVersion
}

func (s *Store) hasSnapshots() bool {
	n, err := s.Count()
	return err == nil && n > 0
}
