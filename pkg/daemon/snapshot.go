package daemon

import (
	"errors"

	"github.com/jamesainslie/qtune/pkg/daemon/store"
	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// SaveSnapshot stores a snapshot of the document at path unless the latest
// snapshot for that path has the same content digest. It returns the new
// snapshot id, or "" when nothing was stored. Callers sharing a store
// serialize calls for the same path.
func SaveSnapshot(st *store.Store, path string, data []byte, report *validate.Report) (string, error) {
	latest, err := st.Latest(path)
	switch {
	case err == nil && latest.SHA256 == report.SHA256:
		return "", nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	snap := NewSnapshot(path, data, report)
	if err := st.Put(snap); err != nil {
		return "", err
	}
	logger.Debug("stored snapshot", "path", path, "id", snap.ID, "valid", snap.Valid)
	return snap.ID, nil
}

// NewSnapshot builds an unsaved snapshot from a document and its report.
// Effective is left empty when the document does not parse.
func NewSnapshot(path string, data []byte, report *validate.Report) *store.Snapshot {
	snap := &store.Snapshot{
		Path:     path,
		SHA256:   report.SHA256,
		Valid:    report.Valid(),
		Errors:   report.Count(validate.SeverityError),
		Warnings: report.Count(validate.SeverityWarning),
	}
	if effective, err := EffectiveYAML(data); err == nil {
		snap.Effective = string(effective)
	}
	return snap
}

// EffectiveYAML renders the normalized configuration with defaults applied.
func EffectiveYAML(data []byte) ([]byte, error) {
	doc, err := loader.Parse(data)
	if err != nil {
		return nil, err
	}
	return loader.Marshal(loader.Normalize(doc.Effective()))
}
