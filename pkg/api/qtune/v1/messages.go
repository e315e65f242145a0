// Package qtunev1 defines the qtuned gRPC API.
//
// Requests and responses travel as protobuf well-known types. Structured
// payloads are google.protobuf.Struct values whose fields follow the json
// tags of the Go types in this file; ToStruct and FromStruct convert
// between the two.
package qtunev1

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// ValidateResponse is the result of the Validate RPC.
type ValidateResponse struct {
	Report     *validate.Report `json:"report"`
	Size       int64            `json:"size"`
	SnapshotID string           `json:"snapshot_id,omitempty"`
}

// Event types carried by WatchEvent.
const (
	EventValidated = "validated"
	EventRemoved   = "removed"
)

// WatchEvent is one message of the Watch stream.
type WatchEvent struct {
	Type       string           `json:"type"`
	Path       string           `json:"path"`
	Time       time.Time        `json:"time"`
	Report     *validate.Report `json:"report,omitempty"`
	SnapshotID string           `json:"snapshot_id,omitempty"`
}

// DaemonStatus is the result of the Status RPC.
type DaemonStatus struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	MemoryBytes   int64     `json:"memory_bytes"`
	WatchedPaths  []string  `json:"watched_paths"`
	Snapshots     int       `json:"snapshots"`
	Subscribers   int       `json:"subscribers"`
	Validations   int64     `json:"validations"`
}

// ListSnapshotsRequest selects snapshots. ID selects one snapshot; an empty
// Path lists all. Effective is only filled in when IncludeEffective is set.
type ListSnapshotsRequest struct {
	ID               string `json:"id,omitempty"`
	Path             string `json:"path,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	IncludeEffective bool   `json:"include_effective,omitempty"`
}

// Snapshot describes a stored snapshot.
type Snapshot struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Created   time.Time `json:"created"`
	Valid     bool      `json:"valid"`
	Errors    int       `json:"errors"`
	Warnings  int       `json:"warnings"`
	Effective string    `json:"effective,omitempty"`
}

// ListSnapshotsResponse is the result of the ListSnapshots RPC.
type ListSnapshotsResponse struct {
	Snapshots []Snapshot `json:"snapshots"`
}

// ToStruct converts v, a value with json tags, to a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encoding %T: not an object: %w", v, err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes s into out, a pointer to one of the message types.
func FromStruct(s *structpb.Struct, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(s.AsMap()); err != nil {
		return fmt.Errorf("decoding %T: %w", out, err)
	}
	return nil
}
