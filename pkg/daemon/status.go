package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Startup states written to the status file.
const (
	StateReady = "ready"
	StateError = "error"
)

// StatusFile tells a starting client whether qtuned came up.
type StatusFile struct {
	State  string    `json:"status"`
	PID    int       `json:"pid,omitempty"`
	Socket string    `json:"socket,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Ready reports whether the daemon finished starting.
func (s *StatusFile) Ready() bool {
	return s.State == StateReady
}

// WriteStatusReady records a successful start on socket.
func WriteStatusReady(path, socket string) error {
	return writeStatus(path, &StatusFile{
		State:  StateReady,
		PID:    os.Getpid(),
		Socket: socket,
		Time:   time.Now().UTC(),
	})
}

// WriteStatusError records a failed start.
func WriteStatusError(path string, cause error) error {
	return writeStatus(path, &StatusFile{
		State: StateError,
		Error: cause.Error(),
		Time:  time.Now().UTC(),
	})
}

func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("invalid status file %s: %w", path, err)
	}
	return &status, nil
}

// RemoveStatus removes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StatusPath returns the status file that sits next to socketPath:
// qtuned.sock becomes qtuned.status.
func StatusPath(socketPath string) string {
	return strings.TrimSuffix(socketPath, ".sock") + ".status"
}
