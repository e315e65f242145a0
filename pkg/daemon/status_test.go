package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/qtune/pkg/daemon"
)

func TestStatusPath(t *testing.T) {
	tests := map[string]string{
		"/run/qtune/qtuned.sock": "/run/qtune/qtuned.status",
		"/tmp/custom":            "/tmp/custom.status",
	}
	for socket, want := range tests {
		if got := daemon.StatusPath(socket); got != want {
			t.Errorf("StatusPath(%q) = %q, want %q", socket, got, want)
		}
	}
}

func TestWriteStatusReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtuned.status")

	if err := daemon.WriteStatusReady(path, "/tmp/qtuned.sock"); err != nil {
		t.Fatalf("WriteStatusReady failed: %v", err)
	}
	status, err := daemon.ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if !status.Ready() {
		t.Errorf("expected ready, got %q", status.State)
	}
	if status.PID != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), status.PID)
	}
	if status.Socket != "/tmp/qtuned.sock" {
		t.Errorf("unexpected socket %q", status.Socket)
	}
	if status.Time.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestWriteStatusError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtuned.status")

	if err := daemon.WriteStatusError(path, errors.New("store locked")); err != nil {
		t.Fatalf("WriteStatusError failed: %v", err)
	}
	status, err := daemon.ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if status.Ready() || status.State != daemon.StateError {
		t.Errorf("expected error state, got %q", status.State)
	}
	if status.Error != "store locked" {
		t.Errorf("unexpected error %q", status.Error)
	}
	if status.PID != 0 {
		t.Errorf("error status should not carry a PID, got %d", status.PID)
	}
}

func TestReadStatusInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtuned.status")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemon.ReadStatus(path); err == nil {
		t.Error("expected an error for malformed JSON")
	}
	if _, err := daemon.ReadStatus(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestRemoveStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtuned.status")
	if err := daemon.WriteStatusReady(path, ""); err != nil {
		t.Fatal(err)
	}
	if err := daemon.RemoveStatus(path); err != nil {
		t.Fatalf("RemoveStatus failed: %v", err)
	}
	if err := daemon.RemoveStatus(path); err != nil {
		t.Errorf("removing a missing status file should succeed, got %v", err)
	}
}
