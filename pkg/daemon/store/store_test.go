package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/qtune/pkg/daemon/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func put(t *testing.T, s *store.Store, path string, minutes int) *store.Snapshot {
	t.Helper()
	snap := &store.Snapshot{
		Path:      path,
		SHA256:    "sha-" + path,
		Created:   base.Add(time.Duration(minutes) * time.Minute),
		Effective: "framework:\n  name: pytorch\n",
		Valid:     true,
	}
	if err := s.Put(snap); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return snap
}

func TestPutAssignsIDAndTime(t *testing.T) {
	s := openStore(t)

	snap := &store.Snapshot{Path: "/cfg/a.yaml", Valid: false, Errors: 2}
	if err := s.Put(snap); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := uuid.Parse(snap.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", snap.ID, err)
	}
	if snap.Created.IsZero() {
		t.Error("Created not set")
	}

	got, err := s.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Path != snap.Path || got.Errors != 2 || got.Valid {
		t.Errorf("Get = %+v, want %+v", got, snap)
	}
}

func TestPutRequiresPath(t *testing.T) {
	s := openStore(t)
	if err := s.Put(&store.Snapshot{}); err == nil {
		t.Error("Put with empty path succeeded")
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	put(t, s, "/a.yaml", 1)
	put(t, s, "/b.yaml", 3)
	put(t, s, "/a.yaml", 2)

	all, err := s.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d snapshots, want 3", len(all))
	}
	if all[0].Path != "/b.yaml" || !all[1].Created.Equal(base.Add(2*time.Minute)) {
		t.Errorf("unexpected order: %s, %s", all[0].Path, all[1].Created)
	}

	limited, err := s.List(1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(1) returned %d", len(limited))
	}
}

func TestListByPathAndLatest(t *testing.T) {
	s := openStore(t)
	put(t, s, "/a.yaml", 1)
	newest := put(t, s, "/a.yaml", 5)
	put(t, s, "/a.yaml.bak", 9)

	snaps, err := s.ListByPath("/a.yaml")
	if err != nil {
		t.Fatalf("ListByPath failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("ListByPath returned %d, want 2 (prefix sibling excluded)", len(snaps))
	}
	if snaps[0].ID != newest.ID {
		t.Errorf("first = %s, want newest %s", snaps[0].ID, newest.ID)
	}

	latest, err := s.Latest("/a.yaml")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != newest.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, newest.ID)
	}

	if _, err := s.Latest("/none.yaml"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Latest error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	first := put(t, s, "/a.yaml", 1)
	put(t, s, "/a.yaml", 2)

	if err := s.Delete(first.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted snapshot still readable: %v", err)
	}
	snaps, _ := s.ListByPath("/a.yaml")
	if len(snaps) != 1 {
		t.Errorf("ListByPath after delete = %d, want 1", len(snaps))
	}
	if err := s.Delete(first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestPrunePerPath(t *testing.T) {
	s := openStore(t)
	for i := 0; i < 5; i++ {
		put(t, s, "/a.yaml", i)
	}
	put(t, s, "/b.yaml", 0)

	removed, err := s.Prune(2)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune removed %d, want 3", removed)
	}

	snaps, _ := s.ListByPath("/a.yaml")
	if len(snaps) != 2 || !snaps[1].Created.Equal(base.Add(3*time.Minute)) {
		t.Errorf("kept wrong snapshots: %d", len(snaps))
	}
	if n, _ := s.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	if _, err := s.Prune(-1); err == nil {
		t.Error("Prune(-1) succeeded")
	}
}

func TestPaths(t *testing.T) {
	s := openStore(t)
	put(t, s, "/z.yaml", 0)
	put(t, s, "/a.yaml", 0)
	put(t, s, "/a.yaml", 1)

	paths, err := s.Paths()
	if err != nil {
		t.Fatalf("Paths failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/a.yaml" || paths[1] != "/z.yaml" {
		t.Errorf("Paths = %v", paths)
	}
}
