package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/daemon/broadcaster"
	"github.com/jamesainslie/qtune/pkg/daemon/store"
	"github.com/jamesainslie/qtune/pkg/daemon/watcher"
)

const (
	validDoc   = "framework: pytorch\ndevice: cpu\n"
	invalidDoc = "device: cpu\n"
)

func newTestService(t *testing.T, sniff bool) (*Service, *store.Store, *broadcaster.Broadcaster) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := broadcaster.New()
	t.Cleanup(b.Close)

	svc := NewService(ServiceOptions{Store: st, Broadcaster: b, Sniff: sniff})
	return svc, st, b
}

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func validateRPC(t *testing.T, svc *Service, path string) qtunev1.ValidateResponse {
	t.Helper()
	out, err := svc.Validate(context.Background(), wrapperspb.String(path))
	require.NoError(t, err)
	var resp qtunev1.ValidateResponse
	require.NoError(t, qtunev1.FromStruct(out, &resp))
	return resp
}

func TestValidateStoresSnapshotOnContentChange(t *testing.T) {
	svc, st, _ := newTestService(t, false)
	path := filepath.Join(t.TempDir(), "tune.yaml")
	writeDoc(t, path, validDoc)

	first := validateRPC(t, svc, path)
	require.NotNil(t, first.Report)
	assert.True(t, first.Report.Valid())
	assert.Equal(t, int64(len(validDoc)), first.Size)
	assert.NotEmpty(t, first.SnapshotID)

	again := validateRPC(t, svc, path)
	assert.Empty(t, again.SnapshotID, "unchanged content must not create a snapshot")

	writeDoc(t, path, invalidDoc)
	changed := validateRPC(t, svc, path)
	assert.NotEmpty(t, changed.SnapshotID)
	assert.False(t, changed.Report.Valid())

	n, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	latest, err := st.Latest(path)
	require.NoError(t, err)
	assert.Equal(t, changed.SnapshotID, latest.ID)
	assert.False(t, latest.Valid)
	assert.Equal(t, 1, latest.Errors)

	snap, err := st.Get(first.SnapshotID)
	require.NoError(t, err)
	assert.Contains(t, snap.Effective, "pytorch")
	assert.Contains(t, snap.Effective, "strategy: basic", "effective YAML carries defaults")
}

func TestValidateErrors(t *testing.T) {
	svc, _, _ := newTestService(t, false)

	_, err := svc.Validate(context.Background(), wrapperspb.String(""))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.Validate(context.Background(), wrapperspb.String("relative/tune.yaml"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.Validate(context.Background(), wrapperspb.String(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestOnChangePublishesEvents(t *testing.T) {
	svc, _, b := newTestService(t, false)
	dir := t.TempDir()
	path := filepath.Join(dir, "tune.yaml")
	writeDoc(t, path, validDoc)

	sub := b.Subscribe(dir)
	require.NotNil(t, sub)

	svc.OnChange(watcher.Change{Path: path, Kind: watcher.ChangeWrite})
	ev := receive(t, sub)
	assert.Equal(t, broadcaster.EventValidated, ev.Type)
	assert.Equal(t, path, ev.Path)
	require.NotNil(t, ev.Report)
	assert.True(t, ev.Report.Valid())
	assert.NotEmpty(t, ev.SnapshotID)

	svc.OnChange(watcher.Change{Path: path, Kind: watcher.ChangeRemove})
	ev = receive(t, sub)
	assert.Equal(t, broadcaster.EventRemoved, ev.Type)
	assert.Nil(t, ev.Report)

	// A write event for a file that vanished before revalidation.
	svc.OnChange(watcher.Change{Path: filepath.Join(dir, "gone.yaml"), Kind: watcher.ChangeWrite})
	ev = receive(t, sub)
	assert.Equal(t, broadcaster.EventRemoved, ev.Type)
}

func TestOnChangeSniffSkipsOtherYAML(t *testing.T) {
	svc, st, b := newTestService(t, true)
	dir := t.TempDir()
	path := filepath.Join(dir, "compose.yaml")
	writeDoc(t, path, "services:\n  web:\n    image: nginx\n")

	sub := b.Subscribe(dir)
	svc.OnChange(watcher.Change{Path: path, Kind: watcher.ChangeWrite})

	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event %v for %s", ev.Type, ev.Path)
	case <-time.After(50 * time.Millisecond):
	}
	n, err := st.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func receive(t *testing.T, sub *broadcaster.Subscriber) *broadcaster.Event {
	t.Helper()
	select {
	case ev := <-sub.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestStatus(t *testing.T) {
	svc, _, b := newTestService(t, false)
	path := filepath.Join(t.TempDir(), "tune.yaml")
	writeDoc(t, path, validDoc)
	validateRPC(t, svc, path)
	b.Subscribe("/")

	out, err := svc.Status(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)

	var st qtunev1.DaemonStatus
	require.NoError(t, qtunev1.FromStruct(out, &st))
	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, 1, st.Snapshots)
	assert.Equal(t, 1, st.Subscribers)
	assert.Equal(t, int64(1), st.Validations)
	assert.Positive(t, st.MemoryBytes)
	assert.Empty(t, st.WatchedPaths)
	assert.False(t, st.StartedAt.IsZero())
}

func listRPC(t *testing.T, svc *Service, req qtunev1.ListSnapshotsRequest) ([]qtunev1.Snapshot, error) {
	t.Helper()
	in, err := qtunev1.ToStruct(&req)
	require.NoError(t, err)
	out, err := svc.ListSnapshots(context.Background(), in)
	if err != nil {
		return nil, err
	}
	var resp qtunev1.ListSnapshotsResponse
	require.NoError(t, qtunev1.FromStruct(out, &resp))
	return resp.Snapshots, nil
}

func TestListSnapshots(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	c := filepath.Join(dir, "c.yaml")

	writeDoc(t, a, validDoc)
	validateRPC(t, svc, a)
	writeDoc(t, a, invalidDoc)
	newest := validateRPC(t, svc, a)
	writeDoc(t, c, validDoc)
	validateRPC(t, svc, c)

	all, err := listRPC(t, svc, qtunev1.ListSnapshotsRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, s := range all {
		assert.Empty(t, s.Effective, "effective YAML is opt-in")
	}

	byPath, err := listRPC(t, svc, qtunev1.ListSnapshotsRequest{Path: a, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byPath, 1)
	assert.Equal(t, newest.SnapshotID, byPath[0].ID)
	assert.False(t, byPath[0].Valid)

	one, err := listRPC(t, svc, qtunev1.ListSnapshotsRequest{ID: newest.SnapshotID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.True(t, strings.Contains(one[0].Effective, "device: cpu"))

	_, err = listRPC(t, svc, qtunev1.ListSnapshotsRequest{ID: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = listRPC(t, svc, qtunev1.ListSnapshotsRequest{Limit: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestShutdown(t *testing.T) {
	called := make(chan struct{}, 2)
	svc := NewService(ServiceOptions{OnShutdown: func() { called <- struct{}{} }})

	for range 2 {
		ok, err := svc.Shutdown(context.Background(), &emptypb.Empty{})
		require.NoError(t, err)
		assert.True(t, ok.GetValue())
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
	select {
	case <-called:
		t.Fatal("shutdown callback called twice")
	case <-time.After(50 * time.Millisecond):
	}

	ok, err := NewService(ServiceOptions{}).Shutdown(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.False(t, ok.GetValue())
}

func TestWithoutStoreOrWatcher(t *testing.T) {
	svc := NewService(ServiceOptions{})

	_, err := svc.ListSnapshots(context.Background(), nil)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	err = svc.Watch(wrapperspb.String("/tmp"), nil)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
