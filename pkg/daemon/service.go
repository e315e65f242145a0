package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/daemon/broadcaster"
	"github.com/jamesainslie/qtune/pkg/daemon/store"
	"github.com/jamesainslie/qtune/pkg/daemon/watcher"
	"github.com/jamesainslie/qtune/pkg/qtune/discovery"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

var logger = logging.Get("daemon")

// Service implements the QtuneDaemon gRPC service.
type Service struct {
	qtunev1.UnimplementedQtuneDaemonServer

	validator   *validate.Validator
	store       *store.Store
	broadcaster *broadcaster.Broadcaster
	watcher     *watcher.Watcher
	finder      *discovery.Finder
	sniff       bool
	startTime   time.Time

	validations atomic.Int64

	// snapMu serializes the compare-and-put of snapshots so a watcher
	// event and a Validate call for the same content store one snapshot.
	snapMu sync.Mutex

	shutdownOnce sync.Once
	onShutdown   func()
}

// ServiceOptions wires a Service. Only Validator is required.
type ServiceOptions struct {
	Validator   *validate.Validator
	Store       *store.Store
	Broadcaster *broadcaster.Broadcaster
	Watcher     *watcher.Watcher
	Finder      *discovery.Finder
	Sniff       bool

	// OnShutdown runs once, in its own goroutine, when a client calls
	// Shutdown.
	OnShutdown func()
}

// NewService creates the gRPC service.
func NewService(opts ServiceOptions) *Service {
	v := opts.Validator
	if v == nil {
		v = validate.New(nil)
	}
	return &Service{
		validator:   v,
		store:       opts.Store,
		broadcaster: opts.Broadcaster,
		watcher:     opts.Watcher,
		finder:      opts.Finder,
		sniff:       opts.Sniff,
		startTime:   time.Now(),
		onShutdown:  opts.OnShutdown,
	}
}

// check validates the document at path and stores a snapshot when its
// content differs from the latest one.
func (s *Service) check(path string) (*qtunev1.ValidateResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	report := s.validator.ValidateBytes(path, data)
	s.validations.Add(1)

	resp := &qtunev1.ValidateResponse{Report: report, Size: int64(len(data))}
	id, err := s.snapshot(path, data, report)
	if err != nil {
		logger.Error("storing snapshot failed", "path", path, "error", err)
	}
	resp.SnapshotID = id
	return resp, nil
}

// snapshot returns the id of the new snapshot, or "" when the content is
// unchanged or there is no store.
func (s *Service) snapshot(path string, data []byte, report *validate.Report) (string, error) {
	if s.store == nil {
		return "", nil
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return SaveSnapshot(s.store, path, data, report)
}

// OnChange handles one settled watcher change: changed documents are
// revalidated and published, removed ones are announced.
func (s *Service) OnChange(change watcher.Change) {
	if s.broadcaster == nil {
		return
	}

	switch change.Kind {
	case watcher.ChangeRemove:
		s.broadcaster.Publish(&broadcaster.Event{Type: broadcaster.EventRemoved, Path: change.Path})

	case watcher.ChangeWrite:
		if s.sniff && !discovery.SniffFile(change.Path) {
			return
		}
		resp, err := s.check(change.Path)
		if err != nil {
			if os.IsNotExist(err) {
				s.broadcaster.Publish(&broadcaster.Event{Type: broadcaster.EventRemoved, Path: change.Path})
				return
			}
			logger.Warn("revalidation failed", "path", change.Path, "error", err)
			return
		}
		logger.Info("revalidated document",
			"path", change.Path,
			"valid", resp.Report.Valid(),
			"snapshot", resp.SnapshotID)
		s.broadcaster.Publish(&broadcaster.Event{
			Type:       broadcaster.EventValidated,
			Path:       change.Path,
			Report:     resp.Report,
			SnapshotID: resp.SnapshotID,
		})
	}
}

func absPath(in *wrapperspb.StringValue) (string, error) {
	path := in.GetValue()
	if path == "" {
		return "", status.Error(codes.InvalidArgument, "path is required")
	}
	if !filepath.IsAbs(path) {
		return "", status.Errorf(codes.InvalidArgument, "path must be absolute: %s", path)
	}
	return filepath.Clean(path), nil
}

// Validate validates one document.
func (s *Service) Validate(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	path, err := absPath(in)
	if err != nil {
		return nil, err
	}
	resp, err := s.check(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "no such file: %s", path)
		}
		return nil, status.Errorf(codes.Internal, "validating %s: %v", path, err)
	}
	return qtunev1.ToStruct(resp)
}

// Watch streams validation events for documents under a directory. The
// current state of the tree is sent first, then every change.
func (s *Service) Watch(in *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.broadcaster == nil || s.watcher == nil {
		return status.Error(codes.Unavailable, "file watching not available")
	}
	root, err := absPath(in)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); err != nil {
		return status.Errorf(codes.NotFound, "cannot watch %s: %v", root, err)
	}
	if err := s.watcher.Watch(root); err != nil {
		return status.Errorf(codes.Internal, "watching %s: %v", root, err)
	}

	sub := s.broadcaster.Subscribe(root)
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.broadcaster.Unsubscribe(sub.ID)
	logger.Info("watch subscriber added", "root", root, "subscriber", sub.ID)

	ctx := stream.Context()
	if err := s.sendInitial(ctx, root, stream); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			msg, err := qtunev1.ToStruct(&qtunev1.WatchEvent{
				Type:       ev.Type.String(),
				Path:       ev.Path,
				Time:       ev.Time,
				Report:     ev.Report,
				SnapshotID: ev.SnapshotID,
			})
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Service) sendInitial(ctx context.Context, root string, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.finder == nil {
		return nil
	}
	paths, err := s.finder.Find(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			return nil //nolint:nilerr // client went away
		}
		return status.Errorf(codes.Internal, "discovering documents: %v", err)
	}
	for _, path := range paths {
		resp, err := s.check(path)
		if err != nil {
			continue
		}
		msg, err := qtunev1.ToStruct(&qtunev1.WatchEvent{
			Type:       qtunev1.EventValidated,
			Path:       path,
			Time:       time.Now(),
			Report:     resp.Report,
			SnapshotID: resp.SnapshotID,
		})
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Status returns daemon health information.
func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := &qtunev1.DaemonStatus{
		Running:       true,
		PID:           os.Getpid(),
		StartedAt:     s.startTime.UTC(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MemoryBytes:   int64(mem.Alloc),
		WatchedPaths:  []string{},
		Validations:   s.validations.Load(),
	}
	if s.watcher != nil {
		st.WatchedPaths = s.watcher.Roots()
	}
	if s.broadcaster != nil {
		st.Subscribers = s.broadcaster.SubscriberCount()
	}
	if s.store != nil {
		n, err := s.store.Count()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "counting snapshots: %v", err)
		}
		st.Snapshots = n
	}
	return qtunev1.ToStruct(st)
}

// ListSnapshots returns stored snapshots, newest first.
func (s *Service) ListSnapshots(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "snapshot store not available")
	}
	var req qtunev1.ListSnapshotsRequest
	if err := qtunev1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Limit < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "limit must not be negative: %d", req.Limit)
	}

	var snaps []*store.Snapshot
	var err error
	switch {
	case req.ID != "":
		var snap *store.Snapshot
		snap, err = s.store.Get(req.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "snapshot %s not found", req.ID)
		}
		snaps = []*store.Snapshot{snap}
	case req.Path != "":
		snaps, err = s.store.ListByPath(filepath.Clean(req.Path))
		if err == nil && req.Limit > 0 && len(snaps) > req.Limit {
			snaps = snaps[:req.Limit]
		}
	default:
		snaps, err = s.store.List(req.Limit)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing snapshots: %v", err)
	}

	resp := qtunev1.ListSnapshotsResponse{Snapshots: make([]qtunev1.Snapshot, 0, len(snaps))}
	for _, snap := range snaps {
		out := qtunev1.Snapshot{
			ID:       snap.ID,
			Path:     snap.Path,
			SHA256:   snap.SHA256,
			Created:  snap.Created,
			Valid:    snap.Valid,
			Errors:   snap.Errors,
			Warnings: snap.Warnings,
		}
		if req.IncludeEffective || req.ID != "" {
			out.Effective = snap.Effective
		}
		resp.Snapshots = append(resp.Snapshots, out)
	}
	return qtunev1.ToStruct(&resp)
}

// Shutdown asks the daemon to exit once the reply is sent.
func (s *Service) Shutdown(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	if s.onShutdown == nil {
		return wrapperspb.Bool(false), nil
	}
	s.shutdownOnce.Do(func() {
		logger.Info("shutdown requested")
		go s.onShutdown()
	})
	return wrapperspb.Bool(true), nil
}
