package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/daemon/broadcaster"
	"github.com/jamesainslie/qtune/pkg/daemon/store"
	"github.com/jamesainslie/qtune/pkg/daemon/watcher"
	"github.com/jamesainslie/qtune/pkg/qtune/discovery"
	"github.com/jamesainslie/qtune/pkg/qtune/registry"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// Config holds daemon configuration.
type Config struct {
	SocketPath string

	// DBPath is the snapshot database directory.
	DBPath string

	// Watch lists directories watched from startup.
	Watch []string

	Debounce time.Duration

	Include []string
	Exclude []string
	Sniff   bool

	// Registry carries the configured extensions; nil uses the built-ins.
	Registry *registry.Registry
}

// Server is the qtuned gRPC server.
type Server struct {
	cfg      Config
	grpc     *grpc.Server
	listener net.Listener

	store       *store.Store
	broadcaster *broadcaster.Broadcaster
	watcher     *watcher.Watcher
	service     *Service

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewServer opens the snapshot store, runs pending migrations and starts
// listening on the unix socket.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" || cfg.DBPath == "" {
		return nil, errors.New("socket path and database path are required")
	}
	finder, err := discovery.New(discovery.Options{Include: cfg.Include, Exclude: cfg.Exclude, Sniff: cfg.Sniff})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DBPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	migrated, err := st.Migrate(context.Background(), nil)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrating snapshot store: %w", err)
	}
	if migrated > 0 {
		logger.Info("migrated snapshot store", "snapshots", migrated)
	}

	w, err := watcher.New(watcher.Options{
		Debounce: cfg.Debounce,
		Match: func(path string) bool {
			return finder.Match(filepath.Base(path), filepath.ToSlash(path))
		},
		SkipDir: func(path string) bool {
			return finder.Excluded(filepath.Base(path), filepath.ToSlash(path))
		},
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	listener, err := listen(cfg.SocketPath)
	if err != nil {
		_ = w.Close()
		_ = st.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		grpc:        grpc.NewServer(),
		listener:    listener,
		store:       st,
		broadcaster: broadcaster.New(),
		watcher:     w,
		done:        make(chan struct{}),
	}
	srv.service = NewService(ServiceOptions{
		Validator:   validate.New(cfg.Registry),
		Store:       st,
		Broadcaster: srv.broadcaster,
		Watcher:     w,
		Finder:      finder,
		Sniff:       cfg.Sniff,
		OnShutdown:  func() { _ = srv.Close() },
	})
	qtunev1.RegisterQtuneDaemonServer(srv.grpc, srv.service)

	for _, dir := range cfg.Watch {
		if err := w.Watch(dir); err != nil {
			logger.Warn("cannot watch configured directory", "path", dir, "error", err)
		}
	}
	return srv, nil
}

func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	return listener, nil
}

// Service returns the gRPC service implementation.
func (s *Server) Service() *Service {
	return s.service
}

// Done is closed once the server has shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Serve runs the watcher loop and serves gRPC until Close.
func (s *Server) Serve() error {
	go s.watcher.Run(s.ctx, s.service.OnChange)

	logger.Info("qtuned serving", "socket", s.cfg.SocketPath, "db", s.cfg.DBPath)
	err := s.grpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Close stops watching, ends open Watch streams, stops gRPC, closes the
// store and removes the socket. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.watcher.Close()
		s.broadcaster.Close()
		s.grpc.GracefulStop()
		_ = s.listener.Close()

		var errs []error
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
		if err := os.RemoveAll(s.cfg.SocketPath); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
		close(s.done)
		logger.Info("qtuned stopped")
	})
	return s.closeErr
}
