// Package client connects to qtuned. It wraps the gRPC client with typed
// methods and starts or stops the daemon process.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/daemon"
	"github.com/jamesainslie/qtune/pkg/qtune/config"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

var logger = logging.Get("client")

// Client talks to qtuned over its unix socket.
type Client struct {
	conn   *grpc.ClientConn
	client qtunev1.QtuneDaemonClient
}

// DaemonPaths configures daemon operations. Empty fields use defaults.
type DaemonPaths struct {
	Binary string // qtuned binary, discovered when empty
	Socket string
	PID    string
	Config string // passed to qtuned as --config when set
}

func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = config.DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	return p
}

// Connect connects to the daemon with a five second timeout.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext connects to the daemon, blocking until the connection
// is up or ctx ends.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon socket not found at %s", socketPath)
	}

	//nolint:staticcheck // grpc.NewClient cannot block until the connection is ready
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return New(conn), nil
}

// New wraps an existing connection.
func New(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, client: qtunev1.NewQtuneDaemonClient(conn)}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Validate asks the daemon to validate the document at path. Relative
// paths are resolved against the working directory.
func (c *Client) Validate(ctx context.Context, path string) (*qtunev1.ValidateResponse, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	out, err := c.client.Validate(ctx, wrapperspb.String(abs))
	if err != nil {
		return nil, fmt.Errorf("Validate RPC failed: %w", err)
	}
	var resp qtunev1.ValidateResponse
	if err := qtunev1.FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch streams validation events for documents under root. The channel
// closes when the stream ends or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, root string) (<-chan qtunev1.WatchEvent, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.Watch(ctx, wrapperspb.String(abs))
	if err != nil {
		return nil, fmt.Errorf("Watch RPC failed: %w", err)
	}

	events := make(chan qtunev1.WatchEvent, 100)
	go func() {
		defer close(events)
		for {
			msg, err := stream.Recv()
			if err != nil {
				return
			}
			var ev qtunev1.WatchEvent
			if err := qtunev1.FromStruct(msg, &ev); err != nil {
				logger.Warn("dropping malformed watch event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*qtunev1.DaemonStatus, error) {
	out, err := c.client.Status(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("Status RPC failed: %w", err)
	}
	var st qtunev1.DaemonStatus
	if err := qtunev1.FromStruct(out, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListSnapshots returns the snapshots selected by req, newest first.
func (c *Client) ListSnapshots(ctx context.Context, req qtunev1.ListSnapshotsRequest) ([]qtunev1.Snapshot, error) {
	if req.Path != "" {
		abs, err := filepath.Abs(req.Path)
		if err != nil {
			return nil, err
		}
		req.Path = abs
	}
	in, err := qtunev1.ToStruct(&req)
	if err != nil {
		return nil, err
	}
	out, err := c.client.ListSnapshots(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("ListSnapshots RPC failed: %w", err)
	}
	var resp qtunev1.ListSnapshotsResponse
	if err := qtunev1.FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// Snapshot returns one snapshot including its effective configuration.
func (c *Client) Snapshot(ctx context.Context, id string) (*qtunev1.Snapshot, error) {
	snaps, err := c.ListSnapshots(ctx, qtunev1.ListSnapshotsRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}
	return &snaps[0], nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.client.Shutdown(ctx, &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("Shutdown RPC failed: %w", err)
	}
	if !resp.GetValue() {
		return errors.New("shutdown request was not accepted")
	}
	return nil
}

// StartDaemon starts qtuned in the background and waits until it serves.
// It returns nil when the daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", config.DaemonBinary, err)
	}

	statusPath := daemon.StatusPath(paths.Socket)
	_ = daemon.RemoveStatus(statusPath)

	args := []string{"--socket", paths.Socket, "--pid", paths.PID}
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// exec.Command, not CommandContext: the daemon outlives the caller.
	cmd := exec.Command(binary, args...) //nolint:gosec // binary is resolved from config or known locations
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	return waitReady(paths.Socket, statusPath, 50, 100*time.Millisecond)
}

// waitReady polls for the socket or an explicit status file.
func waitReady(socket, statusPath string, attempts int, interval time.Duration) error {
	for range attempts {
		time.Sleep(interval)

		if status, err := daemon.ReadStatus(statusPath); err == nil {
			switch status.State {
			case daemon.StateReady:
				return nil
			case daemon.StateError:
				return fmt.Errorf("daemon failed to start: %s", status.Error)
			}
		}
		if _, err := os.Stat(socket); err == nil {
			return nil
		}
	}
	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon shuts the daemon down over RPC and waits for it to exit. It
// returns nil when the daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if !daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	for range 20 {
		time.Sleep(250 * time.Millisecond)
		if !daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}
	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// IsDaemonRunning reports whether the daemon named by the PID file is alive.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// resolveBinary finds qtuned: the configured path, then next to the running
// executable, then GOBIN or GOPATH, then PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), config.DaemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if goBinPath := config.DefaultBinaryPath(); goBinPath != "" {
		return goBinPath, nil
	}

	if path, err := exec.LookPath(config.DaemonBinary); err == nil {
		return path, nil
	}
	return "", errors.New(config.DaemonBinary + " not found")
}
