package daemon

import (
	"os"
	"path/filepath"
)

// RecoverFromStaleDaemon removes what a crashed qtuned left behind: the
// PID file, the socket, the status file and the Badger directory lock in
// dbPath. It returns ErrDaemonAlreadyRunning when the recorded process is
// still alive, and nil when there was nothing to recover.
func RecoverFromStaleDaemon(pidPath, socketPath, dbPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // no readable pid file means no stale daemon
	}
	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	logger.Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	_ = os.Remove(StatusPath(socketPath))
	if dbPath != "" {
		_ = os.Remove(filepath.Join(dbPath, "LOCK"))
	}
	return nil
}
