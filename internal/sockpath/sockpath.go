// Package sockpath resolves the daemon's Unix domain socket path and
// implements the stale-socket bind policy (spec §4.5, §6).
package sockpath

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// socketName is the file agencyd listens on within its runtime directory.
const socketName = "agency.sock"

// Default resolves the socket path: $XDG_RUNTIME_DIR/agency/agency.sock if
// XDG_RUNTIME_DIR is set, else $HOME/.local/run/agency/agency.sock.
func Default() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "agency", socketName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sockpath: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "run", "agency", socketName), nil
}

// Listen creates the socket's parent directory with owner-only
// permissions and binds a Unix listener at path, first clearing any
// stale socket file left behind by a daemon that exited without
// cleaning up.
//
// A path is stale when nothing answers a connect attempt against it;
// removeIfStale dials before removing so a live daemon's socket is never
// clobbered out from under it.
func Listen(path string) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sockpath: create runtime dir: %w", err)
	}

	if err := removeIfStale(path); err != nil {
		return nil, err
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("sockpath: listen on %s: %w", path, err)
	}
	return l, nil
}

// removeIfStale removes path if it exists and nothing answers a connect
// attempt against it. If a live daemon is listening, it returns an error
// rather than removing the socket out from under it.
func removeIfStale(path string) error {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sockpath: stat %s: %w", path, err)
	}

	conn, dialErr := net.Dial("unix", path)
	if dialErr == nil {
		conn.Close()
		return fmt.Errorf("sockpath: a daemon is already listening on %s", path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("sockpath: remove stale socket %s: %w", path, err)
	}
	return nil
}
