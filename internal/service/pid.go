package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrDaemonRunning is returned when the pid file names a live process.
var ErrDaemonRunning = errors.New("clipd is already running")

// pidFile manages the daemon's pid file
type pidFile struct {
	path string
}

func newPIDFile(path string) *pidFile {
	return &pidFile{path: path}
}

// acquire records the current process, refusing when another live process
// already holds the file. A stale file is overwritten.
func (p *pidFile) acquire() error {
	pid, err := p.read()
	if err != nil {
		return err
	}
	if pid > 0 && pid != os.Getpid() && isRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, pid)
	}
	return p.write()
}

// write writes the current process PID to the PID file
func (p *pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// read returns 0 when there is no pid file.
func (p *pidFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// release removes the file if it still names this process.
func (p *pidFile) release() error {
	pid, err := p.read()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// isRunning checks if a process with the given PID is running
func isRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on unix; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// StopRunning asks the daemon recorded in pidPath to shut down and returns its
// pid. It returns ErrNotRunning when no live daemon is recorded.
func StopRunning(pidPath string) (int, error) {
	pid, err := newPIDFile(pidPath).read()
	if err != nil {
		return 0, err
	}
	if pid == 0 || !isRunning(pid) {
		return 0, ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to find process: %w", err)
	}
	// SIGTERM lets the daemon drain; fall back to kill when signalling fails.
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if err := process.Kill(); err != nil {
			return 0, fmt.Errorf("failed to kill process: %w", err)
		}
	}
	return pid, nil
}

// ErrNotRunning is returned by StopRunning when no daemon is recorded.
var ErrNotRunning = errors.New("clipd is not running")
