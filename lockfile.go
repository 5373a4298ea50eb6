package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// loginLockName is the lock file held for the duration of `login`, in the
// data directory.
const loginLockName = "login.lock"

const (
	lockFilePermissions = 0o600
	lockDirPermissions  = 0o700
)

// acquireLock writes the current process ID to path under an exclusive
// flock. Two sign-ins against the same data directory would race on the
// session and the return route, so the second one fails fast. The returned
// release func removes the file and drops the lock.
func acquireLock(path string) (release func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("lock file path is empty; cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := readLockPID(path); readErr == nil {
			return nil, fmt.Errorf("another 'cthulhu login' is already running (pid %d)", pid)
		}

		return nil, fmt.Errorf("another 'cthulhu login' is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockPID returns the process ID recorded in the lock file at path.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}

	return pid, nil
}
