// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lockfile provides single-instance enforcement for the qnetd
// daemon (spec.md §5's "shared-resource policy" and the advanced-setting
// `lock_file`), grounded on original_source/qdevices/utils.c's utils_flock:
// an exclusive, non-blocking lock on a well-known path, truncated and
// rewritten with the holding pid, with the fd marked close-on-exec. Unlike
// utils_flock's fcntl(F_SETLK) (whose locks are scoped to the process, not
// the open file description, and so would silently succeed on a second
// acquire from the same process), this uses flock(2) so a conflicting
// acquire is detected regardless of which process holds it first.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock, mirroring utils_flock's another_instance_running flag.
var ErrAlreadyRunning = errors.New("lockfile: another instance is already running")

// Lock holds an acquired lock file open for the life of the process.
type Lock struct {
	f    *os.File
	path string
}

// Acquire creates (or opens) path, takes a non-blocking exclusive lock on
// it, truncates it, and writes the calling process's pid. It returns
// ErrAlreadyRunning if another instance already holds the lock.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("lockfile: create directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("lockfile: truncate %s: %w", path, err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("lockfile: write pid to %s: %w", path, err)
	}

	if flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0); err == nil {
		unix.FcntlInt(f.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC)
	}

	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and closes the underlying file descriptor. The
// lock file itself is left on disk, matching the source's success path.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// Path reports the filesystem path the lock was acquired on.
func (l *Lock) Path() string { return l.path }
