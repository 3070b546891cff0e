// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionreader

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrBaseLocked is returned by New when another process already owns
// the base path.
var ErrBaseLocked = errors.New("session base path is locked by another process")

// baseLock is an exclusive advisory lock on a file under the base path.
// The kernel releases it when the process exits, so a crash never
// leaves a stale lock behind.
type baseLock struct {
	file *os.File
}

func acquireLock(path string) (*baseLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrBaseLocked, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &baseLock{file: file}, nil
}

func (l *baseLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
