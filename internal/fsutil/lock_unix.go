//go:build unix

package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

type fileLock struct {
	file     *os.File
	released bool
	mu       sync.Mutex
}

// TryLock obtains an exclusive lock on path without blocking. It returns
// ErrLocked when the lock is held elsewhere.
func TryLock(path string) (Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // archive-owned path
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &fileLock{file: file}, nil
}

// Release unlocks and closes the lock file. Calling it twice is a no-op.
func (l *fileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
