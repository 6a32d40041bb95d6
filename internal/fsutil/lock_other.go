//go:build !unix

package fsutil

import (
	"os"
	"path/filepath"
	"sync"
)

// inProcess stands in for flock where it is unavailable; it only excludes
// writers within this process.
var inProcess sync.Map

type processLock struct {
	path string
	once sync.Once
}

// TryLock obtains an exclusive lock on path without blocking. It returns
// ErrLocked when the lock is held elsewhere.
func TryLock(path string) (Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, err
	}
	if _, loaded := inProcess.LoadOrStore(abs, struct{}{}); loaded {
		return nil, ErrLocked
	}
	return &processLock{path: abs}, nil
}

func (l *processLock) Release() error {
	l.once.Do(func() { inProcess.Delete(l.path) })
	return nil
}
