package fsutil

import "errors"

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("archive is locked by another process")

// Lock is an exclusive advisory lock on a file.
type Lock interface {
	Release() error
}
