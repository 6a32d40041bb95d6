package fsutil

import (
	"errors"
	"io/fs"
	"time"
)

// RetryPolicy bounds how often a transient filesystem failure is retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is three attempts 50ms apart.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 50 * time.Millisecond}
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// Missing files and permission errors are permanent.
func (p RetryPolicy) Do(fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if i < attempts-1 && p.Delay > 0 {
			time.Sleep(p.Delay * time.Duration(i+1))
		}
	}
	return err
}

func transient(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission)
}
