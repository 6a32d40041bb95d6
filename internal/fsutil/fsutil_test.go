package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"version": 2}, true))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, 2, got["version"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not survive")
}

func TestWriteFileAtomic_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))
}

func TestWriteFileExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "plan.md")

	created, err := WriteFileExclusive(path, []byte("# One"), 0o644)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, Exists(path))
	assert.True(t, IsDir(filepath.Dir(path)))

	created, err = WriteFileExclusive(path, []byte("# Two"), 0o644)
	require.NoError(t, err)
	assert.False(t, created, "existing file is kept")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# One", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not survive")
}

func TestWriteFileExclusive_SingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.md")

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := WriteFileExclusive(path, []byte(fmt.Sprintf("writer %d", i)), 0o644)
			assert.NoError(t, err)
			if created {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	calls := 0
	err := p.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(func() error {
		calls++
		return fs.ErrNotExist
	})
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, 1, calls, "missing files are not retried")

	calls = 0
	err = RetryPolicy{}.Do(func() error {
		calls++
		return errors.New("busy")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.lock")

	l, err := TryLock(path)
	require.NoError(t, err)

	_, err = TryLock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	l2, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
