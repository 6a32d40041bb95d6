package watcher

import (
	"context"
	"os"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
)

type recorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *recorder) handle(_ context.Context, conv source.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[conv.SessionID]++
	return nil
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[id]
}

func startWatcher(t *testing.T, claudeDir string, includeSubagents bool) *recorder {
	t.Helper()
	rec := &recorder{seen: make(map[string]int)}
	run(t, claudeDir, includeSubagents, rec.handle)
	return rec
}

func run(t *testing.T, claudeDir string, includeSubagents bool, handle Handler) {
	t.Helper()
	w, err := New(claudeDir, includeSubagents, 50*time.Millisecond, handle)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWatcher_ArchivesChangedConversation(t *testing.T) {
	claude := t.TempDir()
	proj := filepath.Join(source.ProjectsDir(claude), "-tmp-app")
	require.NoError(t, os.MkdirAll(proj, 0o750))

	rec := startWatcher(t, claude, true)
	path := filepath.Join(proj, "sess-1.jsonl")

	// The watch is registered asynchronously; keep writing until it fires.
	require.Eventually(t, func() bool {
		appendLine(t, path, `{"type":"user","sessionId":"sess-1","message":{"content":"hi"}}`)
		return rec.count("sess-1") > 0
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcher_SubagentMapsToParent(t *testing.T) {
	claude := t.TempDir()
	proj := filepath.Join(source.ProjectsDir(claude), "-tmp-app")
	appendLine(t, filepath.Join(proj, "sess-2.jsonl"), `{"type":"user","sessionId":"sess-2"}`)

	rec := startWatcher(t, claude, true)
	agent := filepath.Join(proj, "sess-2", "subagents", "agent-x.jsonl")

	require.Eventually(t, func() bool {
		appendLine(t, agent, `{"type":"user","sessionId":"sess-2"}`)
		return rec.count("sess-2") > 0
	}, 5*time.Second, 100*time.Millisecond)
	assert.Zero(t, rec.count("agent-x"))
}

func TestWatcher_IgnoresNonTranscripts(t *testing.T) {
	claude := t.TempDir()
	proj := filepath.Join(source.ProjectsDir(claude), "-tmp-app")
	require.NoError(t, os.MkdirAll(proj, 0o750))

	rec := startWatcher(t, claude, true)
	for i := 0; i < 5; i++ {
		appendLine(t, filepath.Join(proj, "sessions-index.json"), `{}`)
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.seen)
}

func TestWatcher_MissingProjectsDir(t *testing.T) {
	w, err := New(t.TempDir(), false, 0, func(context.Context, source.Conversation) error { return nil })
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}

func TestWatcher_HandlerCallsSerialized(t *testing.T) {
	claude := t.TempDir()
	proj := filepath.Join(source.ProjectsDir(claude), "-tmp-app")
	require.NoError(t, os.MkdirAll(proj, 0o750))

	var (
		inFlight, peak atomic.Int32
		rec            = &recorder{seen: make(map[string]int)}
	)
	run(t, claude, true, func(ctx context.Context, conv source.Conversation) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return rec.handle(ctx, conv)
	})

	const sessions = 4
	require.Eventually(t, func() bool {
		done := 0
		for i := 0; i < sessions; i++ {
			id := fmt.Sprintf("sess-%d", i)
			if rec.count(id) == 0 {
				appendLine(t, filepath.Join(proj, id+".jsonl"), `{"type":"user","sessionId":"`+id+`"}`)
				continue
			}
			done++
		}
		return done == sessions
	}, 10*time.Second, 100*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load())
}

func TestWatcher_BusyRequeues(t *testing.T) {
	claude := t.TempDir()
	proj := filepath.Join(source.ProjectsDir(claude), "-tmp-app")
	path := filepath.Join(proj, "sess-3.jsonl")
	require.NoError(t, os.MkdirAll(proj, 0o750))

	var calls atomic.Int32
	rec := &recorder{seen: make(map[string]int)}
	run(t, claude, true, func(ctx context.Context, conv source.Conversation) error {
		if calls.Add(1) == 1 {
			return ErrBusy
		}
		return rec.handle(ctx, conv)
	})

	// One write gets through once the watch is up; the retry needs no other.
	require.Eventually(t, func() bool {
		if calls.Load() == 0 {
			appendLine(t, path, `{"type":"user","sessionId":"sess-3"}`)
		}
		return calls.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool {
		return rec.count("sess-3") > 0
	}, 5*time.Second, 20*time.Millisecond)
}
