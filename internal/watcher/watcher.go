// Package watcher archives conversations as their transcripts change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
)

// DefaultDebounce is the quiet period after the last write to a
// conversation before it is archived.
const DefaultDebounce = 2 * time.Second

// ErrBusy is returned by a Handler that cannot archive right now. The
// conversation is queued again after another debounce period.
var ErrBusy = errors.New("archive busy")

// Handler archives one changed conversation. Calls are serialized.
type Handler func(ctx context.Context, conv source.Conversation) error

// Watcher monitors the Claude projects tree. fsnotify is not recursive, so
// every project directory and subagents directory gets its own watch.
type Watcher struct {
	claudeDir        string
	includeSubagents bool
	debounce         time.Duration
	handle           Handler
	fsw              *fsnotify.Watcher

	mu      sync.Mutex
	closed  bool
	pending map[string]*time.Timer
	wg      sync.WaitGroup

	// ready carries conversations whose debounce expired to the worker.
	ready chan string
	stop  chan struct{}
}

// New returns a watcher over claudeDir. A debounce of zero uses
// DefaultDebounce.
func New(claudeDir string, includeSubagents bool, debounce time.Duration, handle Handler) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		claudeDir:        claudeDir,
		includeSubagents: includeSubagents,
		debounce:         debounce,
		handle:           handle,
		fsw:              fsw,
		pending:          make(map[string]*time.Timer),
		ready:            make(chan string),
		stop:             make(chan struct{}),
	}, nil
}

// Run watches until ctx is canceled. A conversation being archived when
// Run stops finishes before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		for id, t := range w.pending {
			t.Stop()
			delete(w.pending, id)
		}
		w.mu.Unlock()
		close(w.stop)
		w.wg.Wait()
		_ = w.fsw.Close()
	}()

	root := source.ProjectsDir(w.claudeDir)
	if err := w.addTree(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	log.Info().Str("dir", root).Dur("debounce", w.debounce).Msg("watching transcripts")

	w.wg.Add(1)
	go w.work(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

// scheduleExisting picks up transcripts written to a new directory before
// its watch was in place.
func (w *Watcher) scheduleExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
		return nil
	})
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				log.Warn().Err(err).Str("dir", ev.Name).Msg("watch new directory")
			}
			w.scheduleExisting(ev.Name)
			return
		}
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	df, ok := source.Discover(w.claudeDir, ev.Name)
	if !ok {
		return
	}
	if df.IsSubagent && !w.includeSubagents {
		return
	}
	sessionID := df.Conversation()
	if sessionID == "" {
		return
	}
	w.schedule(sessionID)
}

// schedule (re)starts the debounce timer for a conversation. When it fires
// the conversation is handed to the worker.
func (w *Watcher) schedule(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[sessionID]; ok {
		t.Stop()
	}
	w.pending[sessionID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, sessionID)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		select {
		case w.ready <- sessionID:
		case <-w.stop:
		}
	})
}

// work archives ready conversations one at a time.
func (w *Watcher) work(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case id := <-w.ready:
			w.archive(ctx, id)
		}
	}
}

func (w *Watcher) archive(ctx context.Context, sessionID string) {
	if ctx.Err() != nil {
		return
	}
	conv, ok, err := source.FindConversation(w.claudeDir, sessionID, w.includeSubagents)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("locating changed conversation")
		return
	}
	if !ok {
		log.Debug().Str("session", sessionID).Msg("changed conversation not found")
		return
	}
	start := time.Now()
	if err := w.handle(ctx, conv); err != nil {
		if errors.Is(err, ErrBusy) {
			log.Debug().Str("session", sessionID).Msg("archive busy, requeued")
			w.schedule(sessionID)
			return
		}
		log.Warn().Err(err).Str("session", sessionID).Msg("archiving changed conversation")
		return
	}
	log.Info().Str("session", sessionID).Dur("took", time.Since(start)).Msg("archived changed conversation")
}

// addTree watches dir and the directories below it that can hold
// transcripts: projects, sessions, and subagents, at most three levels.
func (w *Watcher) addTree(dir string) error {
	root := source.ProjectsDir(w.claudeDir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		depth := 0
		if rel != "." {
			depth = len(strings.Split(rel, string(filepath.Separator)))
		}
		if depth > 3 {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Debug().Err(err).Str("dir", path).Msg("add watch")
		}
		return nil
	})
}
