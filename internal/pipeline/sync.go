package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
)

// SyncResult extends Report with cache metadata.
type SyncResult struct {
	Report
	Scanned   int `json:"scanned"`
	Unchanged int `json:"unchanged"`
}

// Sync archives conversations whose transcripts changed since they were last
// archived, diffing mtime and size against the file tracker.
func (p *Processor) Sync(ctx context.Context, claudeDir string, includeSubagents bool, cache *store.Cache, opts RebuildOptions, progress ProgressFunc) (SyncResult, error) {
	files, err := source.ScanDir(claudeDir)
	if err != nil {
		return SyncResult{}, fmt.Errorf("scanning %s: %w", claudeDir, err)
	}
	convs := source.Conversations(claudeDir, files, includeSubagents)

	tracked, err := cache.GetTrackedFiles()
	if err != nil {
		return SyncResult{}, fmt.Errorf("reading cache: %w", err)
	}

	var changed []source.Conversation
	for _, c := range convs {
		if p.Index.IsArchived(c.SessionID) && unchanged(c, tracked) {
			continue
		}
		changed = append(changed, c)
	}

	res := SyncResult{Scanned: len(convs), Unchanged: len(convs) - len(changed)}
	log.Debug().Int("scanned", res.Scanned).Int("changed", len(changed)).Msg("sync diff")

	if opts.Source == "" {
		opts.Source = "sync"
	}
	next := opts.OnCommit
	opts.OnCommit = func(j Job, m model.Manifest) {
		if j.Conversation != nil {
			track(cache, *j.Conversation, m)
		}
		if next != nil {
			next(j, m)
		}
	}

	rep, err := p.Rebuild(ctx, conversationJobs(changed), opts, progress)
	res.Report = rep
	return res, err
}

// Archive processes and commits a single conversation and saves the index.
func (p *Processor) Archive(ctx context.Context, conv source.Conversation, label string, cache *store.Cache) (model.Manifest, []string, error) {
	out, err := p.Process(ctx, conv, label)
	if err != nil {
		return model.Manifest{}, nil, err
	}
	m, err := p.Index.Commit(out.Commit)
	if err != nil {
		return model.Manifest{}, out.Warnings, err
	}
	if err := p.Index.Save(); err != nil {
		return model.Manifest{}, out.Warnings, fmt.Errorf("saving index: %w", err)
	}
	if cache != nil {
		track(cache, conv, m)
	}
	return m, out.Warnings, nil
}

// unchanged reports whether the main transcript and every subagent
// transcript still match the tracked state.
func unchanged(c source.Conversation, tracked map[string]store.FileInfo) bool {
	paths := []string{c.Path}
	for _, sa := range c.Subagents {
		paths = append(paths, sa.Path)
	}
	for _, path := range paths {
		fi, ok := tracked[path]
		if !ok {
			return false
		}
		info, err := os.Stat(path)
		if err != nil || !fi.Matches(info) {
			return false
		}
	}
	return true
}

func track(cache *store.Cache, c source.Conversation, m model.Manifest) {
	paths := []string{c.Path}
	for _, sa := range c.Subagents {
		paths = append(paths, sa.Path)
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		err = cache.TrackFile(path, store.FileInfo{
			ConversationID: m.ConversationID,
			Project:        m.Project.EncodedID,
			MtimeNs:        info.ModTime().UnixNano(),
			SizeBytes:      info.Size(),
		})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("file tracker update failed")
		}
	}
}
