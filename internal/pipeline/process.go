// Package pipeline turns transcripts into archived conversations: one at a
// time for archive and sync, or all at once through the rebuild worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/tokens"
)

// Processor builds the archive commit for one conversation. Process writes
// the save artifacts and plan copies; committing the result to the index is
// left to the caller so index mutations can be serialized.
type Processor struct {
	Index     *archive.Index
	Resolver  *project.Resolver
	Estimator *tokens.Estimator
	Plans     plans.Options
	Retry     fsutil.RetryPolicy
	// ProjectLocal also copies plans into <project>/.jacques/plans.
	ProjectLocal bool
}

// Outcome is a processed conversation ready to commit.
type Outcome struct {
	Commit   archive.Commit
	Warnings []string
}

// conversation is the parsed form of a conversation, from either a
// transcript or a full save artifact.
type conversation struct {
	id         string
	encodedID  string
	sourcePath string
	label      string
	title      string
	cwds       []string
	events     []model.Event
	subagents  []archive.SubagentEvents
	parseWarns int
	// identity is set when rebuilding from an artifact that already holds an
	// authoritative identity.
	identity *model.ProjectIdentity
}

// Process reads a conversation's transcript and subagent transcripts and
// archives them. label names the save artifacts; empty keeps the label the
// conversation was archived with before.
func (p *Processor) Process(ctx context.Context, conv source.Conversation, label string) (Outcome, error) {
	if label == "" {
		label = p.previousLabel(conv.SessionID)
	}
	c := conversation{
		id:         conv.SessionID,
		encodedID:  conv.ProjectDir,
		sourcePath: conv.Path,
		label:      label,
	}
	var warnings []string

	res := source.ParseFile(conv.Path, p.Retry)
	if res.Err != nil {
		return Outcome{}, fmt.Errorf("reading %s: %w", conv.Path, res.Err)
	}
	c.events = res.Events
	c.title = res.Title
	c.parseWarns = res.ParseErrors
	if res.Cwd != "" {
		c.cwds = append(c.cwds, res.Cwd)
	}
	for _, w := range res.Warnings {
		warnings = append(warnings, w.String())
	}

	for _, sa := range conv.Subagents {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		sr := source.ParseFile(sa.Path, p.Retry)
		if sr.Err != nil {
			warnings = append(warnings, fmt.Sprintf("subagent %s: %v", sa.AgentID, sr.Err))
			continue
		}
		for _, w := range sr.Warnings {
			warnings = append(warnings, w.String())
		}
		c.parseWarns += sr.ParseErrors
		if sr.Cwd != "" {
			c.cwds = append(c.cwds, sr.Cwd)
		}
		c.subagents = append(c.subagents, archive.SubagentEvents{
			AgentID: sa.AgentID,
			Events:  filter.Apply(sr.Events, filter.Full),
		})
	}

	out, err := p.build(ctx, c)
	if err != nil {
		return Outcome{}, err
	}
	out.Warnings = append(warnings, out.Warnings...)
	return out, nil
}

// ProcessArtifact re-archives a conversation from its full save artifact,
// for rebuilding when the transcript is gone.
func (p *Processor) ProcessArtifact(ctx context.Context, path string) (Outcome, error) {
	var a archive.Artifact
	err := p.Retry.Do(func() error {
		var readErr error
		a, readErr = archive.ReadArtifact(path)
		return readErr
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	if a.Mode != filter.Full {
		return Outcome{}, fmt.Errorf("artifact %s holds the %s view, need full", path, a.Mode)
	}

	c := conversation{
		id:         a.ConversationID,
		encodedID:  a.Project.EncodedID,
		sourcePath: a.SourcePath,
		label:      a.Label,
		title:      a.Title,
		events:     a.Events,
		subagents:  a.Subagents,
		parseWarns: a.ParseWarnings,
	}
	if a.Project.Source.Authoritative() {
		id := a.Project
		c.identity = &id
	}
	return p.build(ctx, c)
}

func (p *Processor) previousLabel(convID string) string {
	if p.Index == nil {
		return ""
	}
	if m, err := p.Index.Get(convID); err == nil {
		return m.Label
	}
	return ""
}

// build resolves the project, extracts plans, writes the three views and
// the plan copies, and assembles the manifest.
func (p *Processor) build(ctx context.Context, c conversation) (Outcome, error) {
	if c.id == "" || c.encodedID == "" {
		return Outcome{}, errors.New("conversation has no id or project")
	}
	var out Outcome

	var identity model.ProjectIdentity
	if c.identity != nil {
		identity = *c.identity
	} else {
		r := p.Resolver.Resolve(c.encodedID, c.cwds...)
		identity = r.Identity
		if r.Advisory != "" {
			out.Warnings = append(out.Warnings, r.Advisory)
		}
	}
	// An identity already recorded from an authoritative source is never
	// replaced by a heuristic one.
	if !identity.Source.Authoritative() && p.Index != nil {
		if known, ok := p.Index.Identity(c.encodedID); ok && known.Source.Authoritative() {
			identity = known
		}
	}

	found := plans.Extract(c.events, false, p.Plans)
	out.Warnings = append(out.Warnings, found.Warnings...)
	candidates := found.Candidates
	for _, sa := range c.subagents {
		r := plans.Extract(sa.Events, true, p.Plans)
		out.Warnings = append(out.Warnings, r.Warnings...)
		candidates = append(candidates, r.Candidates...)
	}

	views := make(map[filter.Mode][]model.Event, len(filter.Modes))
	for _, mode := range filter.Modes {
		views[mode] = filter.Apply(c.events, mode)
	}

	m := model.Manifest{
		ConversationID: c.id,
		Project:        identity,
		Title:          source.DeriveTitle(c.events, c.title),
		SourcePath:     c.sourcePath,
		Label:          c.label,
	}
	m.Stats = conversationStats(c)
	m.Stats.Estimates = p.Estimator.ReportViews(views)
	for _, ev := range c.events {
		m.TimeRange.Include(ev.Timestamp)
		if ev.Payload.Compaction {
			m.HadAutoCompaction = true
		}
	}
	m.SubagentRefs = subagentRefs(c)

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	root := p.Index.Root()
	paths, err := archive.WriteArtifacts(root, m, views, c.subagents)
	if err != nil {
		return Outcome{}, err
	}
	m.Artifacts = paths

	copier := archive.PlanCopier{Root: root, ProjectLocal: p.ProjectLocal}
	pending := make([]archive.PendingPlan, 0, len(candidates))
	for _, cand := range candidates {
		ref, err := copier.Copy(identity, cand)
		if err != nil {
			return Outcome{}, err
		}
		if !cand.ContentAvailable {
			log.Debug().Str("conversation", c.id).Str("path", cand.OriginalPath).Msg("plan recorded without content")
		}
		pending = append(pending, archive.PendingPlan{Candidate: cand, Ref: ref})
	}

	out.Commit = archive.Commit{Manifest: m, Plans: pending}
	return out, nil
}

func conversationStats(c conversation) model.ConversationStats {
	st := model.ConversationStats{
		EventCounts: make(map[model.EventKind]int),
		Warnings:    c.parseWarns,
	}
	count := func(events []model.Event) {
		for _, ev := range events {
			if ev.Usage != nil {
				st.Usage.Add(*ev.Usage)
			}
		}
	}
	for _, ev := range c.events {
		if ev.Kind == model.KindSkip {
			continue
		}
		st.EventCounts[ev.Kind]++
		if ev.Kind == model.KindTurnDuration {
			st.DurationMs += ev.Payload.DurationMs
		}
	}
	count(c.events)
	for _, sa := range c.subagents {
		count(sa.Events)
	}
	return st
}

// subagentRefs lists subagent transcripts plus agents seen only through
// agent-progress events.
func subagentRefs(c conversation) []string {
	seen := make(map[string]bool)
	for _, sa := range c.subagents {
		seen[sa.AgentID] = true
	}
	for _, ev := range c.events {
		if ev.Kind == model.KindAgentProgress && ev.Payload.AgentID != "" {
			seen[ev.Payload.AgentID] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}
