package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
)

// Status is the overall result of a run.
type Status string

const (
	StatusRunning             Status = "running"
	StatusSuccess             Status = "success"
	StatusSuccessWithWarnings Status = "success-with-warnings"
	StatusFailed              Status = "failed"
	StatusCanceled            Status = "canceled"
)

// Progress is one notification from a running rebuild. Notifications are
// best effort; consumers may drop them.
type Progress struct {
	RunID          string `json:"runId"`
	Processed      int    `json:"processed"`
	Total          int    `json:"total"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	ConversationID string `json:"conversationId,omitempty"`
	Project        string `json:"project,omitempty"`
	Error          string `json:"error,omitempty"`
	// Done is set on the final notification, together with Status.
	Done   bool   `json:"done,omitempty"`
	Status Status `json:"status,omitempty"`
}

// ProgressFunc is called from the committing goroutine after each
// conversation and once more when the run ends.
type ProgressFunc func(Progress)

// Failure records a conversation that could not be archived.
type Failure struct {
	ConversationID string `json:"conversationId"`
	Path           string `json:"path"`
	Error          string `json:"error"`
}

// Report summarizes a run.
type Report struct {
	RunID      string    `json:"runId"`
	Source     string    `json:"source"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Pending    int       `json:"pending"`
	Warnings   []string  `json:"warnings,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// RebuildOptions tunes a run.
type RebuildOptions struct {
	// Workers bounds concurrent conversation processing. Zero means
	// GOMAXPROCS.
	Workers int
	// CheckpointEvery saves the index after this many commits. Zero saves
	// only at the end.
	CheckpointEvery int
	// Source labels the run in the ledger.
	Source string
	// Ledger, when set, records the run and its failures.
	Ledger *store.Cache
	// OnCommit is called after a conversation is committed to the index.
	OnCommit func(Job, model.Manifest)
}

type jobResult struct {
	job     Job
	outcome Outcome
	err     error
}

// Rebuild processes jobs with a bounded worker pool and commits each
// finished conversation to the index from a single goroutine, so a
// conversation becomes visible in one step or not at all.
//
// Individual failures are recorded and skipped. Canceling ctx stops the run:
// everything committed so far is saved and the rest is reported as pending.
// The returned error is non-nil only when saving the index failed.
func (p *Processor) Rebuild(ctx context.Context, jobs []Job, opts RebuildOptions, progress ProgressFunc) (Report, error) {
	rep := Report{
		RunID:     uuid.NewString(),
		Source:    opts.Source,
		Total:     len(jobs),
		StartedAt: time.Now().UTC(),
	}
	if rep.Source == "" {
		rep.Source = SourceTranscripts
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	if opts.Ledger != nil {
		if err := opts.Ledger.StartRun(rep.RunID, rep.Source, rep.Total, rep.StartedAt); err != nil {
			log.Warn().Err(err).Msg("run ledger unavailable")
		}
	}
	log.Info().Str("run", rep.RunID).Str("source", rep.Source).Int("conversations", rep.Total).Msg("rebuild started")

	numWorkers := opts.Workers
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	work := make(chan Job)
	results := make(chan jobResult)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(work)
		for _, j := range jobs {
			select {
			case work <- j:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			for j := range work {
				if gctx.Err() != nil {
					return nil
				}
				r := p.runJob(gctx, j)
				select {
				case results <- r:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var saveErr error
	sinceSave := 0
	for r := range results {
		// After cancellation nothing else is committed; the remaining
		// results count as pending.
		if ctx.Err() != nil || saveErr != nil {
			continue
		}

		pr := Progress{
			RunID:          rep.RunID,
			Total:          rep.Total,
			ConversationID: r.job.ConversationID,
			Project:        r.job.EncodedID,
		}

		err := r.err
		var m model.Manifest
		if err == nil {
			m, err = p.Index.Commit(r.outcome.Commit)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{
				ConversationID: r.job.ConversationID,
				Path:           r.job.Path(),
				Error:          err.Error(),
			})
			pr.Error = err.Error()
			log.Warn().Err(err).Str("conversation", r.job.ConversationID).Msg("conversation not archived")
		} else {
			rep.Succeeded++
			rep.Warnings = append(rep.Warnings, r.outcome.Warnings...)
			pr.ConversationID = m.ConversationID
			if m.Project.Slug != "" {
				pr.Project = m.Project.Slug
			}
			if opts.OnCommit != nil {
				opts.OnCommit(r.job, m)
			}
			sinceSave++
			if opts.CheckpointEvery > 0 && sinceSave >= opts.CheckpointEvery {
				if saveErr = p.Index.Save(); saveErr != nil {
					stop()
				}
				sinceSave = 0
			}
		}

		pr.Processed = rep.Succeeded + rep.Failed
		pr.Succeeded = rep.Succeeded
		pr.Failed = rep.Failed
		progress(pr)
	}

	if saveErr == nil {
		saveErr = p.Index.Save()
	}

	rep.Pending = rep.Total - rep.Succeeded - rep.Failed
	rep.FinishedAt = time.Now().UTC()
	switch {
	case saveErr != nil:
		rep.Status = StatusFailed
	case ctx.Err() != nil:
		rep.Status = StatusCanceled
	case rep.Failed > 0 && rep.Succeeded == 0:
		rep.Status = StatusFailed
	case rep.Failed > 0 || len(rep.Warnings) > 0:
		rep.Status = StatusSuccessWithWarnings
	default:
		rep.Status = StatusSuccess
	}

	if opts.Ledger != nil {
		if err := opts.Ledger.FinishRun(ledgerRun(rep), ledgerFailures(rep.Failures)); err != nil {
			log.Warn().Err(err).Str("run", rep.RunID).Msg("recording run result")
		}
	}

	final := Progress{
		RunID:     rep.RunID,
		Processed: rep.Succeeded + rep.Failed,
		Total:     rep.Total,
		Succeeded: rep.Succeeded,
		Failed:    rep.Failed,
		Done:      true,
		Status:    rep.Status,
	}
	if saveErr != nil {
		final.Error = saveErr.Error()
	}
	progress(final)

	log.Info().
		Str("run", rep.RunID).
		Str("status", string(rep.Status)).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("pending", rep.Pending).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("rebuild finished")

	if saveErr != nil {
		return rep, fmt.Errorf("saving index: %w", saveErr)
	}
	return rep, nil
}

// runJob processes one job, turning a panic into a failure of that job.
func (p *Processor) runJob(ctx context.Context, j Job) (r jobResult) {
	r.job = j
	defer func() {
		if v := recover(); v != nil {
			log.Error().Str("conversation", j.ConversationID).Bytes("stack", debug.Stack()).Msg("panic while processing")
			r.err = fmt.Errorf("panic: %v", v)
		}
	}()

	if j.Conversation != nil {
		r.outcome, r.err = p.Process(ctx, *j.Conversation, j.Label)
	} else {
		r.outcome, r.err = p.ProcessArtifact(ctx, j.ArtifactPath)
	}
	return r
}

func ledgerRun(rep Report) store.Run {
	return store.Run{
		RunID:      rep.RunID,
		Source:     rep.Source,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Total:      rep.Total,
		Succeeded:  rep.Succeeded,
		Failed:     rep.Failed,
		Pending:    rep.Pending,
		Warnings:   len(rep.Warnings),
		Status:     string(rep.Status),
	}
}

func ledgerFailures(fs []Failure) []store.RunFailure {
	out := make([]store.RunFailure, len(fs))
	for i, f := range fs {
		out[i] = store.RunFailure{ConversationID: f.ConversationID, Path: f.Path, Error: f.Error}
	}
	return out
}
