// Package server exposes the archive over HTTP and streams rebuild progress
// to Server-Sent Events subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/pipeline"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
)

// Config controls the server runtime behavior.
type Config struct {
	Addr             string
	ClaudeDir        string
	IncludeSubagents bool
	Rebuild          pipeline.RebuildOptions
	EventsBuffer     int
}

// Event is pushed to stream subscribers.
type Event struct {
	ID        int64              `json:"id"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Progress  *pipeline.Progress `json:"progress,omitempty"`
	Report    *pipeline.Report   `json:"report,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Event types.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventComplete = "complete"
	EventFailed   = "failed"
)

// RebuildStatus is served at GET /v1/rebuild.
type RebuildStatus struct {
	Running    bool               `json:"running"`
	RunID      string             `json:"runId,omitempty"`
	Progress   *pipeline.Progress `json:"progress,omitempty"`
	LastReport *pipeline.Report   `json:"lastReport,omitempty"`
}

// Server serves the archive read surface and runs rebuilds on request.
type Server struct {
	cfg    Config
	proc   *pipeline.Processor
	ledger *store.Cache
	router chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	running     bool
	progress    *pipeline.Progress
	lastReport  *pipeline.Report
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a server over proc. ledger may be nil.
func New(cfg Config, proc *pipeline.Processor, ledger *store.Cache) *Server {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:4243"
	}
	if cfg.Rebuild.Ledger == nil {
		cfg.Rebuild.Ledger = ledger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		proc:   proc,
		ledger: ledger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan Event),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/projects", s.handleProjects)
		r.Get("/projects/{encodedId}/conversations", s.handleProjectConversations)
		r.Get("/conversations", s.handleConversations)
		r.Get("/conversations/{id}", s.handleConversation)
		r.Get("/plans/{id}", s.handlePlan)
		r.Get("/stats", s.handleStats)
		r.Get("/runs", s.handleRuns)
		r.Get("/rebuild", s.handleRebuildStatus)
		r.Post("/rebuild", s.handleRebuild)
		r.Get("/rebuild/events", s.handleEvents)
		r.Get("/rebuild/stream", s.handleStream)
	})
	return r
}

// Run serves HTTP until ctx is canceled, then cancels any running rebuild
// and waits for it to save.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", s.cfg.Addr).Str("archive", s.proc.Index.Root()).Msg("serving archive")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr := srv.Shutdown(shutdownCtx)
		s.Close()
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		return nil
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close cancels a running rebuild and waits for it to finish.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// StartRebuild begins an asynchronous rebuild. It returns false when one is
// already running.
func (s *Server) StartRebuild(fromArtifacts bool) (bool, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false, nil
	}
	s.running = true
	s.mu.Unlock()

	var (
		jobs []pipeline.Job
		err  error
	)
	opts := s.cfg.Rebuild
	if fromArtifacts {
		opts.Source = pipeline.SourceArtifacts
		jobs, err = pipeline.ArtifactJobs(s.proc.Index.Root())
	} else {
		opts.Source = pipeline.SourceTranscripts
		jobs, err = pipeline.TranscriptJobs(s.cfg.ClaudeDir, s.cfg.IncludeSubagents)
	}

	s.mu.Lock()
	if err != nil {
		s.running = false
		s.mu.Unlock()
		return false, err
	}
	s.progress = &pipeline.Progress{Total: len(jobs), Status: pipeline.StatusRunning}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rep, err := s.proc.Rebuild(s.ctx, jobs, opts, s.onProgress)
		s.finishRebuild(rep, err)
	}()
	return true, nil
}

// Wait blocks until no rebuild is running.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) onProgress(p pipeline.Progress) {
	s.mu.Lock()
	cp := p
	s.progress = &cp
	s.mu.Unlock()

	if p.Done {
		return
	}
	s.publishEvent(Event{Type: EventProgress, Progress: &cp}, false)
}

func (s *Server) finishRebuild(rep pipeline.Report, err error) {
	ev := Event{Type: EventComplete, Report: &rep}
	switch {
	case err != nil:
		ev.Type = EventFailed
		ev.Error = err.Error()
	case rep.Status == pipeline.StatusFailed || rep.Status == pipeline.StatusCanceled:
		ev.Type = EventFailed
	}

	s.mu.Lock()
	s.running = false
	s.lastReport = &rep
	s.mu.Unlock()

	l := log.Info()
	if ev.Type == EventFailed {
		l = log.Warn()
	}
	l.Str("run", rep.RunID).
		Str("status", string(rep.Status)).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("pending", rep.Pending).
		Err(err).
		Msg("rebuild finished")

	s.publishEvent(ev, true)
}

// publishEvent records ev in the ring buffer and fans it out. Progress
// events are dropped for slow subscribers; terminal events wait briefly.
func (s *Server) publishEvent(ev Event, terminal bool) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}
	subs := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		if !terminal {
			select {
			case ch <- ev:
			default:
			}
			continue
		}
		select {
		case ch <- ev:
		case <-time.After(WriteTimeout):
			log.Warn().Int64("event", ev.ID).Msg("subscriber missed terminal event")
		}
	}
}

// Status reports whether a rebuild is running and the last run's outcome.
func (s *Server) Status() RebuildStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := RebuildStatus{Running: s.running, LastReport: s.lastReport}
	if s.progress != nil {
		p := *s.progress
		st.Progress = &p
		st.RunID = p.RunID
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Index.Projects())
}

func (s *Server) handleProjectConversations(w http.ResponseWriter, r *http.Request) {
	encodedID := chi.URLParam(r, "encodedId")
	if _, err := s.proc.Index.Project(encodedID); err != nil {
		writeError(w, err)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q.EncodedID = encodedID
	writeJSON(w, http.StatusOK, s.proc.Index.Query(q))
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q.EncodedID = r.URL.Query().Get("project")
	writeJSON(w, http.StatusOK, s.proc.Index.Query(q))
}

// conversationResponse is a manifest together with one of its saved views.
type conversationResponse struct {
	Manifest model.Manifest `json:"manifest"`
	Mode     filter.Mode    `json:"mode"`
	Events   []model.Event  `json:"events"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	m, err := s.proc.Index.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	mode, err := filter.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	art, err := s.proc.Index.LoadEvents(m, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{Manifest: m, Mode: mode, Events: art.Events})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	doc, err := s.proc.Index.Plan(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type statsResponse struct {
	Summary  model.SummaryStats   `json:"summary"`
	Projects []model.ProjectStats `json:"projects"`
	Daily    []model.DailyStats   `json:"daily"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	manifests := s.proc.Index.Manifests()
	writeJSON(w, http.StatusOK, statsResponse{
		Summary:  pipeline.Aggregate(manifests, q.Since, q.Until),
		Projects: pipeline.AggregateProjects(manifests, q.Since, q.Until),
		Daily:    pipeline.AggregateDays(manifests, q.Since, q.Until),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, []store.Run{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, badRequest(fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = n
	}
	runs, err := s.ledger.Runs(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

type rebuildRequest struct {
	FromArtifacts bool `json:"fromArtifacts"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, badRequest(fmt.Errorf("decoding request: %w", err)))
			return
		}
	}
	if v := r.URL.Query().Get("fromArtifacts"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, badRequest(fmt.Errorf("invalid fromArtifacts %q", v)))
			return
		}
		req.FromArtifacts = b
	}

	started, err := s.StartRebuild(req.FromArtifacts)
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "rebuild already running",
			"status": s.Status(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, s.Status())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 64)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	st := s.Status()
	current := Event{
		Type:      EventStatus,
		Timestamp: time.Now(),
		Progress:  st.Progress,
		Report:    st.LastReport,
	}
	writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}
