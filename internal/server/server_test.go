package server

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/pipeline"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/tokens"
)

const testPlan = `# Cache warmup

1. Preload the hot keys from the access log at startup.
2. Expire entries that were not touched for a full day.
3. Report warmup duration as a structured log field.`

type ServerSuite struct {
	suite.Suite
	claudeDir  string
	projectDir string
	encodedID  string
	proc       *pipeline.Processor
	ledger     *store.Cache
	srv        *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	t := s.T()
	s.claudeDir = t.TempDir()
	s.projectDir = t.TempDir()
	s.encodedID = project.Encode(s.projectDir)

	ix, err := archive.Open(t.TempDir(), plans.DefaultOptions())
	s.Require().NoError(err)
	s.proc = &pipeline.Processor{
		Index:     ix,
		Resolver:  project.NewResolver(project.FileSidecar(source.ProjectsDir(s.claudeDir))),
		Estimator: tokens.New(tokens.EncodingNone, 4),
		Plans:     plans.DefaultOptions(),
		Retry:     fsutil.RetryPolicy{Attempts: 1},
	}
	s.ledger, err = store.Open(filepath.Join(t.TempDir(), "cache.db"))
	s.Require().NoError(err)

	s.srv = New(Config{ClaudeDir: s.claudeDir, Rebuild: pipeline.RebuildOptions{Workers: 2}}, s.proc, s.ledger)
}

func (s *ServerSuite) TearDownTest() {
	s.srv.Close()
	s.Require().NoError(s.ledger.Close())
}

func (s *ServerSuite) writeConversation(id string, start time.Time, withPlan bool) {
	prompt := "Fix the flaky login test " + id
	if withPlan {
		prompt = "Implement the following plan:\n\n" + testPlan
	}
	lines := []map[string]any{
		{
			"type": "user", "uuid": id + "-u1", "timestamp": start.Format(time.RFC3339),
			"cwd": s.projectDir, "sessionId": id,
			"message": map[string]any{"role": "user", "content": prompt},
		},
		{
			"type": "assistant", "uuid": id + "-a1", "timestamp": start.Add(time.Second).Format(time.RFC3339),
			"message": map[string]any{
				"id": id + "-m1", "model": "claude-sonnet-4-5",
				"content": []any{map[string]any{"type": "text", "text": "Done."}},
				"usage":   map[string]any{"input_tokens": 40, "output_tokens": 8},
			},
		},
	}
	var b strings.Builder
	for _, l := range lines {
		raw, err := json.Marshal(l)
		s.Require().NoError(err)
		b.Write(raw)
		b.WriteByte('\n')
	}
	path := filepath.Join(source.ProjectsDir(s.claudeDir), s.encodedID, id+".jsonl")
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o750))
	s.Require().NoError(os.WriteFile(path, []byte(b.String()), 0o600))
}

func (s *ServerSuite) archive(id string) model.Manifest {
	conv, ok, err := source.FindConversation(s.claudeDir, id, true)
	s.Require().NoError(err)
	s.Require().True(ok)
	m, _, err := s.proc.Archive(context.Background(), conv, "", s.ledger)
	s.Require().NoError(err)
	return m
}

func (s *ServerSuite) get(path string, out any) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (s *ServerSuite) TestHealth() {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok\n", rec.Body.String())
}

func (s *ServerSuite) TestProjectsAndConversations() {
	day := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	s.writeConversation("conv-1", day, false)
	s.writeConversation("conv-2", day.Add(48*time.Hour), false)
	s.archive("conv-1")
	s.archive("conv-2")

	var projects []archive.ProjectSummary
	s.Require().Equal(http.StatusOK, s.get("/v1/projects", &projects))
	s.Require().Len(projects, 1)
	s.Equal(s.encodedID, projects[0].Identity.EncodedID)
	s.Equal(2, projects[0].Conversations)

	var convs []model.Manifest
	s.Require().Equal(http.StatusOK, s.get("/v1/projects/"+s.encodedID+"/conversations", &convs))
	s.Require().Len(convs, 2)
	s.Equal("conv-2", convs[0].ConversationID, "newest first")

	convs = nil
	s.Require().Equal(http.StatusOK, s.get("/v1/projects/"+s.encodedID+"/conversations?limit=1", &convs))
	s.Len(convs, 1)

	convs = nil
	s.Require().Equal(http.StatusOK, s.get("/v1/conversations?until="+day.Add(time.Hour).Format(time.RFC3339), &convs))
	s.Require().Len(convs, 1)
	s.Equal("conv-1", convs[0].ConversationID)

	s.Equal(http.StatusNotFound, s.get("/v1/projects/-nowhere/conversations", nil))
	s.Equal(http.StatusBadRequest, s.get("/v1/conversations?since=last-week", nil))
}

func (s *ServerSuite) TestConversationViews() {
	s.writeConversation("conv-1", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), false)
	s.archive("conv-1")

	var full conversationResponse
	s.Require().Equal(http.StatusOK, s.get("/v1/conversations/conv-1", &full))
	s.Equal("conv-1", full.Manifest.ConversationID)
	s.Equal("full", string(full.Mode))
	s.Len(full.Events, 2)

	var messages conversationResponse
	s.Require().Equal(http.StatusOK, s.get("/v1/conversations/conv-1?mode=messages", &messages))
	s.Equal("messages-only", string(messages.Mode))
	for _, ev := range messages.Events {
		s.True(ev.Kind.IsMessage())
	}

	s.Equal(http.StatusNotFound, s.get("/v1/conversations/missing", nil))
	s.Equal(http.StatusBadRequest, s.get("/v1/conversations/conv-1?mode=everything", nil))
}

func (s *ServerSuite) TestPlanAndStats() {
	s.writeConversation("conv-1", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), true)
	m := s.archive("conv-1")
	s.Require().NotEmpty(m.Plans)

	var doc model.PlanDocument
	s.Require().Equal(http.StatusOK, s.get("/v1/plans/"+m.Plans[0].PlanID, &doc))
	s.Equal("Cache warmup", doc.Title)
	s.Contains(doc.Content, "Preload the hot keys")
	s.Equal([]string{"conv-1"}, doc.Sessions)
	s.Equal(http.StatusNotFound, s.get("/v1/plans/nope", nil))

	var stats statsResponse
	s.Require().Equal(http.StatusOK, s.get("/v1/stats", &stats))
	s.Equal(1, stats.Summary.TotalConversations)
	s.Equal(1, stats.Summary.TotalPlans)
	s.Len(stats.Projects, 1)
	s.Len(stats.Daily, 1)
}

func (s *ServerSuite) TestRebuildLifecycle() {
	start := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.writeConversation(fmt.Sprintf("conv-%d", i), start.Add(time.Duration(i)*time.Hour), false)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/rebuild", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())
	s.srv.Wait()

	var st RebuildStatus
	s.Require().Equal(http.StatusOK, s.get("/v1/rebuild", &st))
	s.False(st.Running)
	s.Require().NotNil(st.LastReport)
	s.Equal(pipeline.StatusSuccess, st.LastReport.Status)
	s.Equal(3, st.LastReport.Succeeded)
	s.Equal(3, s.proc.Index.Len())

	var runs []store.Run
	s.Require().Equal(http.StatusOK, s.get("/v1/runs", &runs))
	s.Require().Len(runs, 1)
	s.Equal(st.LastReport.RunID, runs[0].RunID)

	var events []Event
	s.Require().Equal(http.StatusOK, s.get("/v1/rebuild/events", &events))
	s.Require().NotEmpty(events)
	s.Equal(EventComplete, events[len(events)-1].Type)
}

func (s *ServerSuite) TestRebuildConflict() {
	s.srv.mu.Lock()
	s.srv.running = true
	s.srv.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/v1/rebuild", strings.NewReader(`{"fromArtifacts":true}`))
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), "already running")

	s.srv.mu.Lock()
	s.srv.running = false
	s.srv.mu.Unlock()
}

func (s *ServerSuite) TestRebuildBadRequest() {
	req := httptest.NewRequest(http.MethodPost, "/v1/rebuild?fromArtifacts=maybe", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

// readEvents collects SSE event names until want arrives or the stream ends.
func readEvents(t *testing.T, body *bufio.Scanner, want string) []string {
	t.Helper()
	var names []string
	for body.Scan() {
		line := body.Text()
		name, ok := strings.CutPrefix(line, "event: ")
		if !ok {
			continue
		}
		names = append(names, name)
		if name == want {
			return names
		}
	}
	return names
}

func TestStreamDeliversTerminalEvent(t *testing.T) {
	claudeDir := t.TempDir()
	projectDir := t.TempDir()
	encodedID := project.Encode(projectDir)
	line := fmt.Sprintf(`{"type":"user","uuid":"u1","timestamp":"2025-07-01T10:00:00Z","cwd":%q,"sessionId":"s1","message":{"content":"hello there"}}`, projectDir)
	path := filepath.Join(source.ProjectsDir(claudeDir), encodedID, "s1.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))

	ix, err := archive.Open(t.TempDir(), plans.DefaultOptions())
	require.NoError(t, err)
	proc := &pipeline.Processor{
		Index:     ix,
		Resolver:  project.NewResolver(nil),
		Estimator: tokens.New(tokens.EncodingNone, 4),
		Plans:     plans.DefaultOptions(),
	}
	srv := New(Config{ClaudeDir: claudeDir}, proc, nil)
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/rebuild/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.Equal(t, []string{EventStatus}, readEvents(t, scanner, EventStatus))

	started, err := srv.StartRebuild(false)
	require.NoError(t, err)
	require.True(t, started)

	names := readEvents(t, scanner, EventComplete)
	require.NotEmpty(t, names)
	assert.Equal(t, EventComplete, names[len(names)-1])
	assert.NotContains(t, names, EventFailed)
}
