package source

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ProjectsDir returns the directory holding encoded project folders.
func ProjectsDir(claudeDir string) string {
	return filepath.Join(claudeDir, "projects")
}

// ScanDir walks the Claude projects directory and discovers all JSONL session files.
// It returns discovered files categorized as main sessions or subagent sessions.
func ScanDir(claudeDir string) ([]DiscoveredFile, error) {
	projectsDir := ProjectsDir(claudeDir)

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile

	err = filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		// sessions-index.json and other sidecars are not transcripts
		name := d.Name()
		if filepath.Ext(name) != ".jsonl" {
			return nil
		}

		df, ok := discover(projectsDir, path)
		if !ok {
			return nil
		}
		files = append(files, df)
		return nil
	})

	return files, err
}

// Discover classifies a single transcript path under claudeDir. It reports
// false for files that are not transcripts in a known layout.
func Discover(claudeDir, path string) (DiscoveredFile, bool) {
	if filepath.Ext(path) != ".jsonl" {
		return DiscoveredFile{}, false
	}
	return discover(ProjectsDir(claudeDir), path)
}

// Conversation returns the session id this file belongs to: its own for a
// main transcript, the parent's for a subagent.
func (df DiscoveredFile) Conversation() string {
	if df.IsSubagent {
		return df.ParentSession
	}
	return df.SessionID
}

func discover(projectsDir, path string) (DiscoveredFile, bool) {
	rel, err := filepath.Rel(projectsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return DiscoveredFile{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return DiscoveredFile{}, false
	}
	name := parts[len(parts)-1]

	df := DiscoveredFile{
		Path:       path,
		ProjectDir: parts[0],
	}

	switch {
	// <project>/<session-uuid>/subagents/agent-<id>.jsonl
	case len(parts) >= 4 && parts[2] == "subagents":
		df.IsSubagent = true
		df.ParentSession = parts[1]
		df.SessionID = strings.TrimSuffix(name, ".jsonl")
	// Older layout: <project>/agent-<id>.jsonl with the parent in the records
	case len(parts) == 2 && strings.HasPrefix(name, "agent-"):
		df.IsSubagent = true
		df.ParentSession = sniffSessionID(path)
		df.SessionID = strings.TrimSuffix(name, ".jsonl")
	case len(parts) == 2:
		df.SessionID = strings.TrimSuffix(name, ".jsonl")
	default:
		return DiscoveredFile{}, false
	}
	return df, true
}

// Conversations groups discovered files into conversations, attaching each
// subagent transcript to its parent. Subagents whose parent is unknown are
// dropped when includeSubagents is false and otherwise ignored.
func Conversations(claudeDir string, files []DiscoveredFile, includeSubagents bool) []Conversation {
	projectsDir := ProjectsDir(claudeDir)
	byKey := make(map[string]*Conversation)
	var order []string

	for _, f := range files {
		if f.IsSubagent {
			continue
		}
		key := f.ProjectDir + "/" + f.SessionID
		byKey[key] = &Conversation{
			SessionID:   f.SessionID,
			Path:        f.Path,
			ProjectDir:  f.ProjectDir,
			ProjectsDir: projectsDir,
		}
		order = append(order, key)
	}

	if includeSubagents {
		for _, f := range files {
			if !f.IsSubagent || f.ParentSession == "" {
				continue
			}
			conv, ok := byKey[f.ProjectDir+"/"+f.ParentSession]
			if !ok {
				continue
			}
			conv.Subagents = append(conv.Subagents, SubagentFile{
				AgentID: strings.TrimPrefix(f.SessionID, "agent-"),
				Path:    f.Path,
			})
		}
	}

	sort.Strings(order)
	out := make([]Conversation, 0, len(order))
	for _, key := range order {
		conv := byKey[key]
		sort.Slice(conv.Subagents, func(i, j int) bool {
			return conv.Subagents[i].AgentID < conv.Subagents[j].AgentID
		})
		out = append(out, *conv)
	}
	return out
}

// FindConversation locates a conversation by session id, id prefix, or
// transcript path.
func FindConversation(claudeDir, ref string, includeSubagents bool) (Conversation, bool, error) {
	files, err := ScanDir(claudeDir)
	if err != nil {
		return Conversation{}, false, err
	}
	convs := Conversations(claudeDir, files, includeSubagents)

	if abs, err := filepath.Abs(ref); err == nil {
		for _, c := range convs {
			if c.Path == abs {
				return c, true, nil
			}
		}
	}
	for _, c := range convs {
		if c.SessionID == ref {
			return c, true, nil
		}
	}
	var match *Conversation
	for i, c := range convs {
		if strings.HasPrefix(c.SessionID, ref) {
			if match != nil {
				return Conversation{}, false, nil // ambiguous prefix
			}
			match = &convs[i]
		}
	}
	if match != nil {
		return *match, true, nil
	}
	return Conversation{}, false, nil
}

// CountProjects returns the number of unique projects in a set of discovered files.
func CountProjects(files []DiscoveredFile) int {
	seen := make(map[string]struct{})
	for _, f := range files {
		seen[f.ProjectDir] = struct{}{}
	}
	return len(seen)
}

// sniffSessionID reads the first few records of a transcript looking for a
// sessionId field.
func sniffSessionID(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for i := 0; i < 8 && scanner.Scan(); i++ {
		var head struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &head); err == nil && head.SessionID != "" {
			return head.SessionID
		}
	}
	return ""
}
