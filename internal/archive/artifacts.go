package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// ArtifactVersion is the schema version of save artifacts.
const ArtifactVersion = 1

// SubagentEvents is one subagent's event stream inside a full artifact.
type SubagentEvents struct {
	AgentID string        `json:"agentId"`
	Events  []model.Event `json:"events"`
}

// Artifact is one saved view of a conversation.
type Artifact struct {
	SchemaVersion  int                   `json:"schemaVersion"`
	ConversationID string                `json:"conversationId"`
	Project        model.ProjectIdentity `json:"project"`
	Mode           filter.Mode           `json:"mode"`
	Label          string                `json:"label,omitempty"`
	Title          string                `json:"title,omitempty"`
	SourcePath     string                `json:"sourcePath,omitempty"`
	TimeRange      model.TimeRange       `json:"timeRange"`
	Tokens         model.TokenReport     `json:"tokens"`
	// ParseWarnings counts malformed transcript lines skipped while reading.
	ParseWarnings int           `json:"parseWarnings,omitempty"`
	Events        []model.Event `json:"events"`
	// Subagents is only populated in the full view.
	Subagents []SubagentEvents `json:"subagents,omitempty"`
}

var labelRe = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeLabel lowercases a label and replaces anything outside [a-z0-9]
// with "-".
func SanitizeLabel(label string) string {
	return strings.Trim(labelRe.ReplaceAllString(strings.ToLower(label), "-"), "-")
}

// ArtifactName is <YYYY-MM-DD>_<id[:8]>_<mode>[_<label>].json.
func ArtifactName(m model.Manifest, mode filter.Mode, label string) string {
	date := "undated"
	if !m.TimeRange.Start.IsZero() {
		date = m.TimeRange.Start.UTC().Format("2006-01-02")
	}
	name := date + "_" + m.ShortID() + "_" + string(mode)
	if l := SanitizeLabel(label); l != "" {
		name += "_" + l
	}
	return name + ".json"
}

// ArtifactRelPath is the artifact's path relative to the archive root.
func ArtifactRelPath(m model.Manifest, mode filter.Mode, label string) string {
	return filepath.Join(ConversationsDir, m.Project.EncodedID, ArtifactName(m, mode, label))
}

// WriteArtifacts saves one artifact per view and returns their paths
// relative to root, keyed by mode.
func WriteArtifacts(root string, m model.Manifest, views map[filter.Mode][]model.Event, subagents []SubagentEvents) (map[string]string, error) {
	out := make(map[string]string, len(views))
	for _, mode := range filter.Modes {
		events, ok := views[mode]
		if !ok {
			continue
		}
		a := Artifact{
			SchemaVersion:  ArtifactVersion,
			ConversationID: m.ConversationID,
			Project:        m.Project,
			Mode:           mode,
			Label:          m.Label,
			Title:          m.Title,
			SourcePath:     m.SourcePath,
			TimeRange:      m.TimeRange,
			Tokens:         m.Stats.Estimates,
			ParseWarnings:  m.Stats.Warnings,
			Events:         events,
		}
		if a.Events == nil {
			a.Events = []model.Event{}
		}
		if mode == filter.Full {
			a.Subagents = subagents
		}

		rel := ArtifactRelPath(m, mode, m.Label)
		if err := fsutil.WriteJSONAtomic(filepath.Join(root, rel), a, true); err != nil {
			return nil, fmt.Errorf("writing %s artifact for %s: %w", mode, m.ConversationID, err)
		}
		out[string(mode)] = rel
	}
	return out, nil
}

// ReadArtifact loads an artifact file.
func ReadArtifact(path string) (Artifact, error) {
	var a Artifact
	if err := fsutil.ReadJSON(path, &a); err != nil {
		return Artifact{}, err
	}
	if a.SchemaVersion > ArtifactVersion {
		return Artifact{}, fmt.Errorf("%s: artifact version %d: %w", path, a.SchemaVersion, ErrUnsupportedVersion)
	}
	return a, nil
}

// FullArtifacts lists every full-view artifact under root, sorted.
func FullArtifacts(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, ConversationsDir, "*", "*.json"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range matches {
		parts := strings.SplitN(strings.TrimSuffix(filepath.Base(p), ".json"), "_", 4)
		if len(parts) >= 3 && parts[2] == string(filter.Full) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadEvents reads the events of a manifest's saved view.
func (ix *Index) LoadEvents(m model.Manifest, mode filter.Mode) (Artifact, error) {
	rel, ok := m.Artifacts[string(mode)]
	if !ok {
		return Artifact{}, fmt.Errorf("%s view of %s: %w", mode, m.ConversationID, ErrNotFound)
	}
	path := filepath.Join(ix.root, rel)
	if !fsutil.Exists(path) {
		return Artifact{}, fmt.Errorf("%s view of %s: %w", mode, m.ConversationID, ErrNotFound)
	}
	return ReadArtifact(path)
}
