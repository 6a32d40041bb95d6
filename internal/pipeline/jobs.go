package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
)

// Rebuild sources.
const (
	SourceTranscripts = "transcripts"
	SourceArtifacts   = "artifacts"
)

// Job is one conversation to (re)archive. Exactly one of Conversation and
// ArtifactPath is set.
type Job struct {
	ConversationID string
	EncodedID      string
	Conversation   *source.Conversation
	ArtifactPath   string
	Label          string
}

// Path returns the file the job reads from.
func (j Job) Path() string {
	if j.Conversation != nil {
		return j.Conversation.Path
	}
	return j.ArtifactPath
}

// TranscriptJobs enumerates every conversation under the Claude data
// directory.
func TranscriptJobs(claudeDir string, includeSubagents bool) ([]Job, error) {
	files, err := source.ScanDir(claudeDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", claudeDir, err)
	}
	return conversationJobs(source.Conversations(claudeDir, files, includeSubagents)), nil
}

func conversationJobs(convs []source.Conversation) []Job {
	jobs := make([]Job, 0, len(convs))
	for i := range convs {
		c := convs[i]
		jobs = append(jobs, Job{
			ConversationID: c.SessionID,
			EncodedID:      c.ProjectDir,
			Conversation:   &c,
		})
	}
	return jobs
}

// ArtifactJobs enumerates the full save artifacts under an archive root.
// The conversation id is only known after reading; the short id from the
// file name stands in until then.
func ArtifactJobs(root string) ([]Job, error) {
	paths, err := archive.FullArtifacts(root)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts in %s: %w", root, err)
	}
	jobs := make([]Job, 0, len(paths))
	for _, p := range paths {
		parts := strings.SplitN(filepath.Base(p), "_", 3)
		short := ""
		if len(parts) >= 2 {
			short = parts[1]
		}
		jobs = append(jobs, Job{
			ConversationID: short,
			EncodedID:      filepath.Base(filepath.Dir(p)),
			ArtifactPath:   p,
		})
	}
	return jobs, nil
}
