// Package plans finds plan documents in a conversation's event stream and
// deduplicates them across conversations.
package plans

import "os"

// Options tunes detection and deduplication.
type Options struct {
	// MinLength is the minimum plan length in characters.
	MinLength int
	// CodeDensityThreshold is the largest tolerated share of code-like lines.
	CodeDensityThreshold float64
	// SimilarityThreshold is the Jaccard score at or above which two plans
	// with the same title are merged.
	SimilarityThreshold float64
	// LengthTolerance bounds the relative length difference of merge candidates.
	LengthTolerance float64
	// TriggerPhrases introduce an embedded plan at the start of a user message.
	TriggerPhrases []string

	// ReadFile loads a written plan whose content is not in the transcript.
	ReadFile func(path string) ([]byte, error)
}

// DefaultTriggerPhrases are the preambles Claude Code uses when a plan is
// handed back for implementation.
var DefaultTriggerPhrases = []string{
	"Implement the following plan:",
	"Implement the following plan",
	"Please implement the following plan:",
	"Execute the following plan:",
	"Follow this plan:",
	"Here is the plan:",
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MinLength:            100,
		CodeDensityThreshold: 0.3,
		SimilarityThreshold:  0.9,
		LengthTolerance:      0.2,
		TriggerPhrases:       DefaultTriggerPhrases,
		ReadFile:             os.ReadFile,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinLength <= 0 {
		o.MinLength = d.MinLength
	}
	if o.CodeDensityThreshold <= 0 {
		o.CodeDensityThreshold = d.CodeDensityThreshold
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	if o.LengthTolerance <= 0 {
		o.LengthTolerance = d.LengthTolerance
	}
	if len(o.TriggerPhrases) == 0 {
		o.TriggerPhrases = d.TriggerPhrases
	}
	if o.ReadFile == nil {
		o.ReadFile = d.ReadFile
	}
	return o
}
