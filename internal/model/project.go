package model

// ResolutionSource records where a project's canonical path came from.
type ResolutionSource string

const (
	// SourceSidecar means the path was read from the upstream tool's sidecar file.
	SourceSidecar ResolutionSource = "sidecar"
	// SourceTranscript means a cwd recorded in a transcript encodes to the same id.
	SourceTranscript ResolutionSource = "transcript"
	// SourceHeuristic means the path is a naive decode of the encoded id.
	SourceHeuristic ResolutionSource = "heuristic"
)

// Authoritative reports whether s can be trusted as identity.
func (s ResolutionSource) Authoritative() bool {
	return s == SourceSidecar || s == SourceTranscript
}

// ProjectIdentity ties an encoded project directory to a filesystem path.
// EncodedID is the grouping key; Slug is for display only and is not unique.
type ProjectIdentity struct {
	EncodedID     string           `json:"encodedId"`
	CanonicalPath string           `json:"canonicalPath"`
	Slug          string           `json:"slug"`
	Source        ResolutionSource `json:"source"`
}
