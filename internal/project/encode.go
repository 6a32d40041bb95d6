// Package project maps Claude Code's encoded project directory names back to
// filesystem paths.
//
// Claude Code names each project directory by replacing every character of
// the absolute path that is not a letter, digit, or hyphen with "-". The
// encoding is not injective: "/Users/a/proj-x" and "/Users/a/proj/x" both
// become "-Users-a-proj-x". Decoding is therefore only ever a display
// fallback, never an identity.
package project

import (
	"path/filepath"
	"strings"
)

// Encode derives the encoded directory name for an absolute path.
func Encode(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range filepath.ToSlash(path) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// NaiveDecode turns every "-" back into a path separator. The result is wrong
// whenever the original path contained a hyphen, dot, or space.
func NaiveDecode(encodedID string) string {
	if encodedID == "" {
		return ""
	}
	p := strings.ReplaceAll(encodedID, "-", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return filepath.FromSlash(p)
}

// knownParents are directory names that commonly precede a project name.
var knownParents = map[string]bool{
	"projects": true, "repos": true, "src": true,
	"code": true, "workspace": true, "dev": true,
}

// HeuristicSlug guesses a display name from an encoded id:
//
//	"-Users-alice-projects-gitlore"        -> "gitlore"
//	"-Users-alice-projects-my-cool-project" -> "my-cool-project"
//
// It takes everything after the last known parent marker, falling back to
// the last non-empty segment.
func HeuristicSlug(encodedID string) string {
	parts := strings.Split(encodedID, "-")

	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			name := strings.Trim(strings.Join(parts[i+1:], "-"), "-")
			if name != "" {
				return name
			}
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return encodedID
}

// Slug returns the final component of a canonical path.
func Slug(canonicalPath string) string {
	clean := filepath.Clean(canonicalPath)
	base := filepath.Base(clean)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
