package plans

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	headingRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]+\S`)

	// codeLineRe matches lines that read as source code rather than prose.
	codeLineRe = regexp.MustCompile(`^\s*(?:` +
		`import\s|from\s+\S+\s+import\s|package\s+\w|#include\s|using\s+[\w.]+;|` +
		`func\s|function\s|def\s|class\s+\w|interface\s+\w|struct\s+\w|` +
		`const\s|let\s|var\s|export\s|public\s|private\s|protected\s|static\s|` +
		`return\b|if\s*\(|for\s*\(|while\s*\(|` +
		`[{}\])]+[;,]?\s*$|` +
		`.*[;{]\s*$)`)
)

// codeExtensions are file suffixes that are never plan documents.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".rb": true, ".rs": true, ".java": true, ".kt": true,
	".kts": true, ".swift": true, ".c": true, ".h": true, ".cc": true, ".cpp": true,
	".hpp": true, ".cs": true, ".php": true, ".scala": true, ".sh": true, ".bash": true,
	".zsh": true, ".ps1": true, ".lua": true, ".pl": true, ".r": true, ".sql": true,
	".dart": true, ".ex": true, ".exs": true, ".erl": true, ".hs": true, ".clj": true,
	".vue": true, ".svelte": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".css": true, ".scss": true, ".html": true, ".xml": true,
}

// Rejection says why a candidate failed validation.
type Rejection string

const (
	RejectTooShort  Rejection = "too short"
	RejectNoHeading Rejection = "no markdown heading"
	RejectCodeFile  Rejection = "code file extension"
	RejectCodeBody  Rejection = "body reads as source code"
)

// Validate applies the plan predicate: long enough, has a heading, and is
// not source code. path may be empty for embedded plans.
func Validate(content, path string, opts Options) (bool, Rejection) {
	opts = opts.withDefaults()

	if path != "" && codeExtensions[strings.ToLower(filepath.Ext(path))] {
		return false, RejectCodeFile
	}
	body := strings.TrimSpace(content)
	if utf8.RuneCountInString(body) < opts.MinLength {
		return false, RejectTooShort
	}
	_, rest := splitFrontMatter(body)
	if !headingRe.MatchString(rest) {
		return false, RejectNoHeading
	}
	if CodeDensity(rest) > opts.CodeDensityThreshold {
		return false, RejectCodeBody
	}
	return true, ""
}

// CodeDensity is the share of non-empty lines, outside headings, that look
// like source code. Lines inside fenced blocks count.
func CodeDensity(content string) float64 {
	total, code := 0, 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}
		total++
		if strings.HasPrefix(trimmed, "#") && headingRe.MatchString(trimmed) {
			continue
		}
		if codeLineRe.MatchString(line) {
			code++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(code) / float64(total)
}

// ExtractTitle returns the first heading, then a front matter title, then
// the file's base name without extension.
func ExtractTitle(content, path string) string {
	fm, rest := splitFrontMatter(strings.TrimSpace(content))
	if loc := headingRe.FindStringIndex(rest); loc != nil {
		line := rest[loc[0]:]
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
			return t
		}
	}
	if fm.Title != "" {
		return strings.TrimSpace(fm.Title)
	}
	if path != "" {
		base := filepath.Base(path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "Untitled plan"
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// splitFrontMatter separates a leading YAML block delimited by "---" lines.
// Malformed front matter is left in the body.
func splitFrontMatter(content string) (frontMatter, string) {
	var fm frontMatter
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return fm, content
	}
	rest := content[strings.IndexByte(content, '\n')+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return frontMatter{}, content
	}
	return fm, body
}
