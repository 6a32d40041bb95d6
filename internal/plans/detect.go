package plans

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Candidate is a plan found in one conversation, before deduplication.
type Candidate struct {
	Title       string
	Content     string
	Fingerprint string
	Source      model.PlanSource
	// ContentAvailable is false for written plans whose file could not be read.
	ContentAvailable bool
	// OriginalPath is the written file's path; empty for embedded plans.
	OriginalPath string
	EventID      string
	Timestamp    time.Time
}

// Result is the outcome of scanning one event stream.
type Result struct {
	Candidates []Candidate
	// Rejected counts candidates that failed validation.
	Rejected int
	Warnings []string
}

// writeTools are the tool names whose input carries a file path and body.
var writeTools = map[string]bool{"Write": true, "write_file": true, "create_file": true}

// Extract scans events for embedded and written plans. When agent is set,
// the events come from a subagent and every plan is agent-generated.
func Extract(events []model.Event, agent bool, opts Options) Result {
	opts = opts.withDefaults()
	var res Result
	seen := make(map[string]bool)

	add := func(c Candidate) {
		if agent {
			c.Source = model.PlanAgentGenerated
		}
		// The same plan is often restated later in a conversation.
		if seen[c.Fingerprint] {
			return
		}
		seen[c.Fingerprint] = true
		res.Candidates = append(res.Candidates, c)
	}

	for _, ev := range events {
		switch ev.Kind {
		case model.KindUserMessage:
			if agent {
				continue
			}
			for _, c := range embedded(ev, opts, &res) {
				add(c)
			}
		case model.KindToolCall:
			if c, ok := written(ev, opts, &res); ok {
				add(c)
			}
		}
	}
	return res
}

// embedded finds plans pasted into a user message after a trigger phrase.
func embedded(ev model.Event, opts Options, res *Result) []Candidate {
	body, ok := stripTrigger(ev.Payload.Text, opts.TriggerPhrases)
	if !ok {
		return nil
	}

	var out []Candidate
	if segments := splitPlans(body); len(segments) > 1 && allValid(segments, opts) {
		for _, seg := range segments {
			out = append(out, newCandidate(seg, "", model.PlanEmbedded, ev))
		}
		return out
	}

	if valid, why := Validate(body, "", opts); !valid {
		res.Rejected++
		res.Warnings = append(res.Warnings, fmt.Sprintf("event %s: embedded plan rejected: %s", ev.ID, why))
		return nil
	}
	return []Candidate{newCandidate(body, "", model.PlanEmbedded, ev)}
}

// written finds plan files created through a write tool, and plans handed
// to ExitPlanMode.
func written(ev model.Event, opts Options, res *Result) (Candidate, bool) {
	in := ev.Payload.ToolInput

	if ev.Payload.ToolName == "ExitPlanMode" {
		content, _ := in["plan"].(string)
		if valid, why := Validate(content, "", opts); !valid {
			res.Rejected++
			res.Warnings = append(res.Warnings, fmt.Sprintf("event %s: plan-mode plan rejected: %s", ev.ID, why))
			return Candidate{}, false
		}
		return newCandidate(content, "", model.PlanAgentGenerated, ev), true
	}

	if !writeTools[ev.Payload.ToolName] {
		return Candidate{}, false
	}
	path, _ := in["file_path"].(string)
	if path == "" {
		path, _ = in["path"].(string)
	}
	if !IsPlanPath(path) {
		return Candidate{}, false
	}

	content, _ := in["content"].(string)
	if content == "" {
		data, err := opts.ReadFile(path)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("event %s: plan file %s unreadable: %v", ev.ID, path, err))
			if codeExtensions[strings.ToLower(filepath.Ext(path))] {
				return Candidate{}, false
			}
			return Candidate{
				Title:        ExtractTitle("", path),
				Fingerprint:  pathFingerprint(path),
				Source:       model.PlanWritten,
				OriginalPath: path,
				EventID:      ev.ID,
				Timestamp:    ev.Timestamp,
			}, true
		}
		content = string(data)
	}

	if valid, why := Validate(content, path, opts); !valid {
		res.Rejected++
		res.Warnings = append(res.Warnings, fmt.Sprintf("event %s: %s rejected: %s", ev.ID, path, why))
		return Candidate{}, false
	}
	return newCandidate(content, path, model.PlanWritten, ev), true
}

func newCandidate(content, path string, src model.PlanSource, ev model.Event) Candidate {
	content = strings.TrimSpace(content)
	return Candidate{
		Title:            ExtractTitle(content, path),
		Content:          content,
		Fingerprint:      Fingerprint(content),
		Source:           src,
		ContentAvailable: true,
		OriginalPath:     path,
		EventID:          ev.ID,
		Timestamp:        ev.Timestamp,
	}
}

// IsPlanPath reports whether a written file looks like a plan: it sits in a
// directory named "plans", or its markdown file name mentions "plan".
func IsPlanPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.EqualFold(filepath.Base(filepath.Dir(clean)), "plans") {
		return true
	}
	name := strings.ToLower(filepath.Base(clean))
	ext := filepath.Ext(name)
	return (ext == ".md" || ext == ".markdown") && strings.Contains(name, "plan")
}

// stripTrigger removes a leading trigger phrase, case-insensitively.
func stripTrigger(text string, phrases []string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	best := ""
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(best):]), true
}

var topHeadingRe = regexp.MustCompile(`(?m)^#[ \t]+\S`)

// splitPlans cuts a body at its top-level headings. Text before the first
// heading stays with the first segment.
func splitPlans(body string) []string {
	locs := topHeadingRe.FindAllStringIndex(body, -1)
	if len(locs) < 2 {
		return []string{body}
	}
	segments := make([]string, 0, len(locs))
	for i := range locs {
		start := locs[i][0]
		if i == 0 {
			start = 0
		}
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segments = append(segments, strings.TrimSpace(body[start:end]))
	}
	return segments
}

func allValid(segments []string, opts Options) bool {
	for _, s := range segments {
		if ok, _ := Validate(s, "", opts); !ok {
			return false
		}
	}
	return true
}
