// Package filter derives the reduced views of a conversation that are saved
// to the archive.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Mode selects a view.
type Mode string

const (
	// Full keeps everything except skip events.
	Full Mode = "full"
	// Reduced drops tool calls and results.
	Reduced Mode = "reduced"
	// MessagesOnly keeps user and assistant messages with reasoning and code
	// blocks replaced by markers.
	MessagesOnly Mode = "messages-only"
)

// Modes lists the views in order of decreasing size.
var Modes = []Mode{Full, Reduced, MessagesOnly}

// ParseMode accepts a mode name, including "messages" as shorthand.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return Full, nil
	case "reduced":
		return Reduced, nil
	case "messages-only", "messages_only", "messages":
		return MessagesOnly, nil
	}
	return "", fmt.Errorf("unknown filter mode %q (want full, reduced, or messages-only)", s)
}

// Markers left in place of stripped blocks.
const (
	ThinkingMarker = "[thinking omitted]"
	CodeMarker     = "[code block omitted]"
)

var (
	thinkingTagRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	codeFenceRe   = regexp.MustCompile("(?s)```[^\\n]*\\n.*?```")
)

// Apply returns the view of events for mode. The input is not modified.
func Apply(events []model.Event, mode Mode) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		switch mode {
		case Full:
			if ev.Kind == model.KindSkip {
				continue
			}
		case Reduced:
			if !keepReduced(ev.Kind) {
				continue
			}
		case MessagesOnly:
			if !ev.Kind.IsMessage() {
				continue
			}
			ev = stripMessage(ev)
		default:
			continue
		}
		out = append(out, ev)
	}
	return out
}

func keepReduced(k model.EventKind) bool {
	return k.IsMessage() || k.IsProgress() || k == model.KindSummary
}

// stripMessage removes reasoning and fenced code from a message copy.
func stripMessage(ev model.Event) model.Event {
	if ev.Payload.Thinking != "" {
		ev.Payload.Thinking = ""
		ev.Payload.Text = joinMarker(ThinkingMarker, ev.Payload.Text)
	}
	ev.Payload.Text = StripBlocks(ev.Payload.Text)
	ev.Payload.Raw = nil
	return ev
}

func joinMarker(marker, text string) string {
	if text == "" {
		return marker
	}
	return marker + "\n\n" + text
}

// StripBlocks replaces every <thinking> section and fenced code block with
// its marker, however short the block.
func StripBlocks(text string) string {
	text = thinkingTagRe.ReplaceAllLiteralString(text, ThinkingMarker)
	return codeFenceRe.ReplaceAllLiteralString(text, CodeMarker)
}
