package source

import (
	"strings"
	"unicode/utf8"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

const titleMaxRunes = 80

// DeriveTitle picks a display title for a conversation: an explicit title
// record wins, then the first sentence of the latest summary, then the
// opening user message.
func DeriveTitle(events []model.Event, explicit string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Kind != model.KindSummary || ev.Payload.Compaction {
			continue
		}
		if s := firstSentence(ev.Payload.Text); s != "" {
			return truncateRunes(s, titleMaxRunes)
		}
	}

	for _, ev := range events {
		if ev.Kind != model.KindUserMessage {
			continue
		}
		text := strings.Join(strings.Fields(ev.Payload.Text), " ")
		if text == "" || strings.HasPrefix(text, "<") {
			continue
		}
		if utf8.RuneCountInString(text) > titleMaxRunes {
			return truncateRunes(text, titleMaxRunes) + "..."
		}
		return text
	}
	return ""
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
