// Package tokens estimates the token footprint of conversation views.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Strategy names how counts were produced.
const (
	StrategyTokenizer = "tokenizer"
	StrategyHeuristic = "heuristic"
)

// EncodingNone disables the tokenizer.
const EncodingNone = "none"

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
	Strategy() string
}

// Estimator turns filtered views into token reports.
type Estimator struct {
	counter Counter
}

// New builds an Estimator for the named encoding. When the encoding is
// "none" or fails to load, counts fall back to charsPerToken characters
// per token.
func New(encoding string, charsPerToken int) *Estimator {
	fallback := Heuristic{CharsPerToken: charsPerToken}
	if encoding == "" || strings.EqualFold(encoding, EncodingNone) {
		return &Estimator{counter: fallback}
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("tokenizer unavailable, using character heuristic")
		return &Estimator{counter: fallback}
	}
	return &Estimator{counter: &Tiktoken{codec: codec, fallback: fallback}}
}

// NewWithCounter builds an Estimator around an arbitrary Counter.
func NewWithCounter(c Counter) *Estimator {
	return &Estimator{counter: c}
}

// Strategy reports the counting strategy in use.
func (e *Estimator) Strategy() string {
	return e.counter.Strategy()
}

// Count estimates the tokens in events, summing each event's content.
func (e *Estimator) Count(events []model.Event) int64 {
	var total int64
	for _, ev := range events {
		if text := ev.ContentText(); text != "" {
			total += int64(e.counter.Count(text))
		}
	}
	return total
}

// Report estimates all three views of events. Reduction percentages are
// relative to the full view and are computed the same way for every
// strategy.
func (e *Estimator) Report(events []model.Event) model.TokenReport {
	views := make(map[filter.Mode][]model.Event, len(filter.Modes))
	for _, m := range filter.Modes {
		views[m] = filter.Apply(events, m)
	}
	return e.ReportViews(views)
}

// ReportViews is Report over views that were already filtered.
func (e *Estimator) ReportViews(views map[filter.Mode][]model.Event) model.TokenReport {
	full := e.Count(views[filter.Full])
	reduced := e.Count(views[filter.Reduced])
	messages := e.Count(views[filter.MessagesOnly])

	// Tokenizers are not additive over edits, so stripping a block can in
	// rare cases cost a token. The narrower view never reports more.
	if reduced > full {
		reduced = full
	}
	if messages > reduced {
		messages = reduced
	}

	return model.TokenReport{
		Strategy: e.Strategy(),
		Views: map[string]model.ViewEstimate{
			string(filter.Full):         {Events: len(views[filter.Full]), Tokens: full},
			string(filter.Reduced):      {Events: len(views[filter.Reduced]), Tokens: reduced, ReductionPercent: Reduction(full, reduced)},
			string(filter.MessagesOnly): {Events: len(views[filter.MessagesOnly]), Tokens: messages, ReductionPercent: Reduction(full, messages)},
		},
	}
}

// Reduction returns how much smaller view is than full, in percent rounded
// to one decimal. It is 0 when full is 0.
func Reduction(full, view int64) float64 {
	if full <= 0 {
		return 0
	}
	pct := float64(full-view) / float64(full) * 100
	return math.Round(pct*10) / 10
}

// Heuristic counts one token per CharsPerToken characters.
type Heuristic struct {
	CharsPerToken int
}

// Count implements Counter.
func (h Heuristic) Count(text string) int {
	n := h.CharsPerToken
	if n <= 0 {
		n = 4
	}
	return len(text) / n
}

// Strategy implements Counter.
func (Heuristic) Strategy() string { return StrategyHeuristic }

// Tiktoken counts with a BPE codec. A failed encode falls back to the
// heuristic for that text only.
type Tiktoken struct {
	codec    tokenizer.Codec
	fallback Heuristic

	once sync.Once
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		t.once.Do(func() {
			log.Debug().Err(err).Msg("tokenizer encode failed, counting characters")
		})
		return t.fallback.Count(text)
	}
	return len(ids)
}

// Strategy implements Counter.
func (*Tiktoken) Strategy() string { return StrategyTokenizer }
