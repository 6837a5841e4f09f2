package providers

import (
	"context"
	"strings"
	"unicode"

	"github.com/jonreiter/govader"

	"videoTriage/core"
)

// VaderSentiment scores transcript sentences locally with VADER. It needs
// no external service and is the default sentiment capability.
type VaderSentiment struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderSentiment() *VaderSentiment {
	return &VaderSentiment{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *VaderSentiment) Analyze(ctx context.Context, tr core.Transcript, language string) ([]core.Utterance, error) {
	sentences := splitSentences(tr.Words)
	utts := make([]core.Utterance, 0, len(sentences))
	for _, s := range sentences {
		text := joinWords(s)
		if text == "" {
			continue
		}
		scores := v.analyzer.PolarityScores(text)
		utts = append(utts, core.Utterance{
			Start:          s[0].Start,
			End:            s[len(s)-1].End,
			Text:           text,
			SentimentLabel: sentimentLabel(scores.Compound),
			SentimentScore: scores.Compound,
			Mentions:       extractMentions(s),
		})
	}
	return utts, nil
}

// sentimentLabel buckets a VADER compound score.
func sentimentLabel(compound float64) string {
	switch {
	case compound >= 0.20:
		return "positive"
	case compound <= -0.20:
		return "negative"
	default:
		return "neutral"
	}
}

// splitSentences groups words into sentences on terminal punctuation,
// capping sentence length so unpunctuated ASR output still yields
// reasonably sized utterances.
func splitSentences(words []core.Word) [][]core.Word {
	const maxWords = 20
	var out [][]core.Word
	var cur []core.Word
	for _, w := range words {
		cur = append(cur, w)
		if strings.HasSuffix(w.Text, ".") || strings.HasSuffix(w.Text, "!") ||
			strings.HasSuffix(w.Text, "?") || len(cur) >= maxWords {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func joinWords(words []core.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w.Text != "" {
			parts = append(parts, w.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// extractMentions collects capitalized non-initial tokens as entity
// mention candidates.
func extractMentions(words []core.Word) []string {
	var mentions []string
	seen := map[string]bool{}
	for i, w := range words {
		if i == 0 || w.Text == "" {
			continue
		}
		t := strings.TrimFunc(w.Text, func(r rune) bool { return !unicode.IsLetter(r) })
		if t == "" || !unicode.IsUpper([]rune(t)[0]) || seen[t] {
			continue
		}
		seen[t] = true
		mentions = append(mentions, t)
	}
	return mentions
}
