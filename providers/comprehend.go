package providers

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comptypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"

	"videoTriage/core"
)

// ComprehendSentiment scores transcript sentences through Amazon
// Comprehend. Sentiment calls are synchronous, so the adapter completes
// the whole job inside one poll.
type ComprehendSentiment struct {
	client *comprehend.Client
}

func NewComprehendSentiment(cfg aws.Config) *ComprehendSentiment {
	return &ComprehendSentiment{client: comprehend.NewFromConfig(cfg)}
}

func (c *ComprehendSentiment) Analyze(ctx context.Context, tr core.Transcript, language string) ([]core.Utterance, error) {
	lang := comptypes.LanguageCode(baseLanguage(language))
	sentences := splitSentences(tr.Words)

	utts := make([]core.Utterance, 0, len(sentences))
	for _, s := range sentences {
		text := joinWords(s)
		if text == "" {
			continue
		}
		out, err := c.client.DetectSentiment(ctx, &comprehend.DetectSentimentInput{
			Text:         aws.String(text),
			LanguageCode: lang,
		})
		if err != nil {
			return nil, core.WrapError(core.ErrTransient, "comprehend_failed", err)
		}
		utts = append(utts, core.Utterance{
			Start:          s[0].Start,
			End:            s[len(s)-1].End,
			Text:           text,
			SentimentLabel: strings.ToLower(string(out.Sentiment)),
			SentimentScore: compoundScore(out.SentimentScore),
			Mentions:       extractMentions(s),
		})
	}
	return utts, nil
}

// compoundScore collapses Comprehend's per-class probabilities into one
// signed score comparable to VADER's compound value.
func compoundScore(s *comptypes.SentimentScore) float64 {
	if s == nil {
		return 0
	}
	return float64(aws.ToFloat32(s.Positive)) - float64(aws.ToFloat32(s.Negative))
}

// baseLanguage reduces a BCP-47 tag to the primary subtag Comprehend
// expects ("pt-BR" -> "pt").
func baseLanguage(language string) string {
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
