package providers

import (
	"context"
	"strings"
	"testing"

	"videoTriage/core"
)

func wordsFrom(text string, start, step float64) []core.Word {
	var words []core.Word
	t := start
	for _, tok := range strings.Fields(text) {
		words = append(words, core.Word{Start: t, End: t + step, Text: tok})
		t += step
	}
	return words
}

func TestVaderLabelsBySentence(t *testing.T) {
	v := NewVaderSentiment()
	words := wordsFrom("I am terrified and scared of him. The weather was nice today.", 0, 0.5)

	utts, err := v.Analyze(context.Background(), core.Transcript{Words: words}, "en-US")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(utts) != 2 {
		t.Fatalf("got %d utterances, want 2", len(utts))
	}
	if utts[0].SentimentLabel != "negative" {
		t.Errorf("utterance 0 label = %q (score %.2f), want negative",
			utts[0].SentimentLabel, utts[0].SentimentScore)
	}
	if utts[1].SentimentLabel != "positive" {
		t.Errorf("utterance 1 label = %q (score %.2f), want positive",
			utts[1].SentimentLabel, utts[1].SentimentScore)
	}
	if utts[0].Start != 0 || utts[1].Start <= utts[0].Start {
		t.Errorf("utterance bounds look wrong: %+v then %+v", utts[0], utts[1])
	}
}

func TestVaderNeutralBand(t *testing.T) {
	if got := sentimentLabel(0.1); got != "neutral" {
		t.Errorf("sentimentLabel(0.1) = %q, want neutral", got)
	}
	if got := sentimentLabel(-0.19); got != "neutral" {
		t.Errorf("sentimentLabel(-0.19) = %q, want neutral", got)
	}
	if got := sentimentLabel(0.2); got != "positive" {
		t.Errorf("sentimentLabel(0.2) = %q, want positive", got)
	}
	if got := sentimentLabel(-0.2); got != "negative" {
		t.Errorf("sentimentLabel(-0.2) = %q, want negative", got)
	}
}

func TestSplitSentencesCapsUnpunctuatedRuns(t *testing.T) {
	var words []core.Word
	for i := 0; i < 45; i++ {
		words = append(words, core.Word{Start: float64(i), End: float64(i + 1), Text: "word"})
	}
	sentences := splitSentences(words)
	if len(sentences) != 3 {
		t.Fatalf("45 unpunctuated words split into %d sentences, want 3", len(sentences))
	}
	if len(sentences[0]) != 20 || len(sentences[2]) != 5 {
		t.Errorf("sentence sizes = %d/%d/%d", len(sentences[0]), len(sentences[1]), len(sentences[2]))
	}
}

func TestExtractMentions(t *testing.T) {
	words := wordsFrom("Then Carlos grabbed the phone and Carlos left with Maria.", 0, 0.5)
	mentions := extractMentions(words)
	if len(mentions) != 2 || mentions[0] != "Carlos" || mentions[1] != "Maria" {
		t.Errorf("mentions = %v, want [Carlos Maria]", mentions)
	}
}
