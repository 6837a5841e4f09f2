package processors

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"videoTriage/core"
)

func TestBuildOrdersAndTagsEntries(t *testing.T) {
	agg := &Aggregator{AdjacencyGapSec: 1.0}

	events := []core.EmotionEvent{
		{Start: 10, End: 15, Label: "FEAR", Confidence: 0.9},
		{Start: 0, End: 5, Label: "CALM", Confidence: 0.8},
	}
	utts := []core.Utterance{
		{Start: 2, End: 4, Text: "stop it", SentimentLabel: "negative", SentimentScore: -0.6},
	}

	sum := agg.Build(20, events, utts, nil)

	if len(sum.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sum.Entries))
	}
	for i := 1; i < len(sum.Entries); i++ {
		if sum.Entries[i].Start < sum.Entries[i-1].Start {
			t.Fatalf("entries out of order at %d: %.1f after %.1f",
				i, sum.Entries[i].Start, sum.Entries[i-1].Start)
		}
	}

	// Provenance tags survive the merge.
	first := sum.Entries[0]
	if first.Modality != core.ModalityVisual || first.Kind != "emotion" {
		t.Errorf("entry 0 provenance = %s/%s, want visual/emotion", first.Modality, first.Kind)
	}
	second := sum.Entries[1]
	if second.Modality != core.ModalitySentiment || second.Kind != "utterance" {
		t.Errorf("entry 1 provenance = %s/%s, want sentiment/utterance", second.Modality, second.Kind)
	}
	if second.Confidence != 0.6 {
		t.Errorf("utterance confidence = %v, want |score| = 0.6", second.Confidence)
	}

	if sum.NegativeRatio != 1.0 {
		t.Errorf("negative ratio = %v, want 1.0", sum.NegativeRatio)
	}
	if sum.LabelCounts["FEAR"] != 1 || sum.LabelCounts["negative"] != 1 {
		t.Errorf("unexpected label counts: %v", sum.LabelCounts)
	}
}

func TestBuildUnionsAdjacentWindowsIntoSpans(t *testing.T) {
	agg := &Aggregator{AdjacencyGapSec: 1.0}

	events := []core.EmotionEvent{
		{Start: 0, End: 5, Label: "CALM"},
		{Start: 5.5, End: 10, Label: "FEAR"},  // within the 1s gap
		{Start: 20, End: 25, Label: "ANGRY"},  // disjoint
	}

	sum := agg.Build(30, events, nil, nil)

	want := []core.Window{{Start: 0, End: 10}, {Start: 20, End: 25}}
	if diff := cmp.Diff(want, sum.Spans); diff != "" {
		t.Errorf("span union mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEmptyInputs(t *testing.T) {
	agg := &Aggregator{AdjacencyGapSec: 1.0}
	sum := agg.Build(30, nil, nil, []core.Modality{core.ModalityVisual})

	if len(sum.Entries) != 0 || len(sum.Spans) != 0 {
		t.Errorf("empty inputs produced entries=%d spans=%d", len(sum.Entries), len(sum.Spans))
	}
	if sum.NegativeRatio != 0 {
		t.Errorf("negative ratio with no utterances = %v, want 0", sum.NegativeRatio)
	}
	if len(sum.MissingModalities) != 1 || sum.MissingModalities[0] != core.ModalityVisual {
		t.Errorf("missing modalities = %v", sum.MissingModalities)
	}
}
