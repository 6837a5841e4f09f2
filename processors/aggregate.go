package processors

import (
	"sort"

	"videoTriage/core"
)

// Aggregator merges per-modality results into one time-ordered,
// provenance-tagged timeline. Nothing is dropped: overlapping or adjacent
// windows are unioned into spans so every piece of evidence stays
// reachable from a citation.
type Aggregator struct {
	// AdjacencyGapSec is the maximum gap at which two windows still union
	// into one span.
	AdjacencyGapSec float64
}

// Build produces the structured fusion input.
func (a *Aggregator) Build(duration float64, events []core.EmotionEvent, utts []core.Utterance, missing []core.Modality) *core.TimelineSummary {
	entries := make([]core.TimelineEntry, 0, len(events)+len(utts))
	for _, e := range events {
		entries = append(entries, core.TimelineEntry{
			Start:      e.Start,
			End:        e.End,
			Modality:   core.ModalityVisual,
			Kind:       "emotion",
			Label:      e.Label,
			Confidence: e.Confidence,
		})
	}
	negatives := 0
	for _, u := range utts {
		entries = append(entries, core.TimelineEntry{
			Start:      u.Start,
			End:        u.End,
			Modality:   core.ModalitySentiment,
			Kind:       "utterance",
			Label:      u.SentimentLabel,
			Text:       u.Text,
			Confidence: absf(u.SentimentScore),
		})
		if u.SentimentLabel == "negative" {
			negatives++
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Start != entries[j].Start {
			return entries[i].Start < entries[j].Start
		}
		return entries[i].End < entries[j].End
	})

	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Label]++
	}

	negRatio := 0.0
	if len(utts) > 0 {
		negRatio = float64(negatives) / float64(len(utts))
	}

	return &core.TimelineSummary{
		DurationSec:       duration,
		Entries:           entries,
		Spans:             unionSpans(entries, a.AdjacencyGapSec),
		LabelCounts:       counts,
		NegativeRatio:     negRatio,
		MissingModalities: missing,
	}
}

// unionSpans collapses the sorted entries into maximal windows where
// overlapping or near-adjacent entries merge.
func unionSpans(entries []core.TimelineEntry, gap float64) []core.Window {
	var spans []core.Window
	for _, e := range entries {
		w := core.Window{Start: e.Start, End: e.End}
		if n := len(spans); n > 0 && spans[n-1].Overlaps(w, gap) {
			if w.End > spans[n-1].End {
				spans[n-1].End = w.End
			}
			continue
		}
		spans = append(spans, w)
	}
	return spans
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
