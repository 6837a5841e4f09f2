package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"videoTriage/core"
)

// MockReasoning is the deterministic fallback reasoning capability. Its
// weighting policy is intentionally simple and documented so the score it
// yields for a given timeline is reproducible: a base of 15 plus up to 55
// points for the share of negative utterances plus up to 30 points for
// the share of distress emotions.
type MockReasoning struct{}

var distressLabels = map[string]bool{
	"FEAR": true, "SAD": true, "ANGRY": true, "DISGUSTED": true,
}

func (MockReasoning) Assess(ctx context.Context, req ReasoningRequest) (string, error) {
	s := req.Summary

	emotions, distress := 0, 0
	for _, e := range s.Entries {
		if e.Kind != "emotion" {
			continue
		}
		emotions++
		if distressLabels[strings.ToUpper(e.Label)] {
			distress++
		}
	}
	distressShare := 0.0
	if emotions > 0 {
		distressShare = float64(distress) / float64(emotions)
	}

	score := int(math.Round(15 + 55*s.NegativeRatio + 30*distressShare))
	if score > 100 {
		score = 100
	}

	cited := citeWindows(s)
	narrative := buildMockNarrative(s, score, distressShare)

	out := map[string]any{
		"risk_score":     score,
		"classification": string(core.ClassifyScore(score)),
		"narrative":      narrative,
		"cited_windows":  cited,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// citeWindows picks the spans holding negative or distress entries, up to
// three, falling back to the first span.
func citeWindows(s core.TimelineSummary) []core.Window {
	scoreSpan := func(w core.Window) int {
		n := 0
		for _, e := range s.Entries {
			if e.Start >= w.End || e.End <= w.Start {
				continue
			}
			if e.Kind == "utterance" && e.Label == "negative" {
				n++
			}
			if e.Kind == "emotion" && distressLabels[strings.ToUpper(e.Label)] {
				n++
			}
		}
		return n
	}

	type ranked struct {
		w core.Window
		n int
	}
	var rs []ranked
	for _, w := range s.Spans {
		if n := scoreSpan(w); n > 0 {
			rs = append(rs, ranked{w, n})
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].n > rs[j].n })
	if len(rs) > 3 {
		rs = rs[:3]
	}

	var out []core.Window
	for _, r := range rs {
		out = append(out, r.w)
	}
	if len(out) == 0 && len(s.Spans) > 0 {
		out = append(out, s.Spans[0])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func buildMockNarrative(s core.TimelineSummary, score int, distressShare float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated triage assessment (score %d, %s risk). ", score, core.ClassifyScore(score))
	fmt.Fprintf(&b, "%.0f%% of transcribed utterances carry negative sentiment and %.0f%% of observed facial expressions indicate distress. ",
		100*s.NegativeRatio, 100*distressShare)
	for _, m := range s.MissingModalities {
		fmt.Fprintf(&b, "The %s modality was unavailable for this request and its signals are absent from this assessment. ", m)
	}
	b.WriteString("Review the cited time windows before acting on this result.")
	return b.String()
}
