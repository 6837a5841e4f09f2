package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"videoTriage/core"
	"videoTriage/providers"
)

// FusionEngine turns the structured timeline into a validated assessment.
// The generative step's output is untrusted: every reply is parsed
// against a strict schema, violations trigger a corrective re-prompt up
// to MaxRepairs, and exhausting repairs fails the request. A score is
// never fabricated or defaulted.
type FusionEngine struct {
	Provider   providers.ReasoningProvider
	MaxRepairs int
}

// rawAssessment mirrors the required response schema before validation.
type rawAssessment struct {
	RiskScore      *float64      `json:"risk_score"`
	Classification string        `json:"classification"`
	Narrative      string        `json:"narrative"`
	CitedWindows   []core.Window `json:"cited_windows"`
}

// Fuse runs the reasoning step under the output contract.
func (f *FusionEngine) Fuse(ctx context.Context, summary *core.TimelineSummary) (*core.FusedAssessment, error) {
	req := providers.ReasoningRequest{Summary: *summary}

	var lastViolation string
	for attempt := 0; attempt <= f.MaxRepairs; attempt++ {
		raw, err := f.Provider.Assess(ctx, req)
		if err != nil {
			return nil, err
		}

		assessment, violation := f.validate(raw, summary)
		if violation == "" {
			return assessment, nil
		}
		slog.Warn("fusion output rejected",
			"attempt", attempt+1, "violation", violation)

		lastViolation = violation
		req.Repair = violation
		req.PriorOutput = raw
	}

	return nil, core.NewError(core.ErrSchema, core.CodeSchemaError,
		fmt.Sprintf("fusion output failed schema validation after %d repairs: %s",
			f.MaxRepairs, lastViolation))
}

// validate parses one reply and checks every schema rule. It returns the
// normalized assessment, or a violation string for the repair prompt.
func (f *FusionEngine) validate(raw string, summary *core.TimelineSummary) (*core.FusedAssessment, string) {
	cleaned := stripCodeFences(raw)

	var parsed rawAssessment
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Sprintf("response is not a valid JSON object: %v", err)
	}

	if parsed.RiskScore == nil {
		return nil, "risk_score is missing"
	}
	score := *parsed.RiskScore
	if score != math.Trunc(score) {
		return nil, fmt.Sprintf("risk_score %v is not an integer", score)
	}
	if score < 0 || score > 100 {
		return nil, fmt.Sprintf("risk_score %v is outside [0,100]", score)
	}

	if strings.TrimSpace(parsed.Narrative) == "" {
		return nil, "narrative is empty"
	}

	if len(parsed.CitedWindows) == 0 {
		return nil, "cited_windows is empty; cite at least one timeline window"
	}
	for _, w := range parsed.CitedWindows {
		if w.Start < 0 || w.End > summary.DurationSec || w.End < w.Start {
			return nil, fmt.Sprintf("cited window [%.2f, %.2f] lies outside the source duration %.2fs",
				w.Start, w.End, summary.DurationSec)
		}
	}

	// A permanently failed soft modality must be disclosed, never
	// silently omitted.
	narrative := strings.ToLower(parsed.Narrative)
	for _, m := range summary.MissingModalities {
		if !strings.Contains(narrative, strings.ToLower(string(m))) {
			return nil, fmt.Sprintf("narrative does not disclose that the %s modality is missing", m)
		}
	}

	windows := append([]core.Window(nil), parsed.CitedWindows...)
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	// The band is a fixed function of the score; whatever label the model
	// chose is discarded.
	return &core.FusedAssessment{
		RiskScore:      int(score),
		Classification: core.ClassifyScore(int(score)),
		Narrative:      strings.TrimSpace(parsed.Narrative),
		CitedWindows:   windows,
	}, ""
}

// stripCodeFences unwraps ```json ... ``` blocks models like to emit
// despite instructions.
func stripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
