package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemPrompt frames the reasoning step. The response contract is part
// of the prompt; the fusion engine still validates every reply.
const systemPrompt = `You are a specialist assistant for women's health and safety triage.
You analyze multimodal timelines (facial emotion, transcribed speech, text sentiment)
for indicators of possible domestic-violence risk and justify the risk level you find.
You respond with a single JSON object and nothing else.`

// renderPrompt serializes the structured timeline and the response
// contract into one user prompt. On repair attempts the prior output and
// the violation are included so the model can correct itself.
func renderPrompt(req ReasoningRequest) (string, error) {
	summary, err := json.Marshal(req.Summary)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("MULTIMODAL TIMELINE (JSON):\n")
	b.Write(summary)
	b.WriteString("\n\n")

	for _, m := range req.Summary.MissingModalities {
		fmt.Fprintf(&b, "IMPORTANT: the %s modality permanently failed for this request. "+
			"Your narrative MUST explicitly state that the %s modality is missing from this assessment.\n", m, m)
	}

	b.WriteString("\nRespond with exactly this JSON object:\n")
	b.WriteString(`{"risk_score": <integer 0-100>, "classification": "<Low|Medium|High>", "narrative": "<detailed rationale>", "cited_windows": [{"start": <seconds>, "end": <seconds>}]}`)
	b.WriteString("\nCite at least one time window from the timeline that supports the score. Do not wrap the JSON in markdown.")

	if req.Repair != "" {
		b.WriteString("\n\nYour previous response was rejected: ")
		b.WriteString(req.Repair)
		b.WriteString("\nPrevious response:\n")
		b.WriteString(req.PriorOutput)
		b.WriteString("\nReturn a corrected JSON object.")
	}
	if req.Instruction != "" {
		b.WriteString("\n")
		b.WriteString(req.Instruction)
	}
	return b.String(), nil
}
