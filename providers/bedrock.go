package providers

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"videoTriage/core"
)

// BedrockReasoning calls an Anthropic model on Amazon Bedrock using the
// messages API body shape.
type BedrockReasoning struct {
	client  *bedrockruntime.Client
	modelID string
}

func NewBedrockReasoning(cfg aws.Config, modelID string) *BedrockReasoning {
	return &BedrockReasoning{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}
}

type anthropicBody struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func (b *BedrockReasoning) Assess(ctx context.Context, req ReasoningRequest) (string, error) {
	prompt, err := renderPrompt(req)
	if err != nil {
		return "", core.WrapError(core.ErrPermanent, "prompt_build_failed", err)
	}

	body, err := json.Marshal(anthropicBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2000,
		System:           systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicContent{{Type: "text", Text: prompt}}},
		},
	})
	if err != nil {
		return "", core.WrapError(core.ErrPermanent, "prompt_build_failed", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", core.WrapError(core.ErrTransient, "reasoning_call_failed", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", core.WrapError(core.ErrTransient, "reasoning_parse_failed", err)
	}
	if len(resp.Content) == 0 {
		return "", core.NewError(core.ErrTransient, "reasoning_empty_response", "no content blocks returned")
	}
	return resp.Content[0].Text, nil
}
