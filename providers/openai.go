package providers

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoTriage/core"
)

const openAIRequestTimeout = 120 * time.Second

// OpenAIReasoning calls an OpenAI-compatible chat completions endpoint
// for the fusion step.
type OpenAIReasoning struct {
	cli   *openai.Client
	model string
}

func NewOpenAIReasoning(apiKey, baseURL, model string) *OpenAIReasoning {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: openAIRequestTimeout}
	return &OpenAIReasoning{cli: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIReasoning) Assess(ctx context.Context, req ReasoningRequest) (string, error) {
	prompt, err := renderPrompt(req)
	if err != nil {
		return "", core.WrapError(core.ErrPermanent, "prompt_build_failed", err)
	}

	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", core.WrapError(core.ErrTransient, "reasoning_call_failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewError(core.ErrTransient, "reasoning_empty_response", "no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
