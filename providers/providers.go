// Package providers holds the pluggable analysis capabilities behind
// uniform contracts: visual emotion detection, speech-to-text, text
// sentiment, and generative reasoning. Each capability ships a mock
// implementation selected by config, so the pipeline runs end-to-end
// without external services.
package providers

import (
	"context"
	"errors"

	"videoTriage/core"
)

// ErrJobPending is returned by Fetch while an asynchronous job is still
// running. It is not a failure.
var ErrJobPending = errors.New("job still pending")

// VisualInput describes one visual-emotion submission.
type VisualInput struct {
	VideoPath   string
	DurationSec float64
	// ClientToken is stable per (request, modality); providers must not
	// start a second job for a token they have already seen.
	ClientToken string
}

// VisualProvider detects facial emotions over time in a video.
type VisualProvider interface {
	Submit(ctx context.Context, in VisualInput) (handle string, err error)
	Fetch(ctx context.Context, handle string) ([]core.EmotionEvent, error)
	Abort(ctx context.Context, handle string) error
}

// SpeechInput describes one transcription submission.
type SpeechInput struct {
	AudioPath   string
	Language    string
	DurationSec float64
	ClientToken string
}

// SpeechProvider transcribes audio with per-word timestamps.
type SpeechProvider interface {
	Submit(ctx context.Context, in SpeechInput) (handle string, err error)
	Fetch(ctx context.Context, handle string) (*core.Transcript, error)
	Abort(ctx context.Context, handle string) error
}

// SentimentProvider scores transcribed speech. It is synchronous; the
// sentiment adapter completes its job within a single bounded poll.
type SentimentProvider interface {
	Analyze(ctx context.Context, tr core.Transcript, language string) ([]core.Utterance, error)
}

// ReasoningRequest carries the structured timeline to the generative
// step. Repair is non-empty on corrective re-prompts and names the schema
// violation of the previous attempt.
type ReasoningRequest struct {
	Summary     core.TimelineSummary
	Instruction string
	Repair      string
	PriorOutput string
}

// ReasoningProvider produces the raw model text for one assessment. The
// fusion engine owns parsing and validation; providers never interpret
// their own output.
type ReasoningProvider interface {
	Assess(ctx context.Context, req ReasoningRequest) (string, error)
}
